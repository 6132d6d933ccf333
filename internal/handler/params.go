package handler

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gosight/gosight/signals/internal/models"
)

const (
	defaultSessionLimit = 100
	maxSessionLimit     = 1000
)

// parseRange reads from/to as unix milliseconds. Both are optional.
func parseRange(r *http.Request) (models.TimeRange, error) {
	var tr models.TimeRange
	var err error
	if tr.From, err = int64Param(r, "from", 0); err != nil {
		return tr, err
	}
	if tr.To, err = int64Param(r, "to", 0); err != nil {
		return tr, err
	}
	return tr, nil
}

func int64Param(r *http.Request, name string, def int64) (int64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return v, nil
}

func floatParam(r *http.Request, name string, def float64) (float64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", errBadRequest, name)
	}
	return v, nil
}

// durationParam accepts Go durations ("90s", "1h") or bare seconds.
func durationParam(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a duration", errBadRequest, name)
	}
	return d, nil
}

func limitParam(r *http.Request) (int, error) {
	v, err := int64Param(r, "limit", defaultSessionLimit)
	if err != nil {
		return 0, err
	}
	if v == 0 || v > maxSessionLimit {
		v = maxSessionLimit
	}
	return int(v), nil
}

// clientIP strips the port RealIP leaves on RemoteAddr when no proxy header
// was present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
