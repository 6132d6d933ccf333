package enricher

import (
	"net"
	"strings"

	"github.com/mssola/useragent"
	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"
)

// Metadata keys a producer may send raw; they are replaced by derived fields.
const (
	KeyUserAgent = "user_agent"
	KeyClientIP  = "client_ip"
)

// Enricher derives participant metadata from a User-Agent and client IP.
type Enricher struct {
	geoIP *geoip2.Reader
}

func NewEnricher(geoIPPath string) *Enricher {
	// Try to load GeoIP database
	var geoIP *geoip2.Reader
	if geoIPPath != "" {
		var err error
		geoIP, err = geoip2.Open(geoIPPath)
		if err != nil {
			log.Warn().Err(err).Str("path", geoIPPath).Msg("GeoIP database unavailable, country lookup disabled")
			geoIP = nil
		}
	}

	return &Enricher{
		geoIP: geoIP,
	}
}

// Enrich returns a copy of meta with browser, OS, device and location fields
// filled in. The raw user_agent and client_ip keys are consumed and never
// copied through. Fields already present in meta are kept.
func (e *Enricher) Enrich(meta map[string]string, userAgentString, clientIP string) map[string]string {
	out := make(map[string]string, len(meta)+6)
	for k, v := range meta {
		switch k {
		case KeyUserAgent:
			if userAgentString == "" {
				userAgentString = v
			}
		case KeyClientIP:
			if clientIP == "" {
				clientIP = v
			}
		default:
			out[k] = v
		}
	}

	// Parse user agent
	if userAgentString != "" {
		ua := useragent.New(userAgentString)
		browser, version := ua.Browser()
		setIfEmpty(out, "browser", browser)
		setIfEmpty(out, "browser_version", version)
		setIfEmpty(out, "os", ua.OS())
		setIfEmpty(out, "device_type", getDeviceType(ua))
	}

	// GeoIP lookup
	if e != nil && e.geoIP != nil && clientIP != "" {
		ip := net.ParseIP(clientIP)
		if ip != nil {
			record, err := e.geoIP.City(ip)
			if err == nil {
				setIfEmpty(out, "country", record.Country.IsoCode)
				if name, ok := record.City.Names["en"]; ok {
					setIfEmpty(out, "city", name)
				}
			}
		}
	}

	return out
}

func setIfEmpty(m map[string]string, key, value string) {
	if value = strings.TrimSpace(value); value == "" {
		return
	}
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

func getDeviceType(ua *useragent.UserAgent) string {
	if ua.Mobile() {
		return "mobile"
	}
	if ua.Bot() {
		return "bot"
	}
	return "desktop"
}

func (e *Enricher) Close() {
	if e != nil && e.geoIP != nil {
		e.geoIP.Close()
	}
}
