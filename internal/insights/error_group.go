package insights

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/gosight/gosight/signals/internal/models"
)

var (
	lineColRe = regexp.MustCompile(`:\d+(:\d+)?`)
	queryRe   = regexp.MustCompile(`\?[^\s):]*`)
)

// normalizeStack strips line/column numbers and cache-busting query strings
// so the same error from two builds groups together.
func normalizeStack(stack string) string {
	if stack == "" {
		return ""
	}
	lines := strings.Split(stack, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = queryRe.ReplaceAllString(l, "")
		l = lineColRe.ReplaceAllString(l, "")
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// Fingerprint hashes an error's identity.
func Fingerprint(name, message, normalizedStack string) string {
	sum := sha256.Sum256([]byte(name + "\x00" + message + "\x00" + normalizedStack))
	return hex.EncodeToString(sum[:])[:32]
}

// GroupErrors folds every embedded error reference into ErrorGroups.
// Samples without a timestamp are skipped. Output is ordered by count, then
// fingerprint, so it does not depend on input order.
func GroupErrors(samples []models.PerformanceSample) []ErrorGroup {
	groups := make(map[string]*ErrorGroup)
	sessions := make(map[string]map[string]struct{})
	pages := make(map[string]map[string]struct{})

	for _, s := range samples {
		if s.Timestamp <= 0 {
			continue
		}
		for _, ref := range s.JSErrors {
			if ref.Name == "" && ref.Message == "" {
				continue
			}
			stack := normalizeStack(ref.Stack)
			fp := Fingerprint(ref.Name, ref.Message, stack)

			g, ok := groups[fp]
			if !ok {
				g = &ErrorGroup{
					Fingerprint:     fp,
					Name:            ref.Name,
					Message:         ref.Message,
					NormalizedStack: stack,
					FirstSeen:       s.Timestamp,
					LastSeen:        s.Timestamp,
				}
				groups[fp] = g
				sessions[fp] = make(map[string]struct{})
				pages[fp] = make(map[string]struct{})
			}
			g.Count++
			if s.SessionID != "" {
				sessions[fp][s.SessionID] = struct{}{}
			}
			if s.PageURL != "" {
				pages[fp][s.PageURL] = struct{}{}
			}
			if s.Timestamp < g.FirstSeen {
				g.FirstSeen = s.Timestamp
			}
			if s.Timestamp > g.LastSeen {
				g.LastSeen = s.Timestamp
			}
		}
	}

	out := make([]ErrorGroup, 0, len(groups))
	for fp, g := range groups {
		g.Sessions = sortedSet(sessions[fp])
		g.Pages = sortedSet(pages[fp])
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

// ErrorSessions lists the sessions that reported any error.
func ErrorSessions(groups []ErrorGroup) []string {
	set := make(map[string]struct{})
	for _, g := range groups {
		for _, s := range g.Sessions {
			set[s] = struct{}{}
		}
	}
	return sortedSet(set)
}
