package models

import (
	"strings"
	"unicode/utf8"
)

// EventType is the interaction kind recorded by the browser SDK.
type EventType string

const (
	EventClick    EventType = "click"
	EventScroll   EventType = "scroll"
	EventInput    EventType = "input"
	EventPageView EventType = "pageview"
	EventCustom   EventType = "custom"
)

// ParseEventType maps SDK and proto enum spellings onto EventType.
func ParseEventType(s string) (EventType, bool) {
	switch s {
	case "click", "EVENT_TYPE_CLICK":
		return EventClick, true
	case "scroll", "EVENT_TYPE_SCROLL":
		return EventScroll, true
	case "input", "EVENT_TYPE_INPUT":
		return EventInput, true
	case "pageview", "page_view", "EVENT_TYPE_PAGE_VIEW":
		return EventPageView, true
	case "custom", "EVENT_TYPE_CUSTOM":
		return EventCustom, true
	}
	return "", false
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// InteractionEvent is a stored browser interaction. Timestamp is unix milliseconds.
type InteractionEvent struct {
	SessionID  string    `json:"session_id"`
	ProjectID  string    `json:"project_id"`
	PageURL    string    `json:"page_url"`
	EventType  EventType `json:"event_type"`
	Timestamp  int64     `json:"timestamp"`
	ElementKey string    `json:"element_key,omitempty"`
	Position   *Point    `json:"position,omitempty"`
	Viewport   *Viewport `json:"viewport,omitempty"`
	DeviceType string    `json:"device_type,omitempty"`

	// FollowUp reports whether a click caused navigation or a DOM mutation.
	// nil when the SDK did not observe it.
	FollowUp *bool `json:"follow_up,omitempty"`
}

// ErrorRef is a JavaScript error captured alongside a performance sample.
type ErrorRef struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

type PerformanceSample struct {
	SessionID string     `json:"session_id"`
	ProjectID string     `json:"project_id"`
	PageURL   string     `json:"page_url"`
	Timestamp int64      `json:"timestamp"`
	LCP       *float64   `json:"lcp,omitempty"`
	CLS       *float64   `json:"cls,omitempty"`
	INP       *float64   `json:"inp,omitempty"`
	JSErrors  []ErrorRef `json:"js_errors,omitempty"`
}

const (
	unknownElement = "unknown"
	maxTextKeyLen  = 32
)

// ElementKey derives the clustering identity of a clicked element: the id,
// else tag and classes, else a text snippet, else "unknown".
func ElementKey(id string, classes []string, tag, text string) string {
	if id = strings.TrimSpace(id); id != "" {
		return "#" + id
	}

	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(tag)))
	for _, c := range classes {
		if c = strings.TrimSpace(c); c != "" {
			b.WriteByte('.')
			b.WriteString(c)
		}
	}
	if b.Len() > 0 {
		return b.String()
	}

	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return unknownElement
	}
	if utf8.RuneCountInString(text) > maxTextKeyLen {
		text = string([]rune(text)[:maxTextKeyLen])
	}
	return "text:" + text
}
