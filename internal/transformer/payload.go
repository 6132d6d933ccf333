package transformer

import (
	"github.com/goccy/go-json"

	"github.com/gosight/gosight/signals/internal/models"
)

// DecodePayload parses the JSON payload column stored with every event.
// An empty payload decodes to nil without error.
func DecodePayload(payload string) (map[string]interface{}, error) {
	if payload == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ApplyPayload fills the payload-derived fields of an interaction event:
// click/scroll position, element key and the follow-up flag.
func ApplyPayload(ev *models.InteractionEvent, payload map[string]interface{}) {
	if payload == nil {
		if ev.EventType == models.EventClick {
			ev.ElementKey = models.ElementKey("", nil, "", "")
		}
		return
	}

	// Click coordinates, or scroll offsets for scroll events
	x, okX := getFloat64(payload, "x")
	y, okY := getFloat64(payload, "y")
	if !okX && !okY && ev.EventType == models.EventScroll {
		x, okX = getFloat64(payload, "scroll_x")
		y, okY = getFloat64(payload, "scroll_y")
	}
	if okX && okY {
		ev.Position = &models.Point{X: x, Y: y}
	}

	// Viewport may be carried by the payload when the page info lacks it
	if ev.Viewport == nil {
		w := getInt(payload, "viewport_width")
		h := getInt(payload, "viewport_height")
		if w > 0 && h > 0 {
			ev.Viewport = &models.Viewport{Width: w, Height: h}
		}
	}

	if ev.EventType == models.EventClick {
		ev.ElementKey = models.ElementKey(
			getString(payload, "target_id"),
			getStrings(payload, "target_classes"),
			getString(payload, "target_tag"),
			getString(payload, "target_text"),
		)
	}

	if v, ok := payload["follow_up"].(bool); ok {
		ev.FollowUp = &v
	}
}

// ErrorRefFromPayload extracts an error reference from a js_error payload,
// accepting both the SDK's camelCase and the snake_case spelling.
func ErrorRefFromPayload(payload map[string]interface{}) (models.ErrorRef, bool) {
	name := getString(payload, "error_type")
	if name == "" {
		name = getString(payload, "errorType")
	}
	ref := models.ErrorRef{
		Name:    name,
		Message: getString(payload, "message"),
		Stack:   getString(payload, "stack"),
	}
	if ref.Name == "" && ref.Message == "" {
		return models.ErrorRef{}, false
	}
	return ref, true
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getStrings(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if s, ok := c.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}

func getFloat64(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key].(float64)
	return v, ok
}
