package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// Event names pushed by the vision backend.
const (
	EventVideoFrame   = "video_frame"
	EventThreatStatus = "threat_status"
)

// Event is a discriminated union of backend events.
// Check the concrete type via type switch.
type Event interface {
	eventName() string
}

// Color is a three channel color in backend (BGR) order.
type Color []float64

// CSS returns the color as an rgb() string with the channels reversed.
// Fewer than three channels yields an empty string, leaving the badge uncolored.
func (c Color) CSS() string {
	if len(c) < 3 {
		return ""
	}
	return "rgb(" + channel(c[2]) + ", " + channel(c[1]) + ", " + channel(c[0]) + ")"
}

func channel(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// StatusEvent carries the current threat level and its badge color.
type StatusEvent struct {
	Level string `json:"level"`
	Color Color  `json:"color"`
}

func (StatusEvent) eventName() string { return EventThreatStatus }

// FrameEvent carries one base64 encoded JPEG frame.
type FrameEvent struct {
	Image string `json:"image"`
}

func (FrameEvent) eventName() string { return EventVideoFrame }

// DataURI returns the frame as an inline image source.
func (e FrameEvent) DataURI() string {
	return "data:image/jpeg;base64," + e.Image
}

// UnknownEvent holds events the dashboard does not render.
type UnknownEvent struct {
	Name string
	Raw  json.RawMessage
}

func (e UnknownEvent) eventName() string { return e.Name }

// ParseEvent unmarshals an event payload into the matching Event type.
// Fields are decoded independently: a missing or mistyped field is left at its
// zero value and the rest of the event still applies. Only a payload that is
// not JSON at all is an error.
func ParseEvent(name string, data []byte) (Event, error) {
	switch name {
	case EventThreatStatus:
		fields, err := payloadFields(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		var e StatusEvent
		decodeField(fields, "level", &e.Level)
		decodeField(fields, "color", &e.Color)
		return e, nil
	case EventVideoFrame:
		fields, err := payloadFields(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		var e FrameEvent
		decodeField(fields, "image", &e.Image)
		return e, nil
	default:
		return UnknownEvent{Name: name, Raw: data}, nil
	}
}

// payloadFields splits a JSON object into its raw fields. Empty payloads and
// JSON values that are not objects yield no fields.
func payloadFields(data []byte) (map[string]json.RawMessage, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, errors.New("invalid json payload")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, nil
	}
	return fields, nil
}

func decodeField[T any](fields map[string]json.RawMessage, key string, dst *T) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.Debug("ignore malformed field", "field", key, "error", err)
		return
	}
	*dst = v
}
