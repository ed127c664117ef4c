// Package dashboard turns backend status and frame events into render-ready
// dashboard state.
package dashboard

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.ghostvision.dev/dashboard/internal/types"
)

// State is the dashboard's render state.
type State struct {
	Image  string // data URI of the latest frame
	Status StatusEvent
	Logs   []types.LogEntry // Newest first

	// PrevLevel is the last distinct status level seen. It only detects changes.
	PrevLevel string
}

// InitialState returns the state shown before any event arrives.
func InitialState() State {
	return State{
		Status: StatusEvent{
			Level: types.InitialLevel,
			Color: Color{255, 255, 255},
		},
	}
}

// Reducer applies events to State. Reduce never modifies its input.
type Reducer struct {
	Marker  string                 // Threat marker substring
	MaxLogs int                    // Log capacity
	Format  func(time.Time) string // Log timestamp format
	NewID   func() string          // Log entry ids
}

// NewReducer creates a reducer. Zero values are replaced with defaults.
func NewReducer(marker string, maxLogs int, tf TimeFormatter) Reducer {
	if marker == "" {
		marker = types.DefaultThreatMarker
	}
	if maxLogs <= 0 {
		maxLogs = types.DefaultMaxLogs
	}
	return Reducer{
		Marker:  marker,
		MaxLogs: maxLogs,
		Format:  tf.Format,
		NewID:   uuid.NewString,
	}
}

// IsThreat reports whether level carries the threat marker.
func (r Reducer) IsThreat(level string) bool {
	return strings.Contains(level, r.marker())
}

// Reduce returns the state after ev was received at now.
//
// A status event always replaces the displayed status. It adds a log entry
// only when its level is a threat and differs from the last distinct level;
// a non-threat change just re-arms detection. Frames replace the image.
func (r Reducer) Reduce(s State, ev Event, now time.Time) State {
	switch e := ev.(type) {
	case FrameEvent:
		s.Image = e.DataURI()

	case StatusEvent:
		s.Status = e
		if e.Level == s.PrevLevel {
			return s
		}
		if r.IsThreat(e.Level) {
			s.Logs = r.prepend(s.Logs, types.LogEntry{
				ID:   r.newID(),
				Time: r.format(now),
				Msg:  e.Level,
			})
		}
		s.PrevLevel = e.Level
	}
	return s
}

// prepend returns a new slice with entry first, truncated to MaxLogs.
func (r Reducer) prepend(logs []types.LogEntry, entry types.LogEntry) []types.LogEntry {
	limit := r.maxLogs()
	keep := min(len(logs), limit-1)

	out := make([]types.LogEntry, 0, keep+1)
	out = append(out, entry)
	return append(out, logs[:keep]...)
}

func (r Reducer) marker() string {
	if r.Marker == "" {
		return types.DefaultThreatMarker
	}
	return r.Marker
}

func (r Reducer) maxLogs() int {
	if r.MaxLogs <= 0 {
		return types.DefaultMaxLogs
	}
	return r.MaxLogs
}

func (r Reducer) format(t time.Time) string {
	if r.Format == nil {
		return TimeFormatter{}.Format(t)
	}
	return r.Format(t)
}

func (r Reducer) newID() string {
	if r.NewID == nil {
		return uuid.NewString()
	}
	return r.NewID()
}
