// Package types provides shared type definitions for the application.
package types

// DefaultMaxLogs is the number of security log entries kept when not configured.
const DefaultMaxLogs = 10

// DefaultThreatMarker is the substring that flags a status level as a threat.
const DefaultThreatMarker = "THREAT"

// InitialLevel is the status level shown before the backend reports anything.
const InitialLevel = "INITIALIZING"

// LogEntry represents one line of the security log.
type LogEntry struct {
	ID   string `json:"id"`   // Stable render key
	Time string `json:"time"` // Formatted wall-clock time
	Msg  string `json:"msg"`  // Status level that triggered the entry
}

// Status is the render-ready status badge.
type Status struct {
	Level string    `json:"level"`
	Color []float64 `json:"color"` // As received (BGR)
	CSS   string    `json:"css"`   // rgb(...) after channel reversal
}

// Snapshot is the complete render state pushed to dashboard viewers.
type Snapshot struct {
	Image     string     `json:"image"` // data URI, empty until the first frame
	Status    Status     `json:"status"`
	Logs      []LogEntry `json:"logs"`
	Connected bool       `json:"connected"`
	Seq       uint64     `json:"seq"` // Increments on every state change
}
