package dashboard

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.ghostvision.dev/dashboard/internal/types"
	"go.ghostvision.dev/dashboard/socketio"
)

// EventSource delivers named push events. *socketio.Client implements it.
type EventSource interface {
	On(event string, fn socketio.Handler) (off func())
}

// Config holds configuration for the dashboard service.
type Config struct {
	ThreatMarker string           // Default: types.DefaultThreatMarker
	MaxLogs      int              // Default: types.DefaultMaxLogs
	Locale       string           // Default: "en-US"
	Clock        func() time.Time // Default: time.Now
}

// Service owns the dashboard state and fans snapshots out to watchers.
type Service struct {
	reducer Reducer
	now     func() time.Time

	mu        sync.RWMutex
	state     State
	connected bool
	seq       uint64
	watchers  map[string]chan types.Snapshot
}

// NewService creates a dashboard service in its initial state.
func NewService(cfg Config) *Service {
	if cfg.Locale == "" {
		cfg.Locale = "en-US"
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Service{
		reducer:  NewReducer(cfg.ThreatMarker, cfg.MaxLogs, NewTimeFormatter(cfg.Locale)),
		now:      cfg.Clock,
		state:    InitialState(),
		watchers: make(map[string]chan types.Snapshot),
	}
}

// Apply reduces ev into the current state and notifies watchers.
func (s *Service) Apply(ev Event) {
	if _, ok := ev.(UnknownEvent); ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.reducer.Reduce(s.state, ev, s.now())
	if logAdded(s.state.Logs, next.Logs) {
		slog.Info("threat logged", "level", next.Logs[0].Msg, "time", next.Logs[0].Time)
	} else if next.PrevLevel != s.state.PrevLevel {
		slog.Debug("status changed", "level", next.PrevLevel)
	}
	s.state = next

	s.publishLocked()
}

func logAdded(before, after []types.LogEntry) bool {
	if len(after) == 0 {
		return false
	}
	return len(before) == 0 || before[0].ID != after[0].ID
}

// SetConnected records whether the backend connection is up.
func (s *Service) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected == connected {
		return
	}
	s.connected = connected
	s.publishLocked()
}

// State returns a copy of the reducer state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state
	st.Logs = slices.Clone(st.Logs)
	return st
}

// Snapshot returns the current render-ready state.
func (s *Service) Snapshot() types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() types.Snapshot {
	logs := slices.Clone(s.state.Logs)
	if logs == nil {
		logs = []types.LogEntry{}
	}
	return types.Snapshot{
		Image: s.state.Image,
		Status: types.Status{
			Level: s.state.Status.Level,
			Color: []float64(s.state.Status.Color),
			CSS:   s.state.Status.Color.CSS(),
		},
		Logs:      logs,
		Connected: s.connected,
		Seq:       s.seq,
	}
}

// Watch returns a channel that always holds the latest snapshot, starting with
// the current one. Slow readers skip intermediate snapshots. Call cancel to
// stop watching; it closes the channel.
func (s *Service) Watch() (<-chan types.Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan types.Snapshot, 1)
	ch <- s.snapshotLocked()
	s.watchers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers, id)
			close(ch)
		})
	}
	return ch, cancel
}

// publishLocked bumps the sequence and hands the new snapshot to every watcher.
func (s *Service) publishLocked() {
	s.seq++
	if len(s.watchers) == 0 {
		return
	}

	snap := s.snapshotLocked()
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Subscription
// ─────────────────────────────────────────────────────────────────────────────

// Mount is the handle for a dashboard's subscriptions to an EventSource.
type Mount struct {
	offs []func()
	once sync.Once
}

// Mount subscribes the service to frame, status and connection lifecycle
// events from src. Call Unmount on the returned handle to release them.
func (s *Service) Mount(src EventSource) *Mount {
	m := &Mount{}
	m.offs = append(m.offs,
		src.On(EventVideoFrame, s.handle(EventVideoFrame)),
		src.On(EventThreatStatus, s.handle(EventThreatStatus)),
		src.On(socketio.EventConnect, func(json.RawMessage) { s.SetConnected(true) }),
		src.On(socketio.EventDisconnect, func(json.RawMessage) { s.SetConnected(false) }),
	)
	return m
}

// Unmount releases all subscriptions. It is safe to call more than once.
func (m *Mount) Unmount() {
	m.once.Do(func() {
		for _, off := range m.offs {
			off()
		}
	})
}

func (s *Service) handle(name string) socketio.Handler {
	return func(data json.RawMessage) {
		ev, err := ParseEvent(name, data)
		if err != nil {
			slog.Debug("drop malformed event", "event", name, "error", err)
			return
		}
		s.Apply(ev)
	}
}
