package dashboard

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"go.ghostvision.dev/dashboard/internal/types"
)

func testReducer() Reducer {
	n := 0
	return Reducer{
		Marker:  "THREAT",
		MaxLogs: 10,
		Format:  func(t time.Time) string { return t.Format("15:04:05") },
		NewID: func() string {
			n++
			return fmt.Sprintf("log-%d", n)
		},
	}
}

func status(level string) StatusEvent {
	return StatusEvent{Level: level, Color: Color{0, 0, 255}}
}

func reduceLevels(r Reducer, s State, levels ...string) State {
	now := time.Date(2026, 1, 2, 14, 5, 9, 0, time.UTC)
	for _, l := range levels {
		s = r.Reduce(s, status(l), now)
		now = now.Add(time.Second)
	}
	return s
}

func logMessages(s State) []string {
	msgs := make([]string, len(s.Logs))
	for i, e := range s.Logs {
		msgs[i] = e.Msg
	}
	return msgs
}

func TestReducer_StatusSequence(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		wantLogs int
		wantPrev string
	}{
		{
			name:     "1. clear level arms detection",
			level:    "SECURE",
			wantLogs: 0,
			wantPrev: "SECURE",
		},
		{
			name:     "2. threat after clear is logged",
			level:    "THREAT_A",
			wantLogs: 1,
			wantPrev: "THREAT_A",
		},
		{
			name:     "3. repeated threat is suppressed",
			level:    "THREAT_A",
			wantLogs: 1,
			wantPrev: "THREAT_A",
		},
		{
			name:     "4. clear again re-arms",
			level:    "SECURE",
			wantLogs: 1,
			wantPrev: "SECURE",
		},
		{
			name:     "5. same threat is logged again",
			level:    "THREAT_A",
			wantLogs: 2,
			wantPrev: "THREAT_A",
		},
	}

	r := testReducer()
	s := InitialState()
	now := time.Now()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now = now.Add(time.Second)
			s = r.Reduce(s, status(tt.level), now)

			if len(s.Logs) != tt.wantLogs {
				t.Errorf("len(Logs) = %d, want %d", len(s.Logs), tt.wantLogs)
			}
			if s.PrevLevel != tt.wantPrev {
				t.Errorf("PrevLevel = %q, want %q", s.PrevLevel, tt.wantPrev)
			}
			if s.Status.Level != tt.level {
				t.Errorf("Status.Level = %q, want %q", s.Status.Level, tt.level)
			}
		})
	}
}

func TestReducer_Transitions(t *testing.T) {
	tests := []struct {
		name   string
		levels []string
		want   []string // log messages, newest first
	}{
		{
			name:   "consecutive identical threats log once",
			levels: []string{"THREAT: UNKNOWN SUBJECT", "THREAT: UNKNOWN SUBJECT"},
			want:   []string{"THREAT: UNKNOWN SUBJECT"},
		},
		{
			name:   "threat clear threat logs twice",
			levels: []string{"THREAT: UNKNOWN SUBJECT", "CLEAR", "THREAT: UNKNOWN SUBJECT"},
			want:   []string{"THREAT: UNKNOWN SUBJECT", "THREAT: UNKNOWN SUBJECT"},
		},
		{
			name:   "distinct threats back to back",
			levels: []string{"THREAT: UNKNOWN SUBJECT", "THREAT: IDENTITY CONCEALED"},
			want:   []string{"THREAT: IDENTITY CONCEALED", "THREAT: UNKNOWN SUBJECT"},
		},
		{
			name:   "clear levels never log",
			levels: []string{"SYSTEM WARMING UP...", "CLEAR", "AUTHORIZED: MASTER DETECTED", "CLEAR"},
			want:   []string{},
		},
		{
			name:   "marker is case sensitive",
			levels: []string{"threat: lowercase"},
			want:   []string{},
		},
		{
			name:   "empty level matches the empty tracker",
			levels: []string{""},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := reduceLevels(testReducer(), InitialState(), tt.levels...)

			got := logMessages(s)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("logs = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReducer_LogCapKeepsNewest(t *testing.T) {
	r := testReducer()
	s := InitialState()

	for i := range 25 {
		s = reduceLevels(r, s, fmt.Sprintf("THREAT %d", i))
	}

	if len(s.Logs) != 10 {
		t.Fatalf("len(Logs) = %d, want 10", len(s.Logs))
	}
	if s.Logs[0].Msg != "THREAT 24" {
		t.Errorf("Logs[0].Msg = %q, want %q", s.Logs[0].Msg, "THREAT 24")
	}
	if s.Logs[9].Msg != "THREAT 15" {
		t.Errorf("Logs[9].Msg = %q, want %q", s.Logs[9].Msg, "THREAT 15")
	}
}

func TestReducer_EntryFields(t *testing.T) {
	r := testReducer()
	now := time.Date(2026, 1, 2, 14, 5, 9, 0, time.UTC)

	s := r.Reduce(InitialState(), status("THREAT: UNKNOWN SUBJECT"), now)

	if len(s.Logs) != 1 {
		t.Fatalf("len(Logs) = %d, want 1", len(s.Logs))
	}
	want := types.LogEntry{ID: "log-1", Time: "14:05:09", Msg: "THREAT: UNKNOWN SUBJECT"}
	if s.Logs[0] != want {
		t.Errorf("Logs[0] = %+v, want %+v", s.Logs[0], want)
	}
}

func TestReducer_StatusAlwaysReplaced(t *testing.T) {
	r := testReducer()
	now := time.Now()

	s := r.Reduce(InitialState(), StatusEvent{Level: "THREAT_A", Color: Color{0, 0, 255}}, now)
	s = r.Reduce(s, StatusEvent{Level: "THREAT_A", Color: Color{0, 255, 0}}, now)

	if got := s.Status.Color.CSS(); got != "rgb(0, 255, 0)" {
		t.Errorf("Status color = %q, want %q", got, "rgb(0, 255, 0)")
	}
	if len(s.Logs) != 1 {
		t.Errorf("len(Logs) = %d, want 1", len(s.Logs))
	}
}

func TestReducer_FramesReplaceImage(t *testing.T) {
	r := testReducer()
	now := time.Now()

	s := r.Reduce(InitialState(), FrameEvent{Image: "Zmlyc3Q="}, now)
	if s.Image != "data:image/jpeg;base64,Zmlyc3Q=" {
		t.Errorf("Image = %q", s.Image)
	}

	s = r.Reduce(s, FrameEvent{Image: "c2Vjb25k"}, now)
	s = r.Reduce(s, FrameEvent{Image: "c2Vjb25k"}, now)
	if s.Image != "data:image/jpeg;base64,c2Vjb25k" {
		t.Errorf("Image = %q", s.Image)
	}

	if len(s.Logs) != 0 || s.PrevLevel != "" || s.Status.Level != types.InitialLevel {
		t.Errorf("frame touched status state: %+v", s)
	}
}

func TestReducer_DoesNotMutateInput(t *testing.T) {
	r := testReducer()
	full := InitialState()
	for i := range 10 {
		full = reduceLevels(r, full, fmt.Sprintf("THREAT %d", i))
	}
	before := logMessages(full)

	next := reduceLevels(r, full, "THREAT new")

	if got := logMessages(full); strings.Join(got, "|") != strings.Join(before, "|") {
		t.Errorf("input logs changed: %q, want %q", got, before)
	}
	if next.Logs[0].Msg != "THREAT new" || len(next.Logs) != 10 {
		t.Errorf("next logs = %q", logMessages(next))
	}
}

func TestReducer_ZeroValueDefaults(t *testing.T) {
	var r Reducer
	s := r.Reduce(InitialState(), status("THREAT_A"), time.Date(2026, 1, 2, 9, 1, 2, 0, time.UTC))

	if len(s.Logs) != 1 {
		t.Fatalf("len(Logs) = %d, want 1", len(s.Logs))
	}
	if s.Logs[0].ID == "" {
		t.Error("ID should not be empty")
	}
	if s.Logs[0].Time != "09:01:02" {
		t.Errorf("Time = %q, want %q", s.Logs[0].Time, "09:01:02")
	}
}

func TestReducer_RandomSequences(t *testing.T) {
	levels := []string{"CLEAR", "SECURE", "THREAT_A", "THREAT_B", "AUTHORIZED"}
	rng := rand.New(rand.NewPCG(7, 11))
	r := testReducer()

	for run := range 50 {
		s := InitialState()
		prev := ""

		for step := range 200 {
			level := levels[rng.IntN(len(levels))]
			before := len(s.Logs)
			var head string
			if before > 0 {
				head = s.Logs[0].ID
			}

			s = r.Reduce(s, status(level), time.Now())

			added := len(s.Logs) > 0 && s.Logs[0].ID != head
			want := strings.Contains(level, "THREAT") && level != prev
			if added != want {
				t.Fatalf("run %d step %d level %q prev %q: added = %v, want %v", run, step, level, prev, added, want)
			}
			if len(s.Logs) > 10 {
				t.Fatalf("run %d step %d: len(Logs) = %d", run, step, len(s.Logs))
			}
			if s.Status.Level != level {
				t.Fatalf("run %d step %d: Status.Level = %q, want %q", run, step, s.Status.Level, level)
			}
			if level != prev {
				prev = level
			}
		}
	}
}

func TestNewReducer_Defaults(t *testing.T) {
	r := NewReducer("", 0, NewTimeFormatter("en-GB"))
	if r.Marker != types.DefaultThreatMarker {
		t.Errorf("Marker = %q, want %q", r.Marker, types.DefaultThreatMarker)
	}
	if r.MaxLogs != types.DefaultMaxLogs {
		t.Errorf("MaxLogs = %d, want %d", r.MaxLogs, types.DefaultMaxLogs)
	}
	if !r.IsThreat("THREAT: UNKNOWN SUBJECT") || r.IsThreat("CLEAR") {
		t.Error("IsThreat does not honour the default marker")
	}

	custom := NewReducer("ALERT", 3, TimeFormatter{})
	s := reduceLevels(custom, InitialState(), "ALERT 1", "ALERT 2", "THREAT", "ALERT 3", "ALERT 4")
	if got := logMessages(s); strings.Join(got, "|") != "ALERT 4|ALERT 3|ALERT 2" {
		t.Errorf("logs = %q", got)
	}
}
