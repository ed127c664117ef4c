package app

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.ghostvision.dev/dashboard/config"
	"nhooyr.io/websocket"
)

// newFakeBackend starts a Socket.IO backend that completes the handshake,
// sends frames and then idles until the client leaves.
func newFakeBackend(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		open := `0{"sid":"s1","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`
		if err := conn.Write(ctx, websocket.MessageText, []byte(open)); err != nil {
			return
		}
		if _, data, err := conn.Read(ctx); err != nil || string(data) != "40" {
			return
		}
		out := append([]string{`40{"sid":"n1"}`}, frames...)
		for _, f := range out {
			if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(backendURL string) *config.Config {
	cfg := config.Default()
	cfg.BackendURL = backendURL
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Reconnect.DelayMs = 10
	cfg.Reconnect.MaxDelayMs = 50
	return cfg
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.BackendURL = "ftp://nowhere"

	if _, err := New(cfg, "test"); err == nil {
		t.Fatal("New() error = nil, want error")
	}
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	s, err := New(nil, "v1.2.3")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Shutdown()

	if s.GetVersion() != "v1.2.3" {
		t.Errorf("GetVersion() = %q", s.GetVersion())
	}
	if !strings.HasPrefix(s.client.URL(), "ws://127.0.0.1:5000/socket.io/") {
		t.Errorf("client URL = %q", s.client.URL())
	}
}

func TestBackoffFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Reconnect.DelayMs = 250
	cfg.Reconnect.MaxDelayMs = 2000
	zero := 0.0
	cfg.Reconnect.Randomization = &zero

	b := backoffFromConfig(cfg)

	if b.Min != 250*time.Millisecond || b.Max != 2*time.Second {
		t.Errorf("Min/Max = %v/%v", b.Min, b.Max)
	}
	if b.Factor != 2 || b.Jitter != 0 {
		t.Errorf("Factor/Jitter = %v/%v", b.Factor, b.Jitter)
	}
	policy := b.NewPolicy()
	for i, want := range []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second, 2 * time.Second} {
		if got := policy.NextBackOff(); got != want {
			t.Errorf("delay[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestService_RunEndToEnd(t *testing.T) {
	backend := newFakeBackend(t,
		`42["threat_status",{"level":"SECURE","color":[0,255,0]}]`,
		`42["threat_status",{"level":"THREAT: UNKNOWN SUBJECT","color":[0,0,255]}]`,
		`42["video_frame",{"image":"ZnJhbWU="}]`,
	)

	s, err := New(testConfig(backend.URL), "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		snap := s.Dashboard().Snapshot()
		if snap.Connected && len(snap.Logs) == 1 && snap.Image != "" {
			if snap.Logs[0].Msg != "THREAT: UNKNOWN SUBJECT" {
				t.Errorf("Logs[0].Msg = %q", snap.Logs[0].Msg)
			}
			if snap.Status.CSS != "rgb(255, 0, 0)" {
				t.Errorf("Status.CSS = %q", snap.Status.CSS)
			}
			if snap.Image != "data:image/jpeg;base64,ZnJhbWU=" {
				t.Errorf("Image = %q", snap.Image)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dashboard never caught up: %+v", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestService_RunListenError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	cfg := testConfig("http://127.0.0.1:1")
	cfg.ListenAddr = busy.Addr().String()

	s, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "run server") {
			t.Errorf("Run() error = %v, want listen failure", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return on listen failure")
	}
}
