package web

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voiceloop/internal/log"
	"github.com/teslashibe/go-voiceloop/pkg/session"
	"github.com/teslashibe/go-voiceloop/pkg/telemetry"
)

type fakeController struct {
	mu        sync.Mutex
	recording bool
	stops     int
	events    chan session.Event
}

func newFake() *fakeController {
	return &fakeController{events: make(chan session.Event, 8)}
}

func (f *fakeController) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Status{State: "listening", Recording: f.recording, Language: "en"}
}

func (f *fakeController) SetRecording(on bool) {
	f.mu.Lock()
	f.recording = on
	f.mu.Unlock()
}

func (f *fakeController) ToggleRecording() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recording = !f.recording
	return f.recording
}

func (f *fakeController) StopPlayback() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return true
}

func (f *fakeController) Turns() []session.TurnMetrics {
	return []session.TurnMetrics{{UtteranceID: "u1", Outcome: session.OutcomeSpoken, Total: time.Second}}
}

func (f *fakeController) Subscribe() (<-chan session.Event, func()) {
	return f.events, func() {}
}

func doJSON(t *testing.T, s *Server, method, path, body string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if out != nil {
		if err := sonic.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, data)
		}
	}
	return resp.StatusCode
}

func TestServer_Status(t *testing.T) {
	ctrl := newFake()
	s := NewServer("127.0.0.1:0", ctrl, WithLogger(log.Discard()))

	var st session.Status
	if code := doJSON(t, s, "GET", "/api/status", "", &st); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if st.State != "listening" || st.Language != "en" {
		t.Errorf("unexpected status %+v", st)
	}

	var health map[string]string
	doJSON(t, s, "GET", "/healthz", "", &health)
	if health["status"] != "ok" {
		t.Errorf("unexpected health %v", health)
	}
}

func TestServer_Recording(t *testing.T) {
	ctrl := newFake()
	s := NewServer("127.0.0.1:0", ctrl, WithLogger(log.Discard()))

	var resp map[string]bool
	if code := doJSON(t, s, "POST", "/api/recording", `{"enabled":true}`, &resp); code != http.StatusOK {
		t.Fatalf("code %d", code)
	}
	if !resp["recording"] || !ctrl.Status().Recording {
		t.Error("recording not enabled")
	}

	doJSON(t, s, "POST", "/api/recording/toggle", "", &resp)
	if resp["recording"] || ctrl.Status().Recording {
		t.Error("toggle did not disable recording")
	}

	if code := doJSON(t, s, "POST", "/api/recording", `{}`, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing field, got %d", code)
	}
}

func TestServer_StopPlaybackAndTurns(t *testing.T) {
	ctrl := newFake()
	s := NewServer("127.0.0.1:0", ctrl, WithLogger(log.Discard()))

	var resp map[string]bool
	doJSON(t, s, "POST", "/api/playback/stop", "", &resp)
	if !resp["stopped"] || ctrl.stops != 1 {
		t.Errorf("stop not forwarded: %v", resp)
	}

	var turns []session.TurnMetrics
	doJSON(t, s, "GET", "/api/turns", "", &turns)
	if len(turns) != 1 || turns[0].UtteranceID != "u1" {
		t.Errorf("unexpected turns %+v", turns)
	}
}

func TestServer_Metrics(t *testing.T) {
	tel := telemetry.NewMetrics("voiceloop")
	tel.RecordTurn("spoken")
	s := NewServer("127.0.0.1:0", newFake(), WithLogger(log.Discard()), WithMetrics(tel.Handler()))

	resp, err := s.App().Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `voiceloop_turns_total{outcome="spoken"} 1`) {
		t.Errorf("metrics output missing turn counter:\n%s", body)
	}
}

func TestServer_WebsocketUpgradeRequired(t *testing.T) {
	s := NewServer("127.0.0.1:0", newFake(), WithLogger(log.Discard()))
	resp, err := s.App().Test(httptest.NewRequest("GET", "/ws/events", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("expected 426, got %d", resp.StatusCode)
	}
}

func TestServer_EventFeed(t *testing.T) {
	ctrl := newFake()
	s := NewServer("127.0.0.1:0", ctrl, WithLogger(log.Discard()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	}()

	url := "ws://" + ln.Addr().String() + "/ws/events"
	var conn *websocket.Conn
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer conn.Close()

	// Registration is asynchronous; resend until the client sees an event.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make(chan session.Event, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev session.Event
		if sonic.Unmarshal(data, &ev) == nil {
			got <- ev
		}
	}()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-got:
			if ev.Type != session.EventReply || ev.Text != "hello" {
				t.Errorf("unexpected event %+v", ev)
			}
			return
		case <-ticker.C:
			select {
			case ctrl.events <- session.Event{Type: session.EventReply, Text: "hello", State: "speaking"}:
			default:
			}
		case <-timeout:
			t.Fatal("no event received")
		}
	}
}
