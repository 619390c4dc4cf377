package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"analyzehub/internal/gate"
	"analyzehub/internal/state"
	"analyzehub/internal/statsdb"
	"analyzehub/internal/websocket"

	gws "github.com/gorilla/websocket"
)

type fakeGate struct {
	mu        sync.Mutex
	submitErr error
	submitted []string
	removed   []string
	recent    []string
	cooldown  int
}

func (g *fakeGate) Submit(target string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted = append(g.submitted, target)
	return g.submitErr
}

func (g *fakeGate) RemoveRecent(target string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removed = append(g.removed, target)
	for i, t := range g.recent {
		if t == target {
			g.recent = append(g.recent[:i:i], g.recent[i+1:]...)
			break
		}
	}
	return nil
}

func (g *fakeGate) Recent() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string{}, g.recent...)
}

func (g *fakeGate) CooldownRemaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldown
}

type fakeHistory struct {
	limit int
	stats []statsdb.AnalysisStat
}

func (h *fakeHistory) ListRecentAnalysisStats(_ context.Context, limit int) ([]statsdb.AnalysisStat, error) {
	h.limit = limit
	return h.stats, nil
}

func newTestServer(t *testing.T, g *fakeGate, history HistoryReader) (*Server, *state.Hub, *httptest.Server) {
	t.Helper()
	hub := state.NewHub()
	s, err := New(Options{Port: 5600, Gate: g, State: hub, History: history})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, hub, ts
}

func doRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleAnalyze_StatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		err        error
		body       string
		wantStatus int
	}{
		{"accepted", nil, `{"username":"alice"}`, http.StatusAccepted},
		{"in flight", gate.ErrInFlight, `{"username":"alice"}`, http.StatusConflict},
		{"cooling down", gate.ErrCoolingDown, `{"username":"alice"}`, http.StatusTooManyRequests},
		{"invalid target", gate.ErrInvalidTarget, `{"username":"  "}`, http.StatusBadRequest},
		{"closed", gate.ErrClosed, `{"username":"alice"}`, http.StatusServiceUnavailable},
		{"bad json", nil, `{`, http.StatusBadRequest},
		{"unexpected", errors.New("boom"), `{"username":"alice"}`, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			g := &fakeGate{submitErr: tc.err, cooldown: 42}
			_, _, ts := newTestServer(t, g, nil)

			resp := doRequest(t, http.MethodPost, ts.URL+"/api/analyze", tc.body)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status=%d want %d", resp.StatusCode, tc.wantStatus)
			}
			if tc.err == gate.ErrCoolingDown && resp.Header.Get("Retry-After") != "42" {
				t.Fatalf("Retry-After=%q", resp.Header.Get("Retry-After"))
			}
			if tc.wantStatus != http.StatusAccepted {
				var body map[string]string
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["error"] == "" {
					t.Fatalf("error body=%v err=%v", body, err)
				}
			}
		})
	}
}

func TestHandleState(t *testing.T) {
	t.Parallel()

	g := &fakeGate{}
	_, hub, ts := newTestServer(t, g, nil)
	hub.Merge(state.Partial{Target: state.String("alice"), Result: json.RawMessage(`{"n":1}`)})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/state", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var got state.State
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Target != "alice" || string(got.Result) != `{"n":1}` {
		t.Fatalf("state=%+v", got)
	}
}

func TestHandleRecent(t *testing.T) {
	t.Parallel()

	g := &fakeGate{recent: []string{"bob", "alice smith"}}
	_, _, ts := newTestServer(t, g, nil)

	resp := doRequest(t, http.MethodDelete, ts.URL+"/api/recent/alice%20smith", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if !reflect.DeepEqual(g.removed, []string{"alice smith"}) {
		t.Fatalf("removed=%v", g.removed)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/recent", "")
	var got []string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("recent=%v", got)
	}
}

func TestHandleHistory(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{stats: []statsdb.AnalysisStat{{RequestID: "r1", Target: "alice", Outcome: statsdb.OutcomeSuccess}}}
	_, _, ts := newTestServer(t, &fakeGate{}, history)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/history?limit=5", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var got []statsdb.AnalysisStat
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RequestID != "r1" || history.limit != 5 {
		t.Fatalf("got=%+v limit=%d", got, history.limit)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/history?limit=zero", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestHandleHistory_Disabled(t *testing.T) {
	t.Parallel()

	_, _, ts := newTestServer(t, &fakeGate{}, nil)
	resp := doRequest(t, http.MethodGet, ts.URL+"/api/history", "")
	var got []statsdb.AnalysisStat
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("got=%v", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	_, _, ts := newTestServer(t, &fakeGate{}, nil)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/analyze", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("missing CORS headers: %v", resp.Header)
	}
}

func TestServe_PushesStateOverWebSocket(t *testing.T) {
	t.Parallel()

	hub := state.NewHub()
	s, err := New(Options{Gate: &fakeGate{}, State: hub})
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
	}()

	conn, _, err := gws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// The snapshot sent on connect.
	readStateMessage(t, conn)

	hub.Merge(state.Partial{IsLoading: state.Bool(true), Target: state.String("alice")})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := readStateMessage(t, conn)
		if got.IsLoading && got.Target == "alice" {
			return
		}
	}
	t.Fatalf("state change not pushed")
}

func readStateMessage(t *testing.T, conn *gws.Conn) state.State {
	t.Helper()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg struct {
			Type    websocket.MessageType `json:"type"`
			Payload state.State           `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if msg.Type == websocket.MessageTypeState {
			return msg.Payload
		}
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{State: state.NewHub()}); err == nil {
		t.Fatalf("expected error for nil gate")
	}
	if _, err := New(Options{Gate: &fakeGate{}}); err == nil {
		t.Fatalf("expected error for nil state")
	}
}

func TestAPIKey(t *testing.T) {
	t.Parallel()

	s, err := New(Options{Gate: &fakeGate{recent: []string{"alice"}}, State: state.NewHub(), APIKey: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	cases := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong bearer", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer secret", http.StatusOK},
		{"x-api-key", "X-API-Key", "secret", http.StatusOK},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/recent", nil)
		if tc.header != "" {
			req.Header.Set(tc.header, tc.value)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.wantStatus {
			t.Errorf("%s: status=%d want %d", tc.name, resp.StatusCode, tc.wantStatus)
		}
	}

	resp := doRequest(t, http.MethodGet, ts.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health requires no key, status=%d", resp.StatusCode)
	}
}
