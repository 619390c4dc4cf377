package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"analyzehub/internal/retry"
)

func TestAnalyze_Success(t *testing.T) {
	t.Parallel()

	var gotBody analyzeRequest
	var gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != AnalyzePath {
			http.Error(w, "bad route", http.StatusBadRequest)
			return
		}
		gotRequestID = r.Header.Get("X-Request-ID")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"username":"alice","score":7}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Analyze(WithRequestID(context.Background(), "req-1"), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if string(res) != `{"username":"alice","score":7}` {
		t.Fatalf("result=%s", res)
	}
	if gotBody.Username != "alice" {
		t.Fatalf("username=%q", gotBody.Username)
	}
	if gotRequestID != "req-1" {
		t.Fatalf("request id=%q", gotRequestID)
	}
}

func TestAnalyze_StatusErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		status     int
		header     string
		body       string
		wantKind   retry.ErrorKind
		wantRA     string
		wantServer string
	}{
		{"rate limited", http.StatusTooManyRequests, "45", `{"error":"slow down"}`, retry.KindRateLimited, "45", "slow down"},
		{"not found", http.StatusNotFound, "", `{"error":"no such user"}`, retry.KindNotFound, "", "no such user"},
		{"server error", http.StatusInternalServerError, "", `oops`, retry.KindServerError, "", ""},
		{"bad request", http.StatusBadRequest, "10", `{"error":"bad input"}`, retry.KindUnknown, "", "bad input"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.header != "" {
					w.Header().Set("Retry-After", tc.header)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c, err := New(Config{BaseURL: srv.URL})
			if err != nil {
				t.Fatal(err)
			}
			_, err = c.Analyze(context.Background(), "alice")
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StatusError, got %v", err)
			}
			o := OutcomeOf(err)
			if o.RetryAfter != tc.wantRA {
				t.Fatalf("retryAfter=%q want %q", o.RetryAfter, tc.wantRA)
			}
			if k := retry.Classify(o).Kind; k != tc.wantKind {
				t.Fatalf("kind=%v want %v", k, tc.wantKind)
			}
			if m := ServerMessage(err); m != tc.wantServer {
				t.Fatalf("server message=%q want %q", m, tc.wantServer)
			}
		})
	}
}

func TestAnalyze_InvalidJSONBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	_, err := c.Analyze(context.Background(), "alice")
	if err == nil {
		t.Fatalf("expected error")
	}
	if k := retry.Classify(OutcomeOf(err)).Kind; k != retry.KindUnknown {
		t.Fatalf("kind=%v", k)
	}
}

func TestAnalyze_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Analyze(context.Background(), "alice")
	if err == nil {
		t.Fatalf("expected timeout")
	}
	if !OutcomeOf(err).TimedOut {
		t.Fatalf("expected timed out outcome, got %+v (%v)", OutcomeOf(err), err)
	}
	if k := retry.Classify(OutcomeOf(err)).Kind; k != retry.KindTimeout {
		t.Fatalf("kind=%v", k)
	}
}

func TestAnalyze_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, _ := New(Config{BaseURL: url, Timeout: 5 * time.Second})
	_, err := c.Analyze(context.Background(), "alice")
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if k := retry.Classify(OutcomeOf(err)).Kind; k != retry.KindNetworkUnreachable {
		t.Fatalf("kind=%v (%v)", k, err)
	}
}

func TestAnalyze_Canceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Analyze(ctx, "alice")
	if !retry.IsCanceled(err) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestBuildTargetURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"http://localhost:5000":     "http://localhost:5000/api/analyze-user",
		"http://localhost:5000/":    "http://localhost:5000/api/analyze-user",
		"localhost:5000":            "http://localhost:5000/api/analyze-user",
		"https://example.com/base/": "https://example.com/base/api/analyze-user",
		"  https://example.com  ":   "https://example.com/api/analyze-user",
	}
	for in, want := range cases {
		got, err := buildTargetURL(in, AnalyzePath)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %q want %q", in, got, want)
		}
	}

	if _, err := New(Config{BaseURL: "  "}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}

func TestOutcomeOf_Nil(t *testing.T) {
	t.Parallel()

	if o := OutcomeOf(nil); o != (retry.Outcome{}) {
		t.Fatalf("outcome=%+v", o)
	}
}
