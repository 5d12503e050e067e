package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aigateway/internal/auth"
	"aigateway/internal/chat"
	"aigateway/internal/failure"
	"aigateway/internal/gateway"
	"aigateway/internal/ledger"
	"aigateway/internal/orchestrator"
	"aigateway/internal/profile"
	"aigateway/internal/testutil"
	"aigateway/internal/tier"
	"aigateway/internal/upstream"
)

type stubCompleter struct {
	err error
}

func (s stubCompleter) Complete(_ context.Context, payload upstream.Payload) (upstream.Reply, error) {
	if s.err != nil {
		return upstream.Reply{}, s.err
	}
	return upstream.Reply{Content: "coached", RequestID: "req-9", Model: payload.Model}, nil
}

type apiFixture struct {
	server *httptest.Server
	ledger *ledger.Memory
	state  *gateway.State
}

func newAPIFixture(t *testing.T, completer upstream.Completer) *apiFixture {
	t.Helper()
	clock := testutil.NewFakeClock(time.Unix(5_000, 0))
	policy := tier.DefaultPolicy()
	state := gateway.NewState(gateway.StateConfig{Clock: clock, Policy: policy, RateLimitEnabled: true})
	mem := ledger.NewMemory(clock)
	svc, err := gateway.New(gateway.Config{
		State:     state,
		Policy:    policy,
		Completer: completer,
		Profiles:  profile.NewMemory(),
		Models:    map[string]string{"basic": "vendor/basic", "pro": "vendor/pro"},
		Ledger:    mem,
		RateLimit: gateway.RateLimit{Max: 2, Window: time.Minute},
		Orchestrator: orchestrator.Config{
			Sleep: func(context.Context, time.Duration) error { return nil },
		},
		Clock: clock,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	handler := NewHandler(Config{
		Generator:     svc,
		Authenticator: auth.NewStatic(map[string]string{"secret": "u1"}),
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &apiFixture{server: srv, ledger: mem, state: state}
}

func generateBody(t *testing.T, tierName string) []byte {
	t.Helper()
	return mustMarshal(t, generateRequest{
		Tier:     tierName,
		CaseID:   "case-1",
		Messages: []chat.Message{chat.System("coach"), chat.User("hello")},
	})
}

func TestHTTP_GenerateSuccess(t *testing.T) {
	runWithTimeout(t, 2*time.Second, func() {
		f := newAPIFixture(t, stubCompleter{})
		if _, err := f.ledger.Grant(context.Background(), ledger.Grant{UserID: "u1", Plan: "pro", Delta: 2}); err != nil {
			t.Fatalf("grant: %v", err)
		}
		resp, body := doRequestJSON(t, http.MethodPost, f.server.URL+"/v1/generate", "secret", generateBody(t, "pro"))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
		var parsed generateResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if parsed.Content != "coached" || parsed.Model != "vendor/pro" || parsed.RemainingSessions != 1 || parsed.Prune.MessagesAfter != 2 {
			t.Fatalf("unexpected response %+v", parsed)
		}
	})
}

func TestHTTP_AuthErrors(t *testing.T) {
	runWithTimeout(t, 2*time.Second, func() {
		f := newAPIFixture(t, stubCompleter{})
		resp, _ := doRequestJSON(t, http.MethodPost, f.server.URL+"/v1/generate", "", generateBody(t, "basic"))
		if resp.StatusCode != http.StatusUnauthorized || resp.Header.Get("WWW-Authenticate") != "Bearer" {
			t.Fatalf("expected 401 with challenge, got %d", resp.StatusCode)
		}
		resp, _ = doRequestJSON(t, http.MethodPost, f.server.URL+"/v1/generate", "wrong", generateBody(t, "basic"))
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
	})
}

// TestHTTP_UnauthenticatedRequestsAreRateLimitedByAddress ensures failed
// authentications count against the caller's network address.
func TestHTTP_UnauthenticatedRequestsAreRateLimitedByAddress(t *testing.T) {
	runWithTimeout(t, 2*time.Second, func() {
		f := newAPIFixture(t, stubCompleter{})
		for i := 0; i < 2; i++ {
			resp, _ := doRequestJSON(t, http.MethodPost, f.server.URL+"/v1/generate", "wrong", generateBody(t, "basic"))
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("attempt %d: expected 401, got %d", i+1, resp.StatusCode)
			}
		}
		resp, body := doRequestJSON(t, http.MethodPost, f.server.URL+"/v1/generate", "wrong", generateBody(t, "basic"))
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d: %s", resp.StatusCode, body)
		}
		if resp.Header.Get("Retry-After") == "" {
			t.Fatalf("expected Retry-After on address limit")
		}
		var parsed errorResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if parsed.Error != string(failure.KindRateLimited) || !strings.Contains(parsed.Message, "rate limited") {
			t.Fatalf("expected rate limited error, got %+v", parsed)
		}

		if _, err := f.ledger.Grant(context.Background(), ledger.Grant{UserID: "u1", Plan: "basic", Delta: 1}); err != nil {
			t.Fatalf("grant: %v", err)
		}
		resp, body = doRequestJSON(t, http.MethodPost, f.server.URL+"/v1/generate", "secret", generateBody(t, "basic"))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected authenticated user unaffected, got %d: %s", resp.StatusCode, body)
		}
	})
}

func TestHTTP_ValidationErrors(t *testing.T) {
	runWithTimeout(t, 2*time.Second, func() {
		f := newAPIFixture(t, stubCompleter{})
		cases := []struct {
			name string
			body []byte
		}{
			{name: "unknown_field", body: []byte(`{"tier":"basic","messages":[{"role":"user","content":"hi"}],"extra":true}`)},
			{name: "no_messages", body: []byte(`{"tier":"basic","messages":[]}`)},
			{name: "bad_role", body: []byte(`{"tier":"basic","messages":[{"role":"tool","content":"hi"}]}`)},
			{name: "blank_messages", body: []byte(`{"tier":"basic","messages":[{"role":"user","content":"  "}]}`)},
			{name: "bad_temperature", body: []byte(`{"tier":"basic","temperature":3,"messages":[{"role":"user","content":"hi"}]}`)},
			{name: "bad_budget", body: []byte(`{"tier":"basic","budget":{"input_tokens":0},"messages":[{"role":"user","content":"hi"}]}`)},
		}
		for _, tc := range cases {
			resp, _ := doRequestJSON(t, http.MethodPost, f.server.URL+"/v1/generate", "secret", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("%s: expected 400, got %d", tc.name, resp.StatusCode)
			}
		}
		resp, _ := doRequestJSON(t, http.MethodGet, f.server.URL+"/v1/generate", "secret", nil)
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", resp.StatusCode)
		}
	})
}

func TestHTTP_FailureMapping(t *testing.T) {
	runWithTimeout(t, 2*time.Second, func() {
		t.Run("insufficient_sessions", func(t *testing.T) {
			f := newAPIFixture(t, stubCompleter{})
			resp, body := doRequestJSON(t, http.MethodPost, f.server.URL+"/v1/generate", "secret", generateBody(t, "basic"))
			if resp.StatusCode != http.StatusPaymentRequired {
				t.Fatalf("expected 402, got %d", resp.StatusCode)
			}
			var parsed errorResponse
			if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error != "insufficient_sessions" || parsed.RemainingSessions == nil {
				t.Fatalf("unexpected body %s", body)
			}
		})
		t.Run("rate_limited", func(t *testing.T) {
			f := newAPIFixture(t, stubCompleter{})
			if _, err := f.ledger.Grant(context.Background(), ledger.Grant{UserID: "u1", Plan: "basic", Delta: 5}); err != nil {
				t.Fatalf("grant: %v", err)
			}
			for i := 0; i < 2; i++ {
				if resp, body := doRequestJSON(t, http.MethodPost, f.server.URL+"/v1/generate", "secret", generateBody(t, "basic")); resp.StatusCode != http.StatusOK {
					t.Fatalf("request %d: expected 200, got %d: %s", i, resp.StatusCode, body)
				}
			}
			resp, _ := doRequestJSON(t, http.MethodPost, f.server.URL+"/v1/generate", "secret", generateBody(t, "basic"))
			if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") != "60" {
				t.Fatalf("expected 429 with Retry-After 60, got %d %q", resp.StatusCode, resp.Header.Get("Retry-After"))
			}
		})
		t.Run("circuit_open", func(t *testing.T) {
			f := newAPIFixture(t, stubCompleter{})
			if _, err := f.ledger.Grant(context.Background(), ledger.Grant{UserID: "u1", Plan: "pro", Delta: 1}); err != nil {
				t.Fatalf("grant: %v", err)
			}
			for i := 0; i < 3; i++ {
				f.state.Breakers.RecordFailure("pro", 0)
			}
			resp, _ := doRequestJSON(t, http.MethodPost, f.server.URL+"/v1/generate", "secret", generateBody(t, "pro"))
			if resp.StatusCode != http.StatusServiceUnavailable || resp.Header.Get("Retry-After") != "30" {
				t.Fatalf("expected 503 with Retry-After 30, got %d %q", resp.StatusCode, resp.Header.Get("Retry-After"))
			}
		})
		t.Run("upstream", func(t *testing.T) {
			f := newAPIFixture(t, stubCompleter{err: &failure.UpstreamError{Status: http.StatusBadRequest, Message: "bad"}})
			if _, err := f.ledger.Grant(context.Background(), ledger.Grant{UserID: "u1", Plan: "basic", Delta: 1}); err != nil {
				t.Fatalf("grant: %v", err)
			}
			resp, body := doRequestJSON(t, http.MethodPost, f.server.URL+"/v1/generate", "secret", generateBody(t, "basic"))
			if resp.StatusCode != http.StatusBadGateway {
				t.Fatalf("expected 502, got %d: %s", resp.StatusCode, body)
			}
			if balance, _ := f.ledger.Balance(context.Background(), "u1", "basic"); balance != 1 {
				t.Fatalf("expected refund, balance %d", balance)
			}
		})
		t.Run("disabled", func(t *testing.T) {
			f := newAPIFixture(t, nil)
			resp, body := doRequestJSON(t, http.MethodPost, f.server.URL+"/v1/generate", "secret", generateBody(t, "basic"))
			if resp.StatusCode != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", resp.StatusCode)
			}
			var parsed errorResponse
			if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error != "configuration" || parsed.Message != "" {
				t.Fatalf("unexpected body %s", body)
			}
		})
	})
}

func TestHTTP_Health(t *testing.T) {
	runWithTimeout(t, 2*time.Second, func() {
		f := newAPIFixture(t, nil)
		resp, body := doRequestJSON(t, http.MethodGet, f.server.URL+"/healthz", "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		var parsed healthResponse
		if err := json.Unmarshal(body, &parsed); err != nil || parsed.Status != "ok" || parsed.UpstreamEnabled {
			t.Fatalf("unexpected health %s", body)
		}
	})
}

func doRequestJSON(t *testing.T, method, url, token string, body []byte) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func runWithTimeout(t *testing.T, timeout time.Duration, fn func()) {
	t.Helper()
	ctx := testutil.Context(t, timeout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("test timed out")
	}
}
