//go:build cucumber

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"aigateway/internal/chat"
	"aigateway/internal/failure"
	"aigateway/internal/ledger"
	"aigateway/internal/orchestrator"
	"aigateway/internal/profile"
	"aigateway/internal/testutil"
	"aigateway/internal/tier"
	"aigateway/internal/upstream"
)

// TestGatewayFeatures executes the generation feature scenarios via godog.
func TestGatewayFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "gateway",
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:    "pretty",
			Paths:     []string{filepath.Join("testdata", "features")},
			Strict:    true,
			TestingT:  t,
			Randomize: 0,
		},
	}
	if suite.Run() != 0 {
		t.Fatalf("non-zero godog status")
	}
}

// InitializeScenario wires step definitions for the gateway feature tests.
func InitializeScenario(ctx *godog.ScenarioContext) {
	state := &gatewayState{}
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, state.reset()
	})
	ctx.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		state.close()
		return ctx, nil
	})

	ctx.Step(`^user "([^"]+)" has (\d+) "([^"]+)" sessions$`, state.givenSessions)
	ctx.Step(`^the upstream replies "([^"]*)"$`, state.upstreamReplies)
	ctx.Step(`^the upstream fails with status (\d+)$`, state.upstreamFails)
	ctx.Step(`^the upstream rejects the context length$`, state.upstreamRejectsContext)
	ctx.Step(`^the "([^"]+)" circuit is open$`, state.circuitOpen)
	ctx.Step(`^user "([^"]+)" generates on tier "([^"]+)" with (\d+) messages of (\d+) characters$`, state.generate)
	ctx.Step(`^the generation succeeds with "([^"]*)"$`, state.generationSucceeds)
	ctx.Step(`^the generation fails with kind "([^"]+)"$`, state.generationFails)
	ctx.Step(`^the upstream received (\d+) calls$`, state.upstreamReceived)
	ctx.Step(`^the ledger recorded (\d+) refunds for "([^"]+)"$`, state.refundsRecorded)
	ctx.Step(`^the call was re-pruned$`, state.callRePruned)
	ctx.Step(`^the second upstream request carried fewer messages than the first$`, state.secondRequestSmaller)
}

type scriptedResponse struct {
	status int
	body   string
}

// gatewayState holds scenario state for the feature tests.
type gatewayState struct {
	mu       sync.Mutex
	script   []scriptedResponse
	payloads []upstream.Payload

	server *httptest.Server
	clock  *testutil.FakeClock
	ledger *ledger.Memory
	state  *State
	svc    *Service
	result GenerateResult
	err    error
}

// reset builds a fresh service against a scripted upstream server.
func (s *gatewayState) reset() error {
	s.close()
	s.script = nil
	s.payloads = nil
	s.result = GenerateResult{}
	s.err = nil
	s.server = httptest.NewServer(http.HandlerFunc(s.serveUpstream))
	s.clock = testutil.NewFakeClock(time.Unix(1_000, 0))
	s.ledger = ledger.NewMemory(s.clock)
	policy := tier.DefaultPolicy()
	s.state = NewState(StateConfig{Clock: s.clock, Policy: policy, RateLimitEnabled: true})
	client, err := upstream.New(upstream.Config{BaseURL: s.server.URL, APIKey: "test-key", Title: "coach"})
	if err != nil {
		return err
	}
	svc, err := New(Config{
		State:     s.state,
		Policy:    policy,
		Completer: client,
		Profiles:  profile.NewMemory(),
		Models:    map[string]string{"basic": "vendor/basic", "pro": "vendor/pro"},
		Ledger:    s.ledger,
		Orchestrator: orchestrator.Config{
			Sleep:   func(context.Context, time.Duration) error { return nil },
			Timeout: 2 * time.Second,
		},
		Clock: s.clock,
	})
	if err != nil {
		return err
	}
	s.svc = svc
	return nil
}

// close shuts down the upstream server if it is running.
func (s *gatewayState) close() {
	if s.server != nil {
		s.server.Close()
		s.server = nil
	}
}

func (s *gatewayState) serveUpstream(w http.ResponseWriter, r *http.Request) {
	var payload upstream.Payload
	_ = json.NewDecoder(r.Body).Decode(&payload)
	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	next := scriptedResponse{status: http.StatusOK, body: completion("ok")}
	if len(s.script) > 0 {
		next = s.script[0]
		s.script = s.script[1:]
	}
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(next.status)
	_, _ = w.Write([]byte(next.body))
}

func completion(content string) string {
	data, _ := json.Marshal(map[string]any{
		"id":      "gen-1",
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
	})
	return string(data)
}

func (s *gatewayState) enqueue(resp scriptedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, resp)
}

func (s *gatewayState) givenSessions(user string, n int, plan string) error {
	if n == 0 {
		return nil
	}
	_, err := s.ledger.Grant(context.Background(), ledger.Grant{UserID: user, Plan: plan, Delta: int64(n)})
	return err
}

func (s *gatewayState) upstreamReplies(content string) error {
	s.enqueue(scriptedResponse{status: http.StatusOK, body: completion(content)})
	return nil
}

func (s *gatewayState) upstreamFails(status int) error {
	s.enqueue(scriptedResponse{status: status, body: `{"error":{"code":"unavailable","message":"try later"}}`})
	return nil
}

func (s *gatewayState) upstreamRejectsContext() error {
	s.enqueue(scriptedResponse{
		status: http.StatusBadRequest,
		body:   `{"error":{"code":400,"message":"This model's maximum context length is 8192 tokens"}}`,
	})
	return nil
}

func (s *gatewayState) circuitOpen(tierName string) error {
	for i := 0; i < 100; i++ {
		if s.state.Breakers.RecordFailure(tierName, 0) {
			return nil
		}
	}
	return fmt.Errorf("circuit %q never opened", tierName)
}

func (s *gatewayState) generate(user, tierName string, count, chars int) error {
	messages := []chat.Message{chat.System("You are a chess coach.")}
	for i := 0; i < count; i++ {
		body := strings.Repeat(string(rune('a'+i%26)), chars)
		if i%2 == 0 {
			messages = append(messages, chat.User(body))
		} else {
			messages = append(messages, chat.Assistant(body))
		}
	}
	s.result, s.err = s.svc.Generate(context.Background(), GenerateRequest{
		UserID:   user,
		Tier:     tierName,
		CaseID:   "case-1",
		RoundID:  "round-1",
		Messages: messages,
	})
	return nil
}

func (s *gatewayState) generationSucceeds(content string) error {
	if s.err != nil {
		return fmt.Errorf("expected success, got %v", s.err)
	}
	if s.result.Content != content {
		return fmt.Errorf("expected %q, got %q", content, s.result.Content)
	}
	return nil
}

func (s *gatewayState) generationFails(kind string) error {
	if s.err == nil {
		return fmt.Errorf("expected failure %s, got success", kind)
	}
	if got := failure.KindOf(s.err); string(got) != kind {
		return fmt.Errorf("expected kind %s, got %s (%v)", kind, got, s.err)
	}
	return nil
}

func (s *gatewayState) upstreamReceived(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.payloads) != n {
		return fmt.Errorf("expected %d upstream calls, got %d", n, len(s.payloads))
	}
	return nil
}

func (s *gatewayState) refundsRecorded(n int, user string) error {
	count := 0
	for _, event := range s.ledger.Events(user) {
		if event.Reason == ledger.ReasonRefund {
			count++
		}
	}
	if count != n {
		return fmt.Errorf("expected %d refunds, got %d", n, count)
	}
	return nil
}

func (s *gatewayState) callRePruned() error {
	if !s.result.RePruned {
		return fmt.Errorf("expected the call to be re-pruned")
	}
	return nil
}

func (s *gatewayState) secondRequestSmaller() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.payloads) < 2 {
		return fmt.Errorf("expected two upstream requests, got %d", len(s.payloads))
	}
	first, second := len(s.payloads[0].Messages), len(s.payloads[1].Messages)
	if second >= first {
		return fmt.Errorf("expected fewer messages after re-prune: %d then %d", first, second)
	}
	return nil
}
