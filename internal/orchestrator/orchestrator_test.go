package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"aigateway/internal/breaker"
	"aigateway/internal/chat"
	"aigateway/internal/failure"
	"aigateway/internal/testutil"
	"aigateway/internal/tier"
	"aigateway/internal/upstream"
)

// scriptedCompleter replays outcomes and records every payload it receives.
type scriptedCompleter struct {
	mu       sync.Mutex
	outcomes []outcome
	payloads []upstream.Payload
}

type outcome struct {
	reply upstream.Reply
	err   error
}

func (s *scriptedCompleter) Complete(ctx context.Context, payload upstream.Payload) (upstream.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	if len(s.outcomes) == 0 {
		return upstream.Reply{Content: "ok"}, nil
	}
	next := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return next.reply, next.err
}

func (s *scriptedCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func ok(content string) outcome {
	return outcome{reply: upstream.Reply{Content: content, RequestID: "req"}}
}

func status(code int, msg string) outcome {
	return outcome{err: &failure.UpstreamError{Status: code, Message: msg}}
}

type harness struct {
	completer *scriptedCompleter
	breakers  *breaker.Registry
	clock     *testutil.FakeClock
	states    []State
	orch      *Orchestrator
}

func newHarness(t *testing.T, outcomes ...outcome) *harness {
	t.Helper()
	h := &harness{
		completer: &scriptedCompleter{outcomes: outcomes},
		clock:     testutil.NewFakeClock(time.Unix(1000, 0)),
	}
	settings := tier.DefaultSettings()
	h.breakers = breaker.New(breaker.Config{
		Clock: h.clock,
		Settings: map[string]breaker.Settings{
			string(tier.Basic): {Threshold: settings[tier.Basic].BreakerThreshold, OpenFor: settings[tier.Basic].BreakerOpen},
			string(tier.Pro):   {Threshold: settings[tier.Pro].BreakerThreshold, OpenFor: settings[tier.Pro].BreakerOpen},
		},
	})
	orch, err := New(Config{
		Completer: h.completer,
		Breaker:   h.breakers,
		Policy:    tier.NewPolicy(settings, tier.Basic),
		Sleep: h.clock.Sleep,
		Rand: func() float64 { return 0.5 },
		Observer: ObserverFunc(func(tr Transition) {
			h.states = append(h.states, tr.To)
		}),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	h.orch = orch
	return h
}

func conversation(n, chars int) []chat.Message {
	out := []chat.Message{chat.System("You are a coach.")}
	for i := 0; i < n; i++ {
		body := strings.Repeat(string(rune('a'+i%26)), chars)
		if i%2 == 0 {
			out = append(out, chat.User(body))
		} else {
			out = append(out, chat.Assistant(body))
		}
	}
	return out
}

// TestDispatchSuccess ensures a clean call returns content and resets the breaker.
func TestDispatchSuccess(t *testing.T) {
	h := newHarness(t, ok("hello"))
	h.breakers.RecordFailure("basic", 0)
	result, err := h.orch.Dispatch(testutil.Context(t, 0), Request{Model: "m", Tier: "basic", Messages: conversation(3, 20)})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Content != "hello" || result.Attempts != 1 || result.RePruned {
		t.Fatalf("unexpected result %+v", result)
	}
	if h.breakers.Snapshot("basic").Failures != 0 {
		t.Fatalf("expected breaker reset on success")
	}
	payload := h.completer.payloads[0]
	if payload.Messages[0].Role != chat.RoleSystem || len(payload.Messages) != 4 {
		t.Fatalf("unexpected payload %+v", payload.Messages)
	}
}

// TestDispatchRetriesTransientStatus ensures 503s back off and retry until success.
func TestDispatchRetriesTransientStatus(t *testing.T) {
	h := newHarness(t, status(503, "busy"), status(502, "bad gateway"), ok("done"))
	result, err := h.orch.Dispatch(testutil.Context(t, 0), Request{Model: "m", Tier: "basic", Messages: conversation(2, 10)})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", result.Attempts)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	sleeps := h.clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != want[0] || sleeps[1] != want[1] {
		t.Fatalf("expected backoff %v, got %v", want, sleeps)
	}
	if h.breakers.Snapshot("basic").Failures != 0 {
		t.Fatalf("absorbed retries should not count as breaker failures")
	}
}

// TestDispatchHonorsRetryAfter ensures an upstream hint replaces computed backoff.
func TestDispatchHonorsRetryAfter(t *testing.T) {
	h := newHarness(t, outcome{err: &failure.UpstreamError{Status: 429, RetryAfter: 4 * time.Second}}, ok("done"))
	if _, err := h.orch.Dispatch(testutil.Context(t, 0), Request{Model: "m", Messages: conversation(2, 10)}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sleeps := h.clock.Sleeps(); len(sleeps) != 1 || sleeps[0] != 4*time.Second {
		t.Fatalf("expected hinted delay, got %v", sleeps)
	}
}

// TestDispatchExhaustsRetries ensures exhausted retries surface the upstream error once.
func TestDispatchExhaustsRetries(t *testing.T) {
	h := newHarness(t, status(503, "a"), status(503, "b"), status(503, "c"), status(503, "d"))
	_, err := h.orch.Dispatch(testutil.Context(t, 0), Request{Model: "m", Tier: "basic", Messages: conversation(2, 10)})
	var upstreamErr *failure.UpstreamError
	if !errors.As(err, &upstreamErr) || upstreamErr.Status != 503 {
		t.Fatalf("expected upstream 503, got %v", err)
	}
	if h.completer.calls() != 3 {
		t.Fatalf("expected 3 attempts for basic, got %d", h.completer.calls())
	}
	if h.breakers.Snapshot("basic").Failures != 1 {
		t.Fatalf("expected one breaker failure")
	}
}

// TestDispatchProGetsExtraRetry ensures the pro tier gets one more attempt.
func TestDispatchProGetsExtraRetry(t *testing.T) {
	h := newHarness(t, status(503, "a"), status(503, "b"), status(503, "c"), status(503, "d"), status(503, "e"))
	_, _ = h.orch.Dispatch(testutil.Context(t, 0), Request{Model: "m", Tier: "pro", Messages: conversation(2, 10)})
	if h.completer.calls() != 4 {
		t.Fatalf("expected 4 attempts for pro, got %d", h.completer.calls())
	}
}

// TestDispatchOpensBreakerAfterThreshold ensures the call after N failed calls never reaches the network.
func TestDispatchOpensBreakerAfterThreshold(t *testing.T) {
	h := newHarness(t)
	threshold := tier.DefaultSettings()[tier.Pro].BreakerThreshold
	perCall := DefaultBaseAttempts + tier.DefaultSettings()[tier.Pro].ExtraRetries
	for i := 0; i < threshold*perCall; i++ {
		h.completer.outcomes = append(h.completer.outcomes, status(503, "unavailable"))
	}
	ctx := testutil.Context(t, 0)
	for i := 0; i < threshold; i++ {
		_, err := h.orch.Dispatch(ctx, Request{Model: "m", Tier: "pro", Messages: conversation(2, 10)})
		if failure.KindOf(err) != failure.KindUpstream {
			t.Fatalf("call %d: expected upstream error, got %v", i+1, err)
		}
	}
	calls := h.completer.calls()
	_, err := h.orch.Dispatch(ctx, Request{Model: "m", Tier: "pro", Messages: conversation(2, 10)})
	var open *failure.CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected circuit open, got %v", err)
	}
	if open.RetryAfter != tier.DefaultSettings()[tier.Pro].BreakerOpen {
		t.Fatalf("unexpected retry after %s", open.RetryAfter)
	}
	if h.completer.calls() != calls {
		t.Fatalf("expected no network attempt while open")
	}

	h.clock.Advance(tier.DefaultSettings()[tier.Pro].BreakerOpen)
	if _, err := h.orch.Dispatch(ctx, Request{Model: "m", Tier: "pro", Messages: conversation(2, 10)}); err != nil {
		t.Fatalf("expected trial call to succeed, got %v", err)
	}
	if h.breakers.Snapshot("pro").Failures != 0 {
		t.Fatalf("expected failures reset after trial call success")
	}
}

// TestDispatchRePrunesOnContextLength ensures a context-length rejection shrinks the payload for free.
func TestDispatchRePrunesOnContextLength(t *testing.T) {
	h := newHarness(t, status(400, "This model's maximum context length is 4096 tokens"), ok("fits now"))
	budget := tier.Budget{InputTokens: 4000, KeepLastTurns: 8}
	result, err := h.orch.Dispatch(testutil.Context(t, 0), Request{
		Model:    "m",
		Tier:     "basic",
		Messages: conversation(12, 1200),
		Budget:   &budget,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !result.RePruned || result.Attempts != 1 {
		t.Fatalf("expected free re-prune, got %+v", result)
	}
	if len(h.completer.payloads) != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", len(h.completer.payloads))
	}
	first := chat.EstimateMessages(h.completer.payloads[0].Messages)
	second := chat.EstimateMessages(h.completer.payloads[1].Messages)
	if second >= first {
		t.Fatalf("expected smaller second payload, got %d then %d", first, second)
	}
	if len(h.clock.Sleeps()) != 0 {
		t.Fatalf("re-prune should not back off")
	}
	wantStates := []State{StateRePruning, StateDispatching, StateDone}
	if len(h.states) != len(wantStates) {
		t.Fatalf("expected transitions %v, got %v", wantStates, h.states)
	}
	for i := range wantStates {
		if h.states[i] != wantStates[i] {
			t.Fatalf("expected transitions %v, got %v", wantStates, h.states)
		}
	}
}

// TestDispatchClampsBudgetOverride ensures a caller budget cannot widen the tier budget.
func TestDispatchClampsBudgetOverride(t *testing.T) {
	h := newHarness(t, ok("bounded"))
	huge := tier.Budget{InputTokens: 1_000_000, KeepLastTurns: 500}
	messages := conversation(40, 2000)
	result, err := h.orch.Dispatch(testutil.Context(t, 0), Request{
		Model:    "m",
		Tier:     "basic",
		Messages: messages,
		Budget:   &huge,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	limit := tier.DefaultSettings()[tier.Basic].Budget
	if result.Prune.EstimatedTokensAfter > limit.InputTokens {
		t.Fatalf("expected at most %d tokens, got %d", limit.InputTokens, result.Prune.EstimatedTokensAfter)
	}
	sent := h.completer.payloads[0].Messages
	if got := chat.EstimateMessages(sent); got > limit.InputTokens {
		t.Fatalf("expected payload within %d tokens, got %d", limit.InputTokens, got)
	}
	if len(sent) >= len(messages) {
		t.Fatalf("expected turns to be dropped, sent %d of %d", len(sent), len(messages))
	}
}

// TestDispatchRePrunesOnlyOnce ensures a second context-length rejection is final.
func TestDispatchRePrunesOnlyOnce(t *testing.T) {
	h := newHarness(t, status(400, "context length exceeded"), status(413, "context too long"))
	_, err := h.orch.Dispatch(testutil.Context(t, 0), Request{Model: "m", Messages: conversation(4, 100)})
	var upstreamErr *failure.UpstreamError
	if !errors.As(err, &upstreamErr) || upstreamErr.Status != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected final 413, got %v", err)
	}
	if h.completer.calls() != 2 {
		t.Fatalf("expected 2 calls, got %d", h.completer.calls())
	}
}

// TestDispatchNonRetryableFailsFast ensures client errors surface without retries.
func TestDispatchNonRetryableFailsFast(t *testing.T) {
	h := newHarness(t, status(401, "bad key"))
	_, err := h.orch.Dispatch(testutil.Context(t, 0), Request{Model: "m", Messages: conversation(2, 10)})
	if failure.KindOf(err) != failure.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if h.completer.calls() != 1 || len(h.clock.Sleeps()) != 0 {
		t.Fatalf("expected a single attempt without backoff")
	}
	if h.breakers.Snapshot("basic").Failures != 0 {
		t.Fatalf("client errors should not trip the breaker")
	}
}

// TestDispatchEmptyGeneration ensures empty content counts against the breaker without retry.
func TestDispatchEmptyGeneration(t *testing.T) {
	h := newHarness(t, outcome{err: &failure.EmptyGenerationError{}})
	_, err := h.orch.Dispatch(testutil.Context(t, 0), Request{Model: "m", Messages: conversation(2, 10)})
	if failure.KindOf(err) != failure.KindEmptyGeneration {
		t.Fatalf("expected empty generation, got %v", err)
	}
	if h.completer.calls() != 1 {
		t.Fatalf("expected no retry, got %d calls", h.completer.calls())
	}
	if h.breakers.Snapshot("basic").Failures != 1 {
		t.Fatalf("expected breaker failure")
	}
}

// TestDispatchTimeoutRetriesThenFails ensures transport failures retry and then surface typed.
func TestDispatchTimeoutRetriesThenFails(t *testing.T) {
	netErr := outcome{err: &failure.TimeoutOrNetworkError{Timeout: true, Err: context.DeadlineExceeded}}
	h := newHarness(t, netErr, netErr, netErr)
	_, err := h.orch.Dispatch(testutil.Context(t, 0), Request{Model: "m", Messages: conversation(2, 10)})
	if failure.KindOf(err) != failure.KindTimeoutOrNetwork {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if len(h.clock.Sleeps()) != 2 {
		t.Fatalf("expected 2 backoffs, got %v", h.clock.Sleeps())
	}
}

// TestDispatchWrapsUnknownErrors ensures raw errors never escape.
func TestDispatchWrapsUnknownErrors(t *testing.T) {
	raw := outcome{err: errors.New("connection reset")}
	h := newHarness(t, raw, raw, raw)
	_, err := h.orch.Dispatch(testutil.Context(t, 0), Request{Model: "m", Messages: conversation(2, 10)})
	var netErr *failure.TimeoutOrNetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected typed network error, got %v", err)
	}
}

// TestDispatchIgnoresCallerCancellation ensures a cancelled caller does not abort the call.
func TestDispatchIgnoresCallerCancellation(t *testing.T) {
	h := newHarness(t, ok("still here"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := h.orch.Dispatch(ctx, Request{Model: "m", Messages: conversation(2, 10)})
	if err != nil || result.Content != "still here" {
		t.Fatalf("expected success despite cancellation, got %v", err)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	mid := func() float64 { return 0.5 }
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{5, 8 * time.Second},
		{10, 8 * time.Second},
	}
	for _, tc := range cases {
		if got := backoff(tc.attempt, 500*time.Millisecond, 8*time.Second, mid); got != tc.want {
			t.Fatalf("backoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
	low := backoff(1, time.Second, time.Minute, func() float64 { return 0 })
	if low != 500*time.Millisecond {
		t.Fatalf("expected half delay at low jitter, got %s", low)
	}
}

func TestNewRequiresCompleter(t *testing.T) {
	_, err := New(Config{Breaker: breaker.New(breaker.Config{})})
	if failure.KindOf(err) != failure.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
