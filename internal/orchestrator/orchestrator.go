// Package orchestrator dispatches a pruned conversation upstream with
// timeouts, retries and per-tier circuit breaking.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"aigateway/internal/chat"
	"aigateway/internal/failure"
	"aigateway/internal/logging"
	"aigateway/internal/prune"
	"aigateway/internal/tier"
	"aigateway/internal/upstream"
)

// Defaults applied by New.
const (
	DefaultBaseAttempts   = 3
	DefaultBackoffBase    = 500 * time.Millisecond
	DefaultBackoffCap     = 8 * time.Second
	DefaultTimeout        = 45 * time.Second
	DefaultMaxHintedDelay = 30 * time.Second
)

// Breaker gates calls per tier.
type Breaker interface {
	Allow(tier string) (bool, time.Duration)
	RecordFailure(tier string, hint time.Duration) bool
	RecordSuccess(tier string)
}

// Config wires an Orchestrator.
type Config struct {
	Completer upstream.Completer
	Breaker   Breaker
	Policy    *tier.Policy
	// BaseAttempts is the attempt count before a tier's extra retries.
	BaseAttempts int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	// MaxHintedDelay bounds how long an upstream Retry-After can stall a call.
	MaxHintedDelay time.Duration
	// Timeout bounds each upstream attempt.
	Timeout  time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
	Rand     func() float64
	Observer Observer
	Logger   *zerolog.Logger
}

// Request is one generation call.
type Request struct {
	Model          string
	Tier           string
	Messages       []chat.Message
	Temperature    *float64
	MaxTokens      *int
	RollingSummary string
	// Budget narrows the tier's context budget when set. It is clamped to the
	// tier budget and never widens it.
	Budget *tier.Budget
}

// Result is a successful dispatch.
type Result struct {
	Content   string
	RequestID string
	Model     string
	Tier      string
	Attempts  int
	RePruned  bool
	Prune     prune.Result
}

// Orchestrator runs the dispatch state machine.
type Orchestrator struct {
	completer      upstream.Completer
	breaker        Breaker
	policy         *tier.Policy
	baseAttempts   int
	backoffBase    time.Duration
	backoffCap     time.Duration
	maxHintedDelay time.Duration
	timeout        time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	random         func() float64
	observer       Observer
	logger         zerolog.Logger
}

// New creates an Orchestrator, filling unset knobs with defaults.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Completer == nil {
		return nil, &failure.ConfigurationError{Reason: "upstream client is not configured"}
	}
	if cfg.Breaker == nil {
		return nil, errors.New("orchestrator: breaker is required")
	}
	if cfg.Policy == nil {
		cfg.Policy = tier.DefaultPolicy()
	}
	if cfg.BaseAttempts <= 0 {
		cfg.BaseAttempts = DefaultBaseAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.MaxHintedDelay <= 0 {
		cfg.MaxHintedDelay = DefaultMaxHintedDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Rand == nil {
		cfg.Rand = newLockedRand(time.Now().UnixNano()).Float64
	}
	return &Orchestrator{
		completer:      cfg.Completer,
		breaker:        cfg.Breaker,
		policy:         cfg.Policy,
		baseAttempts:   cfg.BaseAttempts,
		backoffBase:    cfg.BackoffBase,
		backoffCap:     cfg.BackoffCap,
		maxHintedDelay: cfg.MaxHintedDelay,
		timeout:        cfg.Timeout,
		sleep:          cfg.Sleep,
		random:         cfg.Rand,
		observer:       cfg.Observer,
		logger:         logging.OrNop(cfg.Logger),
	}, nil
}

// run carries the state of one Dispatch.
type run struct {
	tier        string
	state       State
	attempt     int
	maxAttempts int
	budget      tier.Budget
	system      string
	turns       []chat.Message
	pruned      prune.Result
	rePruned    bool
	delay       time.Duration
	reply       upstream.Reply
	err         error
}

// Dispatch prunes req to its tier budget and sends it upstream. Only typed
// failures from the failure package are returned. Caller cancellation does
// not abort in-flight attempts or backoff; each attempt has its own timeout.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) (Result, error) {
	tierName := string(o.policy.Resolve(req.Tier))
	if ok, wait := o.breaker.Allow(tierName); !ok {
		return Result{}, &failure.CircuitOpenError{Tier: tierName, RetryAfter: wait}
	}
	settings := o.policy.Settings(tierName)
	budget := settings.Budget
	if req.Budget != nil {
		budget = tier.Clamp(*req.Budget, settings.Budget)
	}
	system, turns := chat.SplitSystem(req.Messages)
	r := &run{
		tier:        tierName,
		state:       StateDispatching,
		attempt:     1,
		maxAttempts: o.baseAttempts + settings.ExtraRetries,
		budget:      budget,
		system:      system,
		turns:       turns,
	}
	r.pruned = o.prune(r, req.RollingSummary, budget)

	detached := context.WithoutCancel(ctx)
	for {
		from := r.state
		switch r.state {
		case StateDispatching:
			o.dispatching(detached, r, req)
		case StateBackingOff:
			o.backingOff(detached, r)
		case StateRePruning:
			o.rePruning(r, req.RollingSummary)
		case StateDone:
			return Result{
				Content:   r.reply.Content,
				RequestID: r.reply.RequestID,
				Model:     req.Model,
				Tier:      tierName,
				Attempts:  r.attempt,
				RePruned:  r.rePruned,
				Prune:     r.pruned,
			}, nil
		case StateFailed:
			return Result{}, r.err
		}
		o.notify(r, from)
	}
}

func (o *Orchestrator) prune(r *run, summary string, budget tier.Budget) prune.Result {
	return prune.Prune(prune.Input{
		SystemPrompt:   r.system,
		RollingSummary: summary,
		Messages:       r.turns,
		BudgetTokens:   budget.InputTokens,
		KeepLastTurns:  budget.KeepLastTurns,
	})
}

// dispatching issues one attempt and picks the next state from its outcome.
func (o *Orchestrator) dispatching(ctx context.Context, r *run, req Request) {
	if r.attempt > r.maxAttempts {
		o.breaker.RecordFailure(r.tier, 0)
		o.fail(r, &failure.RetryLimitError{Attempts: r.maxAttempts})
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	reply, err := o.completer.Complete(callCtx, upstream.Payload{
		Model:       req.Model,
		Messages:    r.pruned.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	cancel()
	if err == nil {
		o.breaker.RecordSuccess(r.tier)
		r.reply = reply
		r.state = StateDone
		return
	}

	var (
		upstreamErr *failure.UpstreamError
		emptyErr    *failure.EmptyGenerationError
		netErr      *failure.TimeoutOrNetworkError
	)
	switch {
	case errors.As(err, &emptyErr):
		o.breaker.RecordFailure(r.tier, 0)
		o.fail(r, emptyErr)
	case errors.As(err, &upstreamErr):
		o.onUpstreamError(r, upstreamErr)
	case errors.As(err, &netErr):
		o.retryOrFail(r, netErr, 0)
	default:
		o.retryOrFail(r, &failure.TimeoutOrNetworkError{Err: err}, 0)
	}
}

func (o *Orchestrator) onUpstreamError(r *run, err *failure.UpstreamError) {
	if !r.rePruned && upstream.IsContextLength(err.Status, err.Message) {
		r.err = err
		r.state = StateRePruning
		return
	}
	if err.Retryable() {
		o.retryOrFail(r, err, err.RetryAfter)
		return
	}
	o.fail(r, err)
}

// retryOrFail backs off when attempts remain, otherwise counts a breaker
// failure and surfaces err.
func (o *Orchestrator) retryOrFail(r *run, err error, hint time.Duration) {
	if r.attempt < r.maxAttempts {
		r.err = err
		r.delay = o.delayFor(r.attempt, hint)
		r.state = StateBackingOff
		return
	}
	o.breaker.RecordFailure(r.tier, hint)
	o.fail(r, err)
}

func (o *Orchestrator) delayFor(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		if hint > o.maxHintedDelay {
			return o.maxHintedDelay
		}
		return hint
	}
	return backoff(attempt, o.backoffBase, o.backoffCap, o.random)
}

func (o *Orchestrator) backingOff(ctx context.Context, r *run) {
	o.logger.Debug().
		Str("tier", r.tier).
		Int("attempt", r.attempt).
		Dur("delay", r.delay).
		AnErr("cause", r.err).
		Msg("retrying upstream call")
	if err := o.sleep(ctx, r.delay); err != nil {
		o.fail(r, &failure.TimeoutOrNetworkError{Timeout: true, Err: err})
		return
	}
	r.attempt++
	r.delay = 0
	r.state = StateDispatching
}

// rePruning rebuilds the payload with the tier's aggressive budget. The
// attempt counter is left alone.
func (o *Orchestrator) rePruning(r *run, summary string) {
	before := r.pruned.EstimatedTokensAfter
	r.budget = tier.Aggressive(r.budget)
	r.pruned = o.prune(r, summary, r.budget)
	r.rePruned = true
	r.state = StateDispatching
	o.logger.Info().
		Str("tier", r.tier).
		Int("tokens_before", before).
		Int("tokens_after", r.pruned.EstimatedTokensAfter).
		Int("budget", r.budget.InputTokens).
		Msg("re-pruned after context length rejection")
}

func (o *Orchestrator) fail(r *run, err error) {
	r.err = err
	r.state = StateFailed
}

func (o *Orchestrator) notify(r *run, from State) {
	if o.observer == nil {
		return
	}
	t := Transition{Tier: r.tier, From: from, To: r.state, Attempt: r.attempt}
	if r.state == StateBackingOff {
		t.Delay = r.delay
	}
	if r.state == StateFailed || r.state == StateBackingOff || r.state == StateRePruning {
		t.Err = r.err
	}
	o.observer.OnTransition(t)
}
