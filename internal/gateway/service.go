package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"aigateway/internal/chat"
	"aigateway/internal/failure"
	"aigateway/internal/ledger"
	"aigateway/internal/logging"
	"aigateway/internal/models"
	"aigateway/internal/orchestrator"
	"aigateway/internal/profile"
	"aigateway/internal/prune"
	"aigateway/internal/ratelimit"
	"aigateway/internal/tier"
	"aigateway/internal/upstream"
)

// Default rate-limit window applied when enabled without explicit settings.
const (
	DefaultRateLimitMax    = 30
	DefaultRateLimitWindow = time.Minute
)

// RateLimit bounds how many generations one caller may start per window.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// Config wires a Service. A nil Completer leaves the gateway disabled: every
// Generate fails with a ConfigurationError before touching the ledger.
type Config struct {
	State     *State
	Policy    *tier.Policy
	Completer upstream.Completer
	Profiles  profile.Store
	// Models maps tier names to model ids used when the profile store has
	// no tier default.
	Models    map[string]string
	Ledger    ledger.Client
	RateLimit RateLimit
	// Orchestrator carries retry, backoff and timeout knobs. Its Completer,
	// Breaker, Policy and Logger fields are filled by New.
	Orchestrator orchestrator.Config
	Clock        Clock
	Logger       *zerolog.Logger
}

// GenerateRequest is one guarded generation.
type GenerateRequest struct {
	UserID         string
	RemoteAddr     string
	Tier           string
	CaseID         string
	RoundID        string
	Reason         string
	Messages       []chat.Message
	Temperature    *float64
	MaxTokens      *int
	RollingSummary string
	Budget         *tier.Budget
}

// GenerateResult is a successful generation.
type GenerateResult struct {
	Content     string
	Model       string
	Tier        string
	RequestID   string
	OperationID string
	Attempts    int
	RePruned    bool
	Remaining   int64
	Prune       prune.Result
}

// Service runs generations: rate limit, resolve the model, consume a session
// credit, dispatch, and refund the credit when dispatch fails.
type Service struct {
	state     *State
	policy    *tier.Policy
	resolver  *models.Resolver
	guard     *ledger.Guard
	orch      *orchestrator.Orchestrator
	disabled  error
	rateLimit RateLimit
	clock     Clock
	logger    zerolog.Logger
}

// New builds a Service. A missing upstream client does not fail
// construction; the service starts disabled instead.
func New(cfg Config) (*Service, error) {
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Policy == nil {
		cfg.Policy = tier.DefaultPolicy()
	}
	if cfg.State == nil {
		cfg.State = NewState(StateConfig{Clock: cfg.Clock, Policy: cfg.Policy, Logger: cfg.Logger})
	}
	if cfg.State.Breakers == nil {
		cfg.State.Breakers = NewState(StateConfig{Clock: cfg.Clock, Policy: cfg.Policy, Logger: cfg.Logger}).Breakers
	}
	if cfg.State.Limiter == nil {
		cfg.State.Limiter = ratelimit.Noop
	}
	if cfg.RateLimit.Max <= 0 {
		cfg.RateLimit.Max = DefaultRateLimitMax
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = DefaultRateLimitWindow
	}
	defaults := map[string]string{}
	for _, name := range cfg.Policy.Names() {
		if model := cfg.Policy.Settings(string(name)).DefaultModel; model != "" {
			defaults[string(name)] = model
		}
	}
	for name, model := range cfg.Models {
		defaults[string(cfg.Policy.Resolve(name))] = model
	}
	logger := logging.OrNop(cfg.Logger)
	svc := &Service{
		state:  cfg.State,
		policy: cfg.Policy,
		resolver: models.NewResolver(models.Config{
			Store:    cfg.Profiles,
			Cache:    cfg.State.ModelCache,
			Defaults: defaults,
			Logger:   cfg.Logger,
		}),
		guard:     ledger.NewGuard(ledger.GuardConfig{Client: cfg.Ledger, Logger: cfg.Logger}),
		rateLimit: cfg.RateLimit,
		clock:     cfg.Clock,
		logger:    logger,
	}
	orchCfg := cfg.Orchestrator
	orchCfg.Completer = cfg.Completer
	orchCfg.Breaker = cfg.State.Breakers
	orchCfg.Policy = cfg.Policy
	orchCfg.Logger = cfg.Logger
	orch, err := orchestrator.New(orchCfg)
	if err != nil {
		if failure.KindOf(err) != failure.KindConfiguration {
			return nil, err
		}
		logger.Warn().Err(err).Msg("gateway disabled")
		svc.disabled = err
		return svc, nil
	}
	svc.orch = orch
	return svc, nil
}

// Enabled reports whether an upstream client is configured.
func (s *Service) Enabled() bool {
	return s.disabled == nil
}

// Admit records one hit against the caller's rate-limit window and returns a
// RateLimitedError once the window is full. Callers without a user id are
// keyed by network address, so requests that fail authentication still
// count.
func (s *Service) Admit(userID, remoteAddr string) error {
	key := ratelimit.KeyFor(userID, remoteAddr)
	decision := s.state.Limiter.Check(key, s.rateLimit.Max, s.rateLimit.Window)
	if decision.Allowed {
		return nil
	}
	return &failure.RateLimitedError{
		Key:        key,
		ResetAt:    decision.ResetAt,
		RetryAfter: decision.RetryAfter(s.clock.Now()),
	}
}

// Generate runs one guarded generation. Errors are typed failures from the
// failure package.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if s.disabled != nil {
		return GenerateResult{}, s.disabled
	}
	if strings.TrimSpace(req.UserID) == "" {
		return GenerateResult{}, &failure.InvalidRequestError{Reason: "user id is required"}
	}
	if len(chat.Sanitize(req.Messages)) == 0 {
		return GenerateResult{}, &failure.InvalidRequestError{Reason: "at least one non-empty message is required"}
	}
	if err := s.Admit(req.UserID, req.RemoteAddr); err != nil {
		return GenerateResult{}, err
	}

	tierName := string(s.policy.Resolve(req.Tier))
	model, err := s.resolver.Resolve(ctx, tierName, req.UserID)
	if err != nil {
		return GenerateResult{}, err
	}

	charge := ledger.Charge{
		UserID:  strings.TrimSpace(req.UserID),
		Plan:    tierName,
		CaseID:  req.CaseID,
		RoundID: req.RoundID,
		Reason:  req.Reason,
	}
	var (
		result      orchestrator.Result
		operationID string
	)
	consumed, err := s.guard.Run(ctx, charge, func(ctx context.Context, charge ledger.Charge) error {
		operationID = charge.OperationID
		var dispatchErr error
		result, dispatchErr = s.orch.Dispatch(ctx, orchestrator.Request{
			Model:          model,
			Tier:           tierName,
			Messages:       req.Messages,
			Temperature:    req.Temperature,
			MaxTokens:      req.MaxTokens,
			RollingSummary: req.RollingSummary,
			Budget:         req.Budget,
		})
		return dispatchErr
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("kind", string(failure.KindOf(err))).
			Str("user_id", charge.UserID).
			Str("tier", tierName).
			Str("operation_id", operationID).
			Msg("generation failed")
		return GenerateResult{}, err
	}
	s.logger.Info().
		Str("user_id", charge.UserID).
		Str("tier", tierName).
		Str("model", model).
		Str("request_id", result.RequestID).
		Int("attempts", result.Attempts).
		Bool("re_pruned", result.RePruned).
		Int("tokens_after", result.Prune.EstimatedTokensAfter).
		Msg("generation completed")
	return GenerateResult{
		Content:     result.Content,
		Model:       model,
		Tier:        tierName,
		RequestID:   result.RequestID,
		OperationID: operationID,
		Attempts:    result.Attempts,
		RePruned:    result.RePruned,
		Remaining:   consumed.Remaining,
		Prune:       result.Prune,
	}, nil
}
