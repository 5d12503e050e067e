// Package tier holds the per-tier budget and resilience settings.
package tier

import (
	"sort"
	"strings"
	"time"
)

// Name identifies a service tier.
type Name string

const (
	// Basic is the lower-cost tier and the fallback for unknown names.
	Basic Name = "basic"
	// Pro is the higher-capability tier.
	Pro Name = "pro"
)

const (
	aggressiveNumerator   = 7
	aggressiveDenominator = 10
	aggressiveMinTokens   = 2000
	minKeepLastTurns      = 2
)

// Budget bounds the prompt sent upstream for one call.
type Budget struct {
	InputTokens   int `yaml:"input_tokens" json:"input_tokens"`
	KeepLastTurns int `yaml:"keep_last_turns" json:"keep_last_turns"`
}

// Aggressive derives the stricter budget used after a context-length rejection.
// The token floor never raises the budget above the original.
func Aggressive(b Budget) Budget {
	tokens := b.InputTokens * aggressiveNumerator / aggressiveDenominator
	floor := aggressiveMinTokens
	if b.InputTokens < floor {
		floor = b.InputTokens
	}
	if tokens < floor {
		tokens = floor
	}
	keep := b.KeepLastTurns / 2
	if keep < minKeepLastTurns {
		keep = minKeepLastTurns
	}
	return Budget{InputTokens: tokens, KeepLastTurns: keep}
}

// Clamp bounds a caller-supplied budget by the tier limit. Zero fields take
// the limit; larger values are cut to it, and at least two turns are kept
// unless the limit itself keeps fewer.
func Clamp(override, limit Budget) Budget {
	out := override
	if out.InputTokens <= 0 || out.InputTokens > limit.InputTokens {
		out.InputTokens = limit.InputTokens
	}
	if out.KeepLastTurns <= 0 || out.KeepLastTurns > limit.KeepLastTurns {
		out.KeepLastTurns = limit.KeepLastTurns
	}
	if out.KeepLastTurns < minKeepLastTurns && limit.KeepLastTurns >= minKeepLastTurns {
		out.KeepLastTurns = minKeepLastTurns
	}
	return out
}

// Settings groups everything configured per tier.
type Settings struct {
	Budget           Budget
	BreakerThreshold int
	BreakerOpen      time.Duration
	ExtraRetries     int
	DefaultModel     string
}

// Policy resolves tier names to their settings.
type Policy struct {
	tiers    map[Name]Settings
	fallback Name
}

// DefaultSettings returns the built-in settings for both tiers.
func DefaultSettings() map[Name]Settings {
	return map[Name]Settings{
		Basic: {
			Budget:           Budget{InputTokens: 6000, KeepLastTurns: 8},
			BreakerThreshold: 5,
			BreakerOpen:      60 * time.Second,
		},
		Pro: {
			Budget:           Budget{InputTokens: 12000, KeepLastTurns: 12},
			BreakerThreshold: 3,
			BreakerOpen:      30 * time.Second,
			ExtraRetries:     1,
		},
	}
}

// NewPolicy builds a policy over the given tiers. Unknown names resolve to
// fallback, which must be present in tiers.
func NewPolicy(tiers map[Name]Settings, fallback Name) *Policy {
	copied := make(map[Name]Settings, len(tiers))
	for name, settings := range tiers {
		copied[normalize(string(name))] = settings
	}
	if _, ok := copied[fallback]; !ok {
		copied[fallback] = DefaultSettings()[Basic]
	}
	return &Policy{tiers: copied, fallback: fallback}
}

// DefaultPolicy returns the built-in two-tier policy.
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultSettings(), Basic)
}

// Resolve maps a raw tier name onto a configured tier.
func (p *Policy) Resolve(name string) Name {
	key := normalize(name)
	if _, ok := p.tiers[key]; ok {
		return key
	}
	return p.fallback
}

// Settings returns the settings for a tier name.
func (p *Policy) Settings(name string) Settings {
	return p.tiers[p.Resolve(name)]
}

// Budget returns the context budget for a tier name.
func (p *Policy) Budget(name string) Budget {
	return p.Settings(name).Budget
}

// Names lists configured tiers in sorted order.
func (p *Policy) Names() []Name {
	names := make([]Name, 0, len(p.tiers))
	for name := range p.tiers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func normalize(name string) Name {
	return Name(strings.ToLower(strings.TrimSpace(name)))
}
