package remedy

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Registry holds the registered remediation methods and implements
// prioritization. The active set is read-only during a run: escalation
// widening produces a new snapshot instead of mutating the slice an in-flight
// prioritization may be reading.
type Registry struct {
	mu sync.RWMutex

	// base holds methods active from the first cycle.
	base []Candidate

	// escalation holds higher-risk methods that join the active set only
	// after the consecutive-failure threshold is crossed.
	escalation []Candidate

	// widened is true once the escalation set has been activated. Widening is
	// strictly additive and never reverses within a run.
	widened bool

	// gate is the optional policy veto consulted per candidate.
	gate PolicyGate

	logger zerolog.Logger
}

// ScoredCandidate is a candidate with its computed priority score.
type ScoredCandidate struct {
	Candidate

	// Score is the clamped success probability estimate.
	Score float64
}

// NewRegistry creates an empty method registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// WithPolicyGate sets the policy gate consulted during prioritization.
func (r *Registry) WithPolicyGate(gate PolicyGate) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = gate
	return r
}

// Register adds a candidate to the registry. Names must be unique across the
// base and escalation sets.
func (r *Registry) Register(c Candidate) error {
	if c.Method == nil {
		return NewPermanentError("candidate has no method", nil).WithCode(ErrCodeValidation)
	}
	if err := c.Risk.Validate(); err != nil {
		return NewPermanentError("candidate has invalid risk tier", err).
			WithCode(ErrCodeValidation).WithMethod(c.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range append(append([]Candidate{}, r.base...), r.escalation...) {
		if existing.Name() == c.Name() {
			return NewPermanentError(
				fmt.Sprintf("method already registered: %s", c.Name()), nil).
				WithCode(ErrCodeValidation).WithMethod(c.Name())
		}
	}

	if c.Escalation {
		r.escalation = append(r.escalation, c)
	} else {
		r.base = append(r.base, c)
	}

	r.logger.Debug().
		Str("method", c.Name()).
		Str("risk", string(c.Risk)).
		Bool("escalation", c.Escalation).
		Msg("Method registered")

	return nil
}

// Widen activates the escalation method set for subsequent cycles. It is
// idempotent and returns true on the first activation.
func (r *Registry) Widen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.widened {
		return false
	}
	r.widened = true

	r.logger.Warn().
		Int("added", len(r.escalation)).
		Msg("Escalation threshold crossed, widening active method set")

	return true
}

// Widened reports whether the escalation set is active.
func (r *Registry) Widened() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.widened
}

// Active returns a snapshot copy of the currently active candidate set.
func (r *Registry) Active() []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

func (r *Registry) activeLocked() []Candidate {
	active := make([]Candidate, 0, len(r.base)+len(r.escalation))
	active = append(active, r.base...)
	if r.widened {
		active = append(active, r.escalation...)
	}
	return active
}

// Prioritize filters the active set down to available candidates and orders
// them by estimated success probability (descending), breaking ties by
// ascending risk tier. Residual ties are shuffled with the profile's seed so
// strategy mutation can reorder equivalent methods between cycles. An empty
// result is a valid outcome.
func (r *Registry) Prioritize(ctx context.Context, profile *ContextProfile) []ScoredCandidate {
	r.mu.RLock()
	active := r.activeLocked()
	gate := r.gate
	r.mu.RUnlock()

	candidates := make([]ScoredCandidate, 0, len(active))

	for _, c := range active {
		if !r.eligible(ctx, profile, c, gate) {
			continue
		}

		score := c.Method.EstimateProbability(profile)
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}

		candidates = append(candidates, ScoredCandidate{Candidate: c, Score: score})
	}

	// Seeded pre-shuffle so candidates with identical score and risk rotate
	// between cycles; the stable sort preserves this order for exact ties.
	rng := rand.New(rand.NewSource(profile.Seed))
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Risk.Ordinal() < candidates[j].Risk.Ordinal()
	})

	return candidates
}

// eligible applies the availability, prerequisite, and policy filters.
func (r *Registry) eligible(ctx context.Context, profile *ContextProfile, c Candidate, gate PolicyGate) bool {
	for _, prereq := range c.Method.Prerequisites() {
		if !profile.HasCapability(prereq) {
			r.logger.Debug().
				Str("method", c.Name()).
				Str("prerequisite", prereq).
				Msg("Method skipped, prerequisite missing")
			return false
		}
	}

	if !c.Method.IsAvailable(profile) {
		return false
	}

	if gate != nil {
		allowed, reason, err := gate.AllowMethod(ctx, profile, c)
		if err != nil {
			// A broken gate must not widen the blast radius: treat evaluation
			// failure as a denial and keep going.
			r.logger.Warn().Err(err).
				Str("method", c.Name()).
				Msg("Policy evaluation failed, skipping method")
			return false
		}
		if !allowed {
			r.logger.Info().
				Str("method", c.Name()).
				Str("reason", reason).
				Msg("Method denied by policy")
			return false
		}
	}

	return true
}
