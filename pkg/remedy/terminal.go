package remedy

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// TerminalSignatures are the diagnostic-text fragments treated as
// irrecoverable wherever they appear: in attempt error text, in reported
// event messages, or in monitor output.
var TerminalSignatures = []string{
	"unrecoverable",
	"irrecoverable",
	"corrupt beyond repair",
	"target bricked",
}

// Probe is a single irrecoverable-condition check. It returns whether the
// condition holds and a short human-readable reason.
type Probe struct {
	Name  string
	Check func(ctx context.Context) (bool, string)
}

// SignatureDetector aggregates probes into a TerminalDetector. The first
// probe that trips makes the whole detector report terminal; probes after it
// are not evaluated.
type SignatureDetector struct {
	probes []Probe
	logger zerolog.Logger
}

// NewSignatureDetector creates a detector over the given probes. A detector
// with no probes never reports terminal.
func NewSignatureDetector(logger zerolog.Logger, probes ...Probe) *SignatureDetector {
	return &SignatureDetector{
		probes: probes,
		logger: logger.With().Str("component", "terminal").Logger(),
	}
}

// AddProbe appends a probe. Not safe for use concurrently with IsTerminal.
func (d *SignatureDetector) AddProbe(p Probe) {
	d.probes = append(d.probes, p)
}

// IsTerminal reports whether any probe detects an irrecoverable target
// condition.
func (d *SignatureDetector) IsTerminal(ctx context.Context) bool {
	for _, p := range d.probes {
		tripped, reason := p.Check(ctx)
		if tripped {
			d.logger.Error().
				Str("probe", p.Name).
				Str("reason", reason).
				Msg("Terminal signature tripped")
			return true
		}
	}
	return false
}

// FileMarkerProbe trips when the marker file exists. Operators or external
// watchdogs drop the marker to force a run to stop before its next cycle.
func FileMarkerProbe(path string) Probe {
	return Probe{
		Name: "file_marker",
		Check: func(_ context.Context) (bool, string) {
			if _, err := os.Stat(path); err == nil {
				return true, "marker file present: " + path
			}
			return false, ""
		},
	}
}

// DiagnosticProbe trips when any of the given signature fragments appears in
// the recent diagnostic text. Matching is case-insensitive. An empty
// signature list falls back to TerminalSignatures.
func DiagnosticProbe(recent func() []string, signatures ...string) Probe {
	if len(signatures) == 0 {
		signatures = TerminalSignatures
	}
	return Probe{
		Name: "diagnostics",
		Check: func(_ context.Context) (bool, string) {
			for _, text := range recent() {
				lower := strings.ToLower(text)
				for _, sig := range signatures {
					if strings.Contains(lower, strings.ToLower(sig)) {
						return true, "signature " + sig + " in recent diagnostics"
					}
				}
			}
			return false, ""
		},
	}
}

// LivenessCheck is one basic is-the-target-responding check.
type LivenessCheck struct {
	Name  string
	Check func(ctx context.Context) bool
}

// LivenessProbe trips only when every check fails at once. A single failing
// check is ordinary degradation; losing all of them is the structural
// irrecoverable signal. A probe with no checks never trips.
func LivenessProbe(checks ...LivenessCheck) Probe {
	return Probe{
		Name: "liveness",
		Check: func(ctx context.Context) (bool, string) {
			if len(checks) == 0 {
				return false, ""
			}
			var failed []string
			for _, c := range checks {
				if c.Check(ctx) {
					return false, ""
				}
				failed = append(failed, c.Name)
			}
			return true, "all liveness checks failing: " + strings.Join(failed, ", ")
		},
	}
}

// StateProbe trips when the detector observes the given state. Used to treat
// a specific detected condition as irrecoverable.
func StateProbe(detector StateDetector, fatal TargetState) Probe {
	return Probe{
		Name: "state",
		Check: func(ctx context.Context) (bool, string) {
			state, err := detector.DetectState(ctx)
			if err != nil {
				return false, ""
			}
			if state == fatal {
				return true, "target entered state " + string(fatal)
			}
			return false, ""
		},
	}
}
