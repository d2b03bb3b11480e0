// Package methods provides manifest-driven remediation method implementations.
//
// Methods are declared in a YAML manifest rather than compiled in: each entry
// names a backend (an executable command or a WASM plugin), a risk tier, a
// base success probability, and capability-conditional probability boosts.
// The loader turns manifest entries into remedy.Candidate values ready for
// registration.
package methods
