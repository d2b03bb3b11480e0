// Package remedy implements the adaptive escalation engine at the heart of
// OpenMend. It drives a managed target from a degraded state toward a declared
// goal state by repeatedly prioritizing, executing, and re-evaluating a set of
// pluggable remediation methods.
//
// The engine is organized around four pieces:
//
//   - Registry: holds registered methods with their risk tiers, filters the
//     ones available for the current context, and orders them by estimated
//     success probability.
//   - CycleRunner: executes one prioritize-then-attempt pass and records an
//     AttemptRecord per method tried.
//   - Orchestrator: drives cycles until the goal is reached, a terminal
//     condition is observed, the cycle budget is exhausted, or the caller
//     cancels. It owns backoff, strategy mutation, and escalation widening.
//   - SignatureDetector: the conservative terminal-condition check that stops
//     all further work when an irrecoverable signature is observed.
//
// Concrete methods, state detection, and audit persistence are collaborators
// supplied by the caller; the engine only depends on their interfaces.
package remedy
