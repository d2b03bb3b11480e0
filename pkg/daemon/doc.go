// Package daemon runs the concurrent event-processing side of openmend. A
// Daemon owns three execution units sharing one bounded FIFO queue: a monitor
// unit polling registered monitors and built-in health probes, a handler unit
// dispatching events to per-category handlers, and an update unit applying
// method-manifest updates atomically.
//
// Handler faults never stop the daemon. The single exception is
// SeverityTerminal, which clears the shared running flag and halts all three
// units.
package daemon
