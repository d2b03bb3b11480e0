// Package telemetry provides the observability stack for openmend:
// structured logging built on zerolog, distributed tracing via
// OpenTelemetry, and Prometheus metrics covering runs, cycles, attempts,
// and daemon events.
package telemetry
