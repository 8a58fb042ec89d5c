// Package metrics exposes Prometheus instrumentation for the coordinator:
// client registry size and per-state breakdown, phase-engine edge
// transitions and checkpoint-cycle latency, admission outcomes, lookup
// service hit/miss counts, operator command counts, and restart-script
// writes. Handler serves the standard /metrics exposition format;
// HealthHandler/ReadyHandler/LivenessHandler back the coordinator's
// /health, /ready and /live endpoints.
package metrics
