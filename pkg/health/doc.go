// Package health provides a small Checker/Result/Status abstraction with
// hysteresis (consecutive-failure/success counting before flipping the
// reported state). The coordinator's only user is TCPChecker, which
// self-checks its own listening socket to back the "listener" readiness
// component reported by pkg/metrics. DMTCP workers are never health
// checked this way: once admitted, a worker's liveness is observed
// through the wire protocol and socket disconnects, not polling.
package health
