// Package events provides an in-memory event broker used to observe the
// coordinator's event loop from the outside: worker admission/rejection,
// phase-engine edge transitions, checkpoint and restart lifecycle, and
// operator commands. Publish is non-blocking; slow or absent subscribers
// never stall the coordinator's single-threaded loop. The subscriber in
// this repository is cmd/dmtcp-coordinator's debug event tail; the audit
// log (pkg/storage) is written directly by the coordinator, not through
// a subscription.
package events
