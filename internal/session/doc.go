// Package session implements the authentication session engine: one
// state-machine goroutine per in-flight request, a registry that routes
// external events to the right goroutine, and the report outbox that
// holds a verdict until it is delivered upstream.
//
// Ownership boundary:
// - session lifecycle states and the transitions between them
// - external event intake (secrets, cancellations, revocations)
// - attempt accounting, per-round deadlines, retry pacing
// - terminal result emission, exactly once per session
package session
