// Package health provides composable probes and the liveness and readiness
// handlers served on both the public and ops listeners.
//
// Probes combine with [All] (AND), [Any] (OR) and [Fixed] (static);
// [CheckFunc] adapts a plain function. Readiness for the menu service is
// All(shutdown gate, content loaded).
//
// [ShutdownGate] fails readiness as soon as draining starts so load
// balancers stop routing before in-flight requests finish.
package health
