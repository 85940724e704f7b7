// Package replication keeps a user's secondaries caught up with the primary.
//
// The primary side compares clocks and notifies: for every secondary whose
// replicated clock for a user is below the primary's committed max clock, the
// Reconciler sends POST /sync and moves on without waiting for the pull.
// Failures are reported as outcomes and are not retried; the next pass
// recomputes the lag from clock state and notifies again.
//
// The secondary side pulls: the Server accepts the trigger and the Syncer
// fetches the delta after its local clock from the primary's /export
// endpoint and applies it in one store transaction.
//
// Replica sets come from the external node registry and are held in an
// Arena, an immutable lookup built once per run.
package replication
