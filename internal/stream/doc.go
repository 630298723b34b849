// Package stream owns the worker session and frame synchronization.
//
// Ownership boundary:
// - session negotiation (resolve -> connect -> handshake, bounded retries)
// - render configuration exchange
// - per-frame resource diffing, fetching and render gating
//
// Lifecycle order:
// - Connect -> CreateRenderer -> NewEngine -> Start
//
// - an epoch renders only after every resource leg has arrived.
//
// - a failed epoch is logged and dropped; the engine keeps serving frames.
//
// The renderer itself is external and reached only through RenderState.
package stream
