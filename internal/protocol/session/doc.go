// Package session owns worker session establishment primitives.
//
// Ownership boundary:
// - establishment retry policy (fixed ceiling, fixed delay)
// - session timeouts
// - client transport security
package session
