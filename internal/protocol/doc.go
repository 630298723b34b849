// Package protocol owns the worker wire contract.
//
// Ownership boundary:
// - channel envelope shape (event / ack)
// - resolver, handshake and render_config reply decoding
// - frame update message shape
//
// Every reply crossing a network boundary decodes into a Result so callers
// never probe optional fields.
package protocol
