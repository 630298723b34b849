// Package channel is the persistent worker transport: a websocket carrying
// named events and acked requests as JSON envelopes.
//
// The channel never reconnects on its own. A read or write failure closes
// it, wakes every pending request with ErrClosed and closes Done.
package channel
