package protocol

import "errors"

var (
	ErrEmptyReply       = errors.New("protocol: empty reply")
	ErrMalformedReply   = errors.New("protocol: malformed reply")
	ErrUnknownEnvelope  = errors.New("protocol: unknown envelope type")
	ErrMissingEventName = errors.New("protocol: event envelope missing event name")
	ErrMissingAckID     = errors.New("protocol: ack envelope missing id")
)
