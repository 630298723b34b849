package stream

import "errors"

var (
	ErrConnection      = errors.New("stream: connection failed")
	ErrSessionRejected = errors.New("stream: session rejected")
	ErrConfigFetch     = errors.New("stream: render config fetch failed")
	ErrFetch           = errors.New("stream: resource fetch failed")
	ErrRender          = errors.New("stream: render failed")
	ErrVizTypeRequired = errors.New("stream: viz type required")
	ErrNoResolver      = errors.New("stream: address resolver required")
)

const (
	msgConnectFailed     = "failed to connect to GPU worker"
	msgSessionRejected   = "connection rejected, likely due to a conflicting concurrent claim"
	msgConfigFetchFailed = "cannot get render configuration"
)
