package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Result is the decoded outcome of one worker reply: either a value or a
// failure reason. A malformed reply is a failure with no reason and a
// decode cause.
type Result[T any] struct {
	value  T
	ok     bool
	reason string
	cause  error
}

func Ok[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

func Err[T any](reason string) Result[T] {
	return Result[T]{reason: strings.TrimSpace(reason)}
}

func Malformed[T any](cause error) Result[T] {
	return Result[T]{cause: cause}
}

func (r Result[T]) OK() bool       { return r.ok }
func (r Result[T]) Value() T       { return r.value }
func (r Result[T]) Reason() string { return r.reason }
func (r Result[T]) Cause() error   { return r.cause }

// Get returns the value on success. On failure it wraps base with the
// server reason, or with fallback when the server gave none.
func (r Result[T]) Get(base error, fallback string) (T, error) {
	if r.ok {
		return r.value, nil
	}
	var zero T
	msg := r.reason
	if msg == "" {
		msg = fallback
	}
	if r.cause != nil {
		return zero, fmt.Errorf("%w: %s (%v)", base, msg, r.cause)
	}
	return zero, fmt.Errorf("%w: %s", base, msg)
}

type ackReply struct {
	Success      bool            `json:"success"`
	Error        string          `json:"error,omitempty"`
	RenderConfig json.RawMessage `json:"renderConfig,omitempty"`
}

type endpointReply struct {
	Hostname  string          `json:"hostname"`
	Port      json.Number     `json:"port"`
	Timestamp json.Number     `json:"timestamp"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// DecodeAck decodes a {success, error} reply. Only an explicit
// success=true is positive.
func DecodeAck(raw []byte) Result[struct{}] {
	reply, err := decodeAckReply(raw)
	if err != nil {
		return Malformed[struct{}](err)
	}
	if !reply.Success {
		return Err[struct{}](reply.Error)
	}
	return Ok(struct{}{})
}

// DecodeRenderConfig decodes a {success, error, renderConfig} reply.
func DecodeRenderConfig(raw []byte) Result[RenderConfig] {
	reply, err := decodeAckReply(raw)
	if err != nil {
		return Malformed[RenderConfig](err)
	}
	if !reply.Success {
		return Err[RenderConfig](reply.Error)
	}
	if isNull(reply.RenderConfig) {
		return Malformed[RenderConfig](fmt.Errorf("%w: missing renderConfig", ErrMalformedReply))
	}
	return Ok(RenderConfig(reply.RenderConfig))
}

// DecodeEndpoint decodes a resolver reply: {hostname, port, timestamp} or
// {error}.
func DecodeEndpoint(raw []byte) Result[Endpoint] {
	if isNull(raw) {
		return Malformed[Endpoint](ErrEmptyReply)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var reply endpointReply
	if err := dec.Decode(&reply); err != nil {
		return Malformed[Endpoint](fmt.Errorf("%w: %v", ErrMalformedReply, err))
	}
	if !isNull(reply.Error) {
		var msg string
		if err := json.Unmarshal(reply.Error, &msg); err != nil {
			msg = string(reply.Error)
		}
		return Err[Endpoint](msg)
	}
	if strings.TrimSpace(reply.Hostname) == "" {
		return Malformed[Endpoint](fmt.Errorf("%w: missing hostname", ErrMalformedReply))
	}
	port, err := reply.Port.Int64()
	if err != nil || port <= 0 || port > 65535 {
		return Malformed[Endpoint](fmt.Errorf("%w: invalid port %q", ErrMalformedReply, reply.Port))
	}
	ep := Endpoint{Hostname: strings.TrimSpace(reply.Hostname), Port: int(port)}
	if reply.Timestamp != "" {
		ts, err := reply.Timestamp.Float64()
		if err != nil {
			return Malformed[Endpoint](fmt.Errorf("%w: invalid timestamp %q", ErrMalformedReply, reply.Timestamp))
		}
		ep.Timestamp = ts
	}
	return Ok(ep)
}

// DecodeFrameUpdate decodes a worker frame update message.
func DecodeFrameUpdate(raw []byte) (FrameUpdate, error) {
	if isNull(raw) {
		return FrameUpdate{}, ErrEmptyReply
	}
	var msg FrameUpdate
	if err := json.Unmarshal(raw, &msg); err != nil {
		return FrameUpdate{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return msg, nil
}

// DecodeEnvelope decodes and validates one channel message.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func decodeAckReply(raw []byte) (ackReply, error) {
	if isNull(raw) {
		return ackReply{}, ErrEmptyReply
	}
	var reply ackReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return ackReply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return reply, nil
}

func isNull(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
