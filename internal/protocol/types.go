package protocol

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
)

// Channel event names.
const (
	EventHandshake       = "viz"
	EventRenderConfig    = "render_config"
	EventFrameUpdate     = "vbo_update"
	EventPlannedRequests = "planned_binary_requests"
	EventReceivedBuffers = "received_buffers"
	EventBeginStreaming  = "begin_streaming"
)

// Envelope types.
const (
	EnvelopeEvent = "event"
	EnvelopeAck   = "ack"
)

// Envelope is one channel message. An event with a non-zero ID expects an
// ack carrying the same ID.
type Envelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (e Envelope) Validate() error {
	switch e.Type {
	case EnvelopeEvent:
		if e.Event == "" {
			return ErrMissingEventName
		}
	case EnvelopeAck:
		if e.ID == 0 {
			return ErrMissingAckID
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEnvelope, e.Type)
	}
	return nil
}

// ResourceKind names a class of fetchable worker resource.
type ResourceKind string

const (
	KindBuffer  ResourceKind = "buffer"
	KindTexture ResourceKind = "texture"
)

// Endpoint is the routed worker address returned by the resolver.
type Endpoint struct {
	Hostname  string
	Port      int
	Timestamp float64
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Hostname, strconv.Itoa(e.Port))
}

// URL derives scheme://hostname:port.
func (e Endpoint) URL(scheme string) string {
	return scheme + "://" + e.Address()
}

// Versions maps resource names to server versions, per kind.
type Versions struct {
	Buffers  map[string]int64 `json:"buffers,omitempty"`
	Textures map[string]int64 `json:"textures,omitempty"`
}

func (v Versions) For(kind ResourceKind) map[string]int64 {
	switch kind {
	case KindBuffer:
		return v.Buffers
	case KindTexture:
		return v.Textures
	default:
		return nil
	}
}

// TextureInfo is the per-texture metadata attached to a fetched payload.
type TextureInfo struct {
	Bytes  int    `json:"bytes"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"format,omitempty"`
}

// FrameUpdate is the per-frame message pushed by the worker.
type FrameUpdate struct {
	Step              int64                  `json:"step"`
	Elements          map[string]int         `json:"elements,omitempty"`
	Versions          Versions               `json:"versions"`
	BufferByteLengths map[string]int         `json:"bufferByteLengths,omitempty"`
	Textures          map[string]TextureInfo `json:"textures,omitempty"`
	IsPartial         bool                   `json:"isPartial,omitempty"`
}

// ByteLengths returns the declared byte length table for kind.
func (f FrameUpdate) ByteLengths(kind ResourceKind) map[string]int {
	switch kind {
	case KindBuffer:
		return f.BufferByteLengths
	case KindTexture:
		out := make(map[string]int, len(f.Textures))
		for name, info := range f.Textures {
			out[name] = info.Bytes
		}
		return out
	default:
		return nil
	}
}

// PlannedRequests announces the resources an epoch is about to fetch.
type PlannedRequests struct {
	Buffers  []string `json:"buffers"`
	Textures []string `json:"textures"`
}

// RenderConfig is opaque to the client; only the renderer interprets it.
type RenderConfig json.RawMessage

func (c RenderConfig) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(c).MarshalJSON()
}

func (c *RenderConfig) UnmarshalJSON(b []byte) error {
	*c = append((*c)[:0], b...)
	return nil
}
