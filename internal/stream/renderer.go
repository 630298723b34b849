package stream

import "github.com/danmuck/vizlink/internal/protocol"

// Renderer builds the scene state from the worker's render configuration.
type Renderer interface {
	Init(cfg protocol.RenderConfig) (RenderState, error)
}

// RenderState is the renderer-owned scene. The engine only hands it
// complete bindings after an epoch's gate opens.
type RenderState interface {
	// BufferNames and TextureNames list the worker resources the scene
	// consumes, in fetch order.
	BufferNames() []string
	TextureNames() []string

	SetElements(counts map[string]int)
	LoadBuffers(bindings map[string][]byte) error
	LoadTextures(bindings map[string]TextureBinding) error
	Render(tag string) error
}

// TextureBinding is a fetched texture payload with its metadata.
type TextureBinding struct {
	protocol.TextureInfo
	Data []byte
}
