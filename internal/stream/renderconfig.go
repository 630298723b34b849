package stream

import (
	"context"
	"fmt"

	"github.com/danmuck/vizlink/internal/observability"
	"github.com/danmuck/vizlink/internal/protocol"
)

// FetchRenderConfig asks the worker for its render configuration. Exactly
// one reply is consumed.
func FetchRenderConfig(ctx context.Context, s *Session) (protocol.RenderConfig, error) {
	raw, err := s.Channel.Request(ctx, protocol.EventRenderConfig, nil)
	if err != nil {
		observability.RecordEstablish("render_config", err)
		return nil, fmt.Errorf("%w: %s (%v)", ErrConfigFetch, msgConfigFetchFailed, err)
	}
	cfg, err := protocol.DecodeRenderConfig(raw).Get(ErrConfigFetch, msgConfigFetchFailed)
	observability.RecordEstablish("render_config", err)
	return cfg, err
}

// CreateRenderer fetches the render configuration and initializes r with it.
func CreateRenderer(ctx context.Context, s *Session, r Renderer) (RenderState, error) {
	cfg, err := FetchRenderConfig(ctx, s)
	if err != nil {
		return nil, err
	}
	state, err := r.Init(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: renderer init: %v", ErrConfigFetch, err)
	}
	return state, nil
}
