package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/vizlink/internal/channel"
	"github.com/danmuck/vizlink/internal/logging"
	"github.com/danmuck/vizlink/internal/observability"
	"github.com/danmuck/vizlink/internal/protocol"
)

// DefaultRenderTag labels renders triggered by new worker data.
const DefaultRenderTag = "clientNewVbos"

type EngineOptions struct {
	// RenderOutOfOrder renders every completed epoch, even one that
	// finishes after a newer epoch has rendered. By default such stale
	// epochs are acked and dropped.
	RenderOutOfOrder bool
	Fetcher          ResourceFetcher
	RenderTag        string
	Now              func() time.Time
	Logger           *zerolog.Logger
}

// Engine keeps a RenderState in sync with the worker, one epoch per
// frame update message.
type Engine struct {
	ch        Channel
	ctx       context.Context
	sessionID string
	state     RenderState
	fetcher   ResourceFetcher
	opts      EngineOptions
	log       zerolog.Logger

	bufferNames  []string
	textureNames []string

	versions  *VersionTable
	lifecycle *Lifecycle
	seq       atomic.Uint64
	inflight  sync.WaitGroup

	// render section: ack pacing, renderer calls, version advance
	mu           sync.Mutex
	lastAck      time.Time
	lastRendered uint64
}

func NewEngine(s *Session, state RenderState, opts EngineOptions) *Engine {
	if opts.Fetcher == nil {
		opts.Fetcher = NewHTTPFetcher(s.BaseURL, s.HTTPClient)
	}
	if opts.RenderTag == "" {
		opts.RenderTag = DefaultRenderTag
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		ch:           s.Channel,
		ctx:          s.Context(),
		sessionID:    s.ID,
		state:        state,
		fetcher:      opts.Fetcher,
		opts:         opts,
		log:          logging.OrDefault(opts.Logger).With().Str("component", "stream.engine").Logger(),
		bufferNames:  append([]string(nil), state.BufferNames()...),
		textureNames: append([]string(nil), state.TextureNames()...),
		versions:     NewVersionTable(),
		lifecycle:    NewLifecycle(),
		lastAck:      opts.Now(),
	}
	e.log.Debug().Strs("buffers", e.bufferNames).Strs("textures", e.textureNames).Msg("worker resources")
	return e
}

// Start subscribes to frame updates and asks the worker to begin
// streaming. The returned marker channel is subscribed before
// begin_streaming goes out, so it sees every epoch from the first one on.
// It closes when the session ends.
func (e *Engine) Start() (<-chan Marker, func()) {
	markers, cancel := e.lifecycle.Subscribe()
	e.ch.On(protocol.EventFrameUpdate, func(data json.RawMessage, ack channel.AckFunc) {
		msg, err := protocol.DecodeFrameUpdate(data)
		if err != nil {
			e.log.Error().Err(err).Msg("dropping undecodable frame update")
			observability.RecordEpoch("failed")
			return
		}
		e.HandleUpdate(msg, ack)
	})
	go func() {
		<-e.ctx.Done()
		e.lifecycle.Close()
	}()
	if err := e.ch.Emit(protocol.EventBeginStreaming, nil); err != nil {
		e.log.Error().Err(err).Msg("begin_streaming failed")
	}
	return markers, cancel
}

func (e *Engine) Lifecycle() *Lifecycle {
	return e.lifecycle
}

func (e *Engine) Versions() *VersionTable {
	return e.versions
}

// Wait blocks until every epoch's fetch legs have finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// HandleUpdate opens an epoch for msg: it diffs and announces inline, then
// fetches both legs concurrently. ack, when non-nil, is answered with the
// elapsed milliseconds since the previous ack once the epoch's gate opens.
func (e *Engine) HandleUpdate(msg protocol.FrameUpdate, ack channel.AckFunc) {
	ep := &epoch{
		seq:   e.seq.Add(1),
		msg:   msg,
		ack:   ack,
		state: epochOpened,
	}
	ep.log = e.log.With().Uint64("epoch", ep.seq).Int64("step", msg.Step).Logger()
	defer e.recoverEpoch(ep)

	ep.log.Debug().Msg("frame update")
	e.publish(StageStart, ep)

	ep.setState(epochDiffing)
	ep.changed = map[protocol.ResourceKind][]string{
		protocol.KindBuffer:  e.versions.Changed(protocol.KindBuffer, e.bufferNames, msg.Versions.Buffers),
		protocol.KindTexture: e.versions.Changed(protocol.KindTexture, e.textureNames, msg.Versions.Textures),
	}
	planned := protocol.PlannedRequests{
		Buffers:  ep.changed[protocol.KindBuffer],
		Textures: ep.changed[protocol.KindTexture],
	}
	ep.log.Debug().Strs("buffers", planned.Buffers).Strs("textures", planned.Textures).Msg("changed resources")
	if err := e.ch.Emit(protocol.EventPlannedRequests, planned); err != nil {
		ep.log.Warn().Err(err).Msg("planned_binary_requests not sent")
	}

	ep.setState(epochFetching)
	ep.buffers = make(map[string][]byte, len(planned.Buffers))
	ep.textures = make(map[string]TextureBinding, len(planned.Textures))
	g := newGate(func() { e.complete(ep) }, string(protocol.KindBuffer), string(protocol.KindTexture))
	e.inflight.Add(2)
	go e.runLeg(ep, protocol.KindBuffer, g)
	go e.runLeg(ep, protocol.KindTexture, g)
}

func (e *Engine) runLeg(ep *epoch, kind protocol.ResourceKind, g *gate) {
	defer e.inflight.Done()
	defer e.recoverEpoch(ep)

	names := ep.changed[kind]
	lengths := ep.msg.ByteLengths(kind)
	payloads, errs := e.fetchAll(kind, names, lengths)
	if err := errors.Join(errs...); err != nil {
		e.failEpoch(ep, fmt.Errorf("%s leg: %w", kind, err), nil)
		return
	}

	ep.mu.Lock()
	for i, name := range names {
		switch kind {
		case protocol.KindBuffer:
			ep.buffers[name] = payloads[i]
		case protocol.KindTexture:
			ep.textures[name] = TextureBinding{TextureInfo: ep.msg.Textures[name], Data: payloads[i]}
		}
	}
	ep.mu.Unlock()
	ep.log.Debug().Str("kind", string(kind)).Int("count", len(names)).Msg("leg assembled")

	if kind == protocol.KindBuffer {
		if err := e.ch.Emit(protocol.EventReceivedBuffers, nil); err != nil {
			ep.log.Warn().Err(err).Msg("received_buffers not sent")
		}
	}
	g.arrive(string(kind))
}

// fetchAll fetches names concurrently. A failure never cancels siblings;
// every fetch is joined.
func (e *Engine) fetchAll(kind protocol.ResourceKind, names []string, lengths map[string]int) ([][]byte, []error) {
	payloads := make([][]byte, len(names))
	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		i, name := i, name
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("%w: %s %q: panic: %v", ErrFetch, kind, name, r)
				}
			}()
			start := time.Now()
			data, err := e.fetcher.Fetch(e.ctx, kind, e.sessionID, lengths, name)
			observability.RecordFetch(string(kind), len(data), time.Since(start), err)
			payloads[i], errs[i] = data, err
		}()
	}
	wg.Wait()
	return payloads, errs
}

// complete runs when both legs of ep have arrived.
func (e *Engine) complete(ep *epoch) {
	ep.setState(epochAssembling)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.opts.Now()
	elapsed := now.Sub(e.lastAck)
	e.lastAck = now
	if ep.ack != nil {
		if err := ep.ack(elapsed.Milliseconds()); err != nil {
			ep.log.Warn().Err(err).Msg("frame ack not sent")
		}
	}
	observability.RecordFrameAck(elapsed)

	if !e.opts.RenderOutOfOrder && ep.seq < e.lastRendered {
		ep.setState(epochFailed)
		ep.log.Debug().Uint64("rendered", e.lastRendered).Msg("dropping stale epoch")
		observability.RecordEpoch("superseded")
		return
	}

	e.publish(StageReceived, ep)
	if err := e.load(ep); err != nil {
		e.failEpoch(ep, err, nil)
		return
	}
	if err := e.state.Render(e.opts.RenderTag); err != nil {
		e.failEpoch(ep, fmt.Errorf("%w: %v", ErrRender, err), nil)
		return
	}

	e.versions.Advance(protocol.KindBuffer, fetchedVersions(ep.changed[protocol.KindBuffer], ep.msg.Versions.Buffers))
	e.versions.Advance(protocol.KindTexture, fetchedVersions(ep.changed[protocol.KindTexture], ep.msg.Versions.Textures))
	if ep.seq > e.lastRendered {
		e.lastRendered = ep.seq
	}
	ep.setState(epochComplete)
	e.publish(StageRendered, ep)
	observability.RecordEpoch("rendered")
	ep.log.Debug().Msg("frame rendered")
}

func (e *Engine) load(ep *epoch) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if len(ep.buffers) > 0 {
		if err := e.state.LoadBuffers(ep.buffers); err != nil {
			return fmt.Errorf("%w: load buffers: %v", ErrRender, err)
		}
	}
	e.state.SetElements(ep.msg.Elements)
	if len(ep.textures) > 0 {
		if err := e.state.LoadTextures(ep.textures); err != nil {
			return fmt.Errorf("%w: load textures: %v", ErrRender, err)
		}
	}
	return nil
}

func (e *Engine) publish(stage Stage, ep *epoch) {
	e.lifecycle.Publish(Marker{
		Stage:     stage,
		Epoch:     ep.seq,
		Step:      ep.msg.Step,
		IsPartial: ep.msg.IsPartial,
		Elements:  ep.msg.Elements,
		At:        e.opts.Now(),
	})
}

func (e *Engine) recoverEpoch(ep *epoch) {
	if r := recover(); r != nil {
		e.failEpoch(ep, fmt.Errorf("panic: %v", r), debug.Stack())
	}
}

func (e *Engine) failEpoch(ep *epoch, err error, stack []byte) {
	prev, ok := ep.fail()
	if !ok {
		return
	}
	ev := ep.log.Error().Err(err).Str("state", string(prev))
	if stack != nil {
		ev = ev.Bytes("stack", stack)
	}
	ev.Msg("epoch failed")
	observability.RecordEpoch("failed")
}

func fetchedVersions(names []string, reported map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(names))
	for _, name := range names {
		out[name] = reported[name]
	}
	return out
}
