package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/danmuck/vizlink/internal/channel"
	"github.com/danmuck/vizlink/internal/protocol"
)

type emission struct {
	event   string
	payload any
}

// fakeChannel records emits and answers requests from a reply table.
// onEmit, when set, runs on the emitting goroutine after the emit is
// recorded.
type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string]channel.Handler
	emitted  []emission
	replies  map[string]json.RawMessage
	reqErr   error
	requests []string
	onEmit   func(event string)
	done     chan struct{}
	once     sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		handlers: make(map[string]channel.Handler),
		replies:  make(map[string]json.RawMessage),
		done:     make(chan struct{}),
	}
}

func (c *fakeChannel) On(event string, h channel.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

func (c *fakeChannel) Emit(event string, payload any) error {
	c.mu.Lock()
	c.emitted = append(c.emitted, emission{event: event, payload: payload})
	hook := c.onEmit
	c.mu.Unlock()
	if hook != nil {
		hook(event)
	}
	return nil
}

func (c *fakeChannel) Request(ctx context.Context, event string, _ any) (json.RawMessage, error) {
	c.mu.Lock()
	c.requests = append(c.requests, event)
	reply, ok := c.replies[event]
	err := c.reqErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return reply, nil
}

func (c *fakeChannel) Done() <-chan struct{} { return c.done }

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeChannel) handler(event string) channel.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[event]
}

func (c *fakeChannel) events(event string) []emission {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []emission
	for _, e := range c.emitted {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeState is a RenderState that records what it was handed.
type fakeState struct {
	mu        sync.Mutex
	buffers   []string
	textures  []string
	loaded    map[string][]byte
	texLoaded map[string]TextureBinding
	elements  map[string]int
	renders   []string
	renderErr error
}

func newFakeState(buffers, textures []string) *fakeState {
	return &fakeState{
		buffers:   buffers,
		textures:  textures,
		loaded:    make(map[string][]byte),
		texLoaded: make(map[string]TextureBinding),
	}
}

func (s *fakeState) BufferNames() []string  { return s.buffers }
func (s *fakeState) TextureNames() []string { return s.textures }

func (s *fakeState) SetElements(counts map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements = counts
}

func (s *fakeState) LoadBuffers(b map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range b {
		s.loaded[k] = v
	}
	return nil
}

func (s *fakeState) LoadTextures(b map[string]TextureBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range b {
		s.texLoaded[k] = v
	}
	return nil
}

func (s *fakeState) Render(tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renderErr != nil {
		return s.renderErr
	}
	s.renders = append(s.renders, tag)
	return nil
}

func (s *fakeState) renderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.renders)
}

type fakeRenderer struct {
	state *fakeState
	err   error
	got   protocol.RenderConfig
}

func (r *fakeRenderer) Init(cfg protocol.RenderConfig) (RenderState, error) {
	r.got = cfg
	if r.err != nil {
		return nil, r.err
	}
	return r.state, nil
}

var errBoom = errors.New("boom")

// fakeFetcher serves name repeated to the declared length. Names in fail
// error out; a fetch whose declared length is in block waits for release.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]bool
	block   map[int]bool
	release chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, kind protocol.ResourceKind, _ string, lengths map[string]int, name string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, string(kind)+"/"+name)
	fail := f.fail[name]
	block := f.block[lengths[name]]
	f.mu.Unlock()
	if block {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, name, errBoom)
	}
	out := make([]byte, lengths[name])
	for i := range out {
		out[i] = name[0]
	}
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newFakeSession(ch *fakeChannel) *Session {
	return NewSession(ch, "sid-1", protocol.Endpoint{Hostname: "worker", Port: 10000}, "http://worker:10000", http.DefaultClient)
}

type panicFetcher struct{}

func (panicFetcher) Fetch(context.Context, protocol.ResourceKind, string, map[string]int, string) ([]byte, error) {
	panic("fetcher exploded")
}
