// Package render holds a headless renderer: it keeps the bound worker
// resources in memory and records each frame instead of drawing it.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/vizlink/internal/logging"
	"github.com/danmuck/vizlink/internal/protocol"
	"github.com/danmuck/vizlink/internal/stream"
)

var (
	ErrInvalidConfig   = errors.New("render: invalid render config")
	ErrUnknownResource = errors.New("render: unknown resource")
	ErrShortTexture    = errors.New("render: texture shorter than declared")
)

// SceneConfig is the part of the worker render configuration the headless
// renderer understands: the server-side resources the scene consumes.
type SceneConfig struct {
	Buffers  []string `json:"buffers"`
	Textures []string `json:"textures"`
}

// ParseSceneConfig decodes cfg. Duplicate and blank names are dropped;
// order is kept.
func ParseSceneConfig(cfg protocol.RenderConfig) (SceneConfig, error) {
	var sc SceneConfig
	if err := json.Unmarshal(cfg, &sc); err != nil {
		return SceneConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	sc.Buffers = uniqueNames(sc.Buffers)
	sc.Textures = uniqueNames(sc.Textures)
	return sc, nil
}

// Frame is one recorded render.
type Frame struct {
	Tag         string
	Elements    map[string]int
	BufferBytes map[string]int
	TextureDims map[string][2]int
	At          time.Time
}

// Headless implements stream.Renderer.
type Headless struct {
	Logger *zerolog.Logger
	Now    func() time.Time
}

func (h Headless) Init(cfg protocol.RenderConfig) (stream.RenderState, error) {
	sc, err := ParseSceneConfig(cfg)
	if err != nil {
		return nil, err
	}
	now := h.Now
	if now == nil {
		now = time.Now
	}
	log := logging.OrDefault(h.Logger).With().Str("component", "render.headless").Logger()
	log.Debug().Strs("buffers", sc.Buffers).Strs("textures", sc.Textures).Msg("scene configured")
	return &State{
		scene:    sc,
		now:      now,
		log:      log,
		buffers:  make(map[string][]byte, len(sc.Buffers)),
		textures: make(map[string]stream.TextureBinding, len(sc.Textures)),
	}, nil
}

// State is the headless scene.
type State struct {
	scene SceneConfig
	now   func() time.Time
	log   zerolog.Logger

	mu       sync.Mutex
	buffers  map[string][]byte
	textures map[string]stream.TextureBinding
	elements map[string]int
	frames   []Frame
}

func (s *State) BufferNames() []string  { return append([]string(nil), s.scene.Buffers...) }
func (s *State) TextureNames() []string { return append([]string(nil), s.scene.Textures...) }

func (s *State) SetElements(counts map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements = copyCounts(counts)
}

func (s *State) LoadBuffers(bindings map[string][]byte) error {
	for name := range bindings {
		if !contains(s.scene.Buffers, name) {
			return fmt.Errorf("%w: buffer %q", ErrUnknownResource, name)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, data := range bindings {
		s.buffers[name] = data
	}
	return nil
}

func (s *State) LoadTextures(bindings map[string]stream.TextureBinding) error {
	for name, b := range bindings {
		if !contains(s.scene.Textures, name) {
			return fmt.Errorf("%w: texture %q", ErrUnknownResource, name)
		}
		if len(b.Data) < b.Bytes {
			return fmt.Errorf("%w: %q has %d of %d bytes", ErrShortTexture, name, len(b.Data), b.Bytes)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, b := range bindings {
		s.textures[name] = b
	}
	return nil
}

// Render records a frame of what is currently bound.
func (s *State) Render(tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := Frame{
		Tag:         tag,
		Elements:    copyCounts(s.elements),
		BufferBytes: make(map[string]int, len(s.buffers)),
		TextureDims: make(map[string][2]int, len(s.textures)),
		At:          s.now(),
	}
	for name, data := range s.buffers {
		f.BufferBytes[name] = len(data)
	}
	for name, b := range s.textures {
		f.TextureDims[name] = [2]int{b.Width, b.Height}
	}
	s.frames = append(s.frames, f)
	s.log.Debug().Str("tag", tag).Int("frame", len(s.frames)).Msg("render")
	return nil
}

// Frames returns the recorded frames, oldest first.
func (s *State) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

// Buffer returns a copy of the bound payload for name.
func (s *State) Buffer(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.buffers[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Summary is a one-line description of the bound scene.
func (s *State) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.buffers))
	for name := range s.buffers {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%dB", name, len(s.buffers[name])))
	}
	return fmt.Sprintf("frames=%d buffers[%s] textures=%d", len(s.frames), strings.Join(parts, " "), len(s.textures))
}

func uniqueNames(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, name := range in {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func copyCounts(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
