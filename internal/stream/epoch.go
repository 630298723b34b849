package stream

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/vizlink/internal/channel"
	"github.com/danmuck/vizlink/internal/protocol"
)

type epochState string

const (
	epochOpened     epochState = "opened"
	epochDiffing    epochState = "diffing"
	epochFetching   epochState = "fetching"
	epochAssembling epochState = "assembling"
	epochComplete   epochState = "complete"
	epochFailed     epochState = "failed"
)

// epoch is the processing of one frame update message.
type epoch struct {
	seq uint64
	msg protocol.FrameUpdate
	ack channel.AckFunc
	log zerolog.Logger

	changed map[protocol.ResourceKind][]string

	mu       sync.Mutex
	state    epochState
	buffers  map[string][]byte
	textures map[string]TextureBinding
}

func (ep *epoch) setState(s epochState) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.state.terminal() {
		return
	}
	ep.state = s
}

// fail moves the epoch to failed and reports the state it left. ok is
// false when the epoch had already finished.
func (ep *epoch) fail() (prev epochState, ok bool) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.state.terminal() {
		return ep.state, false
	}
	prev = ep.state
	ep.state = epochFailed
	return prev, true
}

func (s epochState) terminal() bool {
	return s == epochComplete || s == epochFailed
}
