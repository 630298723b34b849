package stream

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/vizlink/internal/channel"
	"github.com/danmuck/vizlink/internal/protocol"
	"github.com/danmuck/vizlink/internal/testutil/testlog"
)

type ackRecorder struct {
	mu   sync.Mutex
	vals []any
}

func (a *ackRecorder) fn() channel.AckFunc {
	return func(payload any) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.vals = append(a.vals, payload)
		return nil
	}
}

func (a *ackRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.vals)
}

type engineFixture struct {
	ch      *fakeChannel
	state   *fakeState
	fetcher *fakeFetcher
	engine  *Engine
	acks    *ackRecorder
}

func newEngineFixture(t *testing.T, opts EngineOptions) *engineFixture {
	t.Helper()
	ch := newFakeChannel()
	state := newFakeState([]string{"positions", "colors"}, []string{"atlas"})
	fetcher := &fakeFetcher{fail: map[string]bool{}, block: map[int]bool{}, release: make(chan struct{})}
	opts.Fetcher = fetcher
	opts.Logger = testlog.Start(t)
	sess := newFakeSession(ch)
	t.Cleanup(func() { _ = sess.Close() })
	return &engineFixture{
		ch:      ch,
		state:   state,
		fetcher: fetcher,
		engine:  NewEngine(sess, state, opts),
		acks:    &ackRecorder{},
	}
}

func update(step int64, version int64) protocol.FrameUpdate {
	return protocol.FrameUpdate{
		Step:     step,
		Elements: map[string]int{"edges": 10},
		Versions: protocol.Versions{
			Buffers:  map[string]int64{"positions": version, "colors": version},
			Textures: map[string]int64{"atlas": version},
		},
		BufferByteLengths: map[string]int{"positions": 4, "colors": 2},
		Textures:          map[string]protocol.TextureInfo{"atlas": {Bytes: 3, Width: 1, Height: 1}},
	}
}

func TestEngineFirstSightFetchesEverything(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.engine.HandleUpdate(update(1, 1), f.acks.fn())
	f.engine.Wait()

	planned := f.ch.events(protocol.EventPlannedRequests)
	require.Len(t, planned, 1)
	require.Equal(t, protocol.PlannedRequests{
		Buffers:  []string{"positions", "colors"},
		Textures: []string{"atlas"},
	}, planned[0].payload)
	require.Len(t, f.ch.events(protocol.EventReceivedBuffers), 1)

	require.Equal(t, []string{DefaultRenderTag}, f.state.renders)
	require.Equal(t, []byte("pppp"), f.state.loaded["positions"])
	require.Equal(t, []byte("cc"), f.state.loaded["colors"])
	require.Equal(t, []byte("aaa"), f.state.texLoaded["atlas"].Data)
	require.Equal(t, 1, f.state.texLoaded["atlas"].Width)
	require.Equal(t, map[string]int{"edges": 10}, f.state.elements)
	require.Equal(t, 1, f.acks.count())

	v, ok := f.engine.Versions().Version(protocol.KindBuffer, "positions")
	require.True(t, ok)
	require.EqualValues(t, 1, v)
	v, ok = f.engine.Versions().Version(protocol.KindTexture, "atlas")
	require.True(t, ok)
	require.EqualValues(t, 1, v)
}

func TestEngineIdenticalReplayFetchesNothing(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.engine.HandleUpdate(update(1, 1), f.acks.fn())
	f.engine.Wait()
	fetched := f.fetcher.callCount()

	f.engine.HandleUpdate(update(2, 1), f.acks.fn())
	f.engine.Wait()

	require.Equal(t, fetched, f.fetcher.callCount())
	planned := f.ch.events(protocol.EventPlannedRequests)
	require.Len(t, planned, 2)
	require.Equal(t, protocol.PlannedRequests{Buffers: []string{}, Textures: []string{}}, planned[1].payload)
	require.Equal(t, 2, f.state.renderCount())
	require.Equal(t, 2, f.acks.count())
}

func TestEngineFailedFetchLeavesVersionsUntouched(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.fetcher.fail["colors"] = true
	f.engine.HandleUpdate(update(1, 1), f.acks.fn())
	f.engine.Wait()

	require.Zero(t, f.state.renderCount())
	require.Zero(t, f.acks.count())
	require.Empty(t, f.engine.Versions().Snapshot(protocol.KindBuffer))
	require.Empty(t, f.engine.Versions().Snapshot(protocol.KindTexture))
	// sibling fetches still ran
	require.Len(t, f.fetcher.calls, 3)
	require.Empty(t, f.ch.events(protocol.EventReceivedBuffers))

	f.fetcher.fail["colors"] = false
	f.engine.HandleUpdate(update(2, 1), f.acks.fn())
	f.engine.Wait()
	planned := f.ch.events(protocol.EventPlannedRequests)
	require.Equal(t, []string{"positions", "colors"}, planned[1].payload.(protocol.PlannedRequests).Buffers)
	require.Equal(t, 1, f.state.renderCount())
}

func TestEngineRenderFailureDoesNotAdvance(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.state.renderErr = errBoom
	f.engine.HandleUpdate(update(1, 1), f.acks.fn())
	f.engine.Wait()

	require.Equal(t, 1, f.acks.count(), "ack precedes render")
	require.Empty(t, f.engine.Versions().Snapshot(protocol.KindBuffer))
	last, ok := f.engine.Lifecycle().Last()
	require.True(t, ok)
	require.Equal(t, StageReceived, last.Stage)
}

func TestEngineEmptyTextureLegStillRenders(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	msg := update(1, 1)
	msg.Versions.Textures = nil
	msg.Textures = nil
	f.engine.HandleUpdate(msg, nil)
	f.engine.Wait()

	require.Equal(t, 1, f.state.renderCount())
	require.Empty(t, f.state.texLoaded)
	require.Len(t, f.fetcher.calls, 2)
}

func TestEngineDropsStaleEpoch(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	first := update(1, 1)
	first.BufferByteLengths["positions"] = 5
	f.fetcher.block[5] = true

	f.engine.HandleUpdate(first, f.acks.fn())
	f.engine.HandleUpdate(update(2, 2), f.acks.fn())
	require.Eventually(t, func() bool { return f.state.renderCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	close(f.fetcher.release)
	f.engine.Wait()

	require.Equal(t, 1, f.state.renderCount())
	require.Equal(t, 2, f.acks.count(), "stale epochs are still acked")
	v, _ := f.engine.Versions().Version(protocol.KindBuffer, "positions")
	require.EqualValues(t, 2, v)
	require.Equal(t, []byte("pppp"), f.state.loaded["positions"])
}

func TestEngineRenderOutOfOrder(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{RenderOutOfOrder: true})
	first := update(1, 1)
	first.BufferByteLengths["positions"] = 5
	f.fetcher.block[5] = true

	f.engine.HandleUpdate(first, f.acks.fn())
	f.engine.HandleUpdate(update(2, 2), f.acks.fn())
	require.Eventually(t, func() bool { return f.state.renderCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	close(f.fetcher.release)
	f.engine.Wait()

	require.Equal(t, 2, f.state.renderCount())
}

func TestEngineLifecycleOrder(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	markers, cancel := f.engine.Lifecycle().Subscribe()
	defer cancel()

	f.engine.HandleUpdate(update(7, 1), nil)
	f.engine.Wait()

	var stages []Stage
	for len(stages) < 3 {
		select {
		case m := <-markers:
			assert.EqualValues(t, 7, m.Step)
			stages = append(stages, m.Stage)
		case <-time.After(2 * time.Second):
			t.Fatalf("markers so far: %v", stages)
		}
	}
	require.Equal(t, []Stage{StageStart, StageReceived, StageRendered}, stages)
}

func TestEngineStartWiresChannel(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	markers, cancel := f.engine.Start()
	defer cancel()
	require.Len(t, f.ch.events(protocol.EventBeginStreaming), 1)

	h := f.ch.handler(protocol.EventFrameUpdate)
	require.NotNil(t, h)
	raw, err := json.Marshal(update(3, 1))
	require.NoError(t, err)
	h(raw, f.acks.fn())
	h(json.RawMessage(`"not an update"`), nil)
	f.engine.Wait()
	require.Equal(t, 1, f.state.renderCount())

	require.NoError(t, f.ch.Close())
	var stages []Stage
	for {
		select {
		case m, ok := <-markers:
			if !ok {
				require.Equal(t, []Stage{StageStart, StageReceived, StageRendered}, stages)
				return
			}
			stages = append(stages, m.Stage)
		case <-time.After(2 * time.Second):
			t.Fatalf("lifecycle not closed with the session, markers so far: %v", stages)
		}
	}
}

func TestEngineStartSeesFrameDeliveredWithBeginStreaming(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.ch.onEmit = func(event string) {
		if event != protocol.EventBeginStreaming {
			return
		}
		raw, err := json.Marshal(update(1, 1))
		if assert.NoError(t, err) {
			f.ch.handler(protocol.EventFrameUpdate)(raw, f.acks.fn())
		}
	}

	markers, cancel := f.engine.Start()
	defer cancel()
	f.engine.Wait()
	require.Equal(t, 1, f.state.renderCount())

	var stages []Stage
	for len(stages) < 3 {
		select {
		case m := <-markers:
			assert.EqualValues(t, 1, m.Epoch)
			stages = append(stages, m.Stage)
		case <-time.After(2 * time.Second):
			t.Fatalf("markers so far: %v", stages)
		}
	}
	require.Equal(t, []Stage{StageStart, StageReceived, StageRendered}, stages)
}

func TestEngineWaitsForTextureLegBeforeAck(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.fetcher.block[3] = true

	f.engine.HandleUpdate(update(1, 1), f.acks.fn())
	require.Eventually(t, func() bool {
		return len(f.ch.events(protocol.EventReceivedBuffers)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Zero(t, f.state.renderCount())
	require.Zero(t, f.acks.count())
	_, ok := f.engine.Versions().Version(protocol.KindBuffer, "positions")
	require.False(t, ok)

	close(f.fetcher.release)
	f.engine.Wait()
	require.Equal(t, 1, f.state.renderCount())
	require.Equal(t, 1, f.acks.count())
	v, ok := f.engine.Versions().Version(protocol.KindTexture, "atlas")
	require.True(t, ok)
	require.EqualValues(t, 1, v)
}

func TestEngineSurvivesPanickingFetcher(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	f.engine.fetcher = panicFetcher{}
	f.engine.HandleUpdate(update(1, 1), f.acks.fn())
	f.engine.Wait()
	require.Zero(t, f.state.renderCount())

	f.engine.fetcher = f.fetcher
	f.engine.HandleUpdate(update(2, 1), f.acks.fn())
	f.engine.Wait()
	require.Equal(t, 1, f.state.renderCount())
}
