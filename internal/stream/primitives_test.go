package stream

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/vizlink/internal/protocol"
)

func TestVersionTableChanged(t *testing.T) {
	vt := NewVersionTable()
	known := []string{"a", "b", "c"}

	got := vt.Changed(protocol.KindBuffer, known, map[string]int64{"a": 1, "c": 1})
	require.Equal(t, []string{"a", "c"}, got)

	vt.Advance(protocol.KindBuffer, map[string]int64{"a": 1, "c": 1})
	got = vt.Changed(protocol.KindBuffer, known, map[string]int64{"a": 1, "b": 4, "c": 2})
	require.Equal(t, []string{"b", "c"}, got)

	require.Empty(t, vt.Changed(protocol.KindBuffer, known, nil))
	require.Equal(t, []string{"a"}, vt.Changed(protocol.KindTexture, []string{"a"}, map[string]int64{"a": 1}))
}

func TestVersionTableSnapshotIsCopy(t *testing.T) {
	vt := NewVersionTable()
	vt.Advance(protocol.KindTexture, map[string]int64{"atlas": 3})
	snap := vt.Snapshot(protocol.KindTexture)
	snap["atlas"] = 9
	v, ok := vt.Version(protocol.KindTexture, "atlas")
	require.True(t, ok)
	require.EqualValues(t, 3, v)
}

func TestGateFiresOnceAfterAllLegs(t *testing.T) {
	var fired atomic.Int32
	g := newGate(func() { fired.Add(1) }, "buffer", "texture")
	g.arrive("buffer")
	g.arrive("buffer")
	g.arrive("unknown")
	require.Zero(t, fired.Load())

	g.arrive("texture")
	require.EqualValues(t, 1, fired.Load())
	g.arrive("texture")
	require.EqualValues(t, 1, fired.Load())
}

func TestGateConcurrentArrivals(t *testing.T) {
	legs := []string{"a", "b", "c", "d", "e", "f"}
	var fired atomic.Int32
	g := newGate(func() { fired.Add(1) }, legs...)
	var wg sync.WaitGroup
	for _, leg := range legs {
		leg := leg
		wg.Add(2)
		go func() { defer wg.Done(); g.arrive(leg) }()
		go func() { defer wg.Done(); g.arrive(leg) }()
	}
	wg.Wait()
	require.EqualValues(t, 1, fired.Load())
}

func TestGateWithoutLegsFiresImmediately(t *testing.T) {
	fired := 0
	g := newGate(func() { fired++ })
	require.Equal(t, 1, fired)
	g.arrive("buffer")
	require.Equal(t, 1, fired)
}

func TestLifecycleDeliversInOrderThenCloses(t *testing.T) {
	lc := NewLifecycle()
	out, cancel := lc.Subscribe()
	defer cancel()

	for i := 0; i < 50; i++ {
		lc.Publish(Marker{Stage: StageStart, Epoch: uint64(i + 1)})
	}
	lc.Close()
	lc.Publish(Marker{Stage: StageStart, Epoch: 99})

	var got []uint64
	for m := range out {
		got = append(got, m.Epoch)
	}
	require.Len(t, got, 50)
	for i, e := range got {
		require.EqualValues(t, i+1, e)
	}
	last, ok := lc.Last()
	require.True(t, ok)
	require.EqualValues(t, 50, last.Epoch)
}

func TestLifecycleCancelStopsDelivery(t *testing.T) {
	lc := NewLifecycle()
	out, cancel := lc.Subscribe()
	lc.Publish(Marker{Stage: StageRendered})
	cancel()
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("subscription not released")
		}
	}
}

func TestLifecycleSubscribeAfterClose(t *testing.T) {
	lc := NewLifecycle()
	lc.Close()
	out, _ := lc.Subscribe()
	_, ok := <-out
	require.False(t, ok)
}
