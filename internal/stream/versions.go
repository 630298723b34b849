package stream

import (
	"sync"

	"github.com/danmuck/vizlink/internal/protocol"
)

// VersionTable records the last version of each resource that was fetched
// and handed to the renderer.
type VersionTable struct {
	mu     sync.RWMutex
	tables map[protocol.ResourceKind]map[string]int64
}

func NewVersionTable() *VersionTable {
	return &VersionTable{tables: map[protocol.ResourceKind]map[string]int64{
		protocol.KindBuffer:  {},
		protocol.KindTexture: {},
	}}
}

// Changed filters known down to the names whose reported version differs
// from the recorded one, keeping the order of known. A name with no
// recorded version is changed; a name missing from reported never is.
func (t *VersionTable) Changed(kind protocol.ResourceKind, known []string, reported map[string]int64) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	prev := t.tables[kind]
	out := make([]string, 0, len(known))
	for _, name := range known {
		v, ok := reported[name]
		if !ok {
			continue
		}
		if old, seen := prev[name]; seen && old == v {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Advance records versions for kind.
func (t *VersionTable) Advance(kind protocol.ResourceKind, versions map[string]int64) {
	if len(versions) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	table, ok := t.tables[kind]
	if !ok {
		table = make(map[string]int64, len(versions))
		t.tables[kind] = table
	}
	for name, v := range versions {
		table[name] = v
	}
}

func (t *VersionTable) Version(kind protocol.ResourceKind, name string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.tables[kind][name]
	return v, ok
}

// Snapshot copies the table for kind.
func (t *VersionTable) Snapshot(kind protocol.ResourceKind) map[string]int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int64, len(t.tables[kind]))
	for name, v := range t.tables[kind] {
		out[name] = v
	}
	return out
}
