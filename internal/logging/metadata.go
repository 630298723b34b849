package logging

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Metadata is a shared set of key/value fields stamped onto every log
// event of each logger it is hooked into. Holders share one *Metadata and
// mutate it in place; it is never replaced.
type Metadata struct {
	mu     sync.RWMutex
	fields map[string]string
}

func NewMetadata() *Metadata {
	return &Metadata{fields: make(map[string]string)}
}

func (m *Metadata) Set(key, value string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields[key] = value
}

func (m *Metadata) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fields, strings.TrimSpace(key))
}

func (m *Metadata) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.fields[key]
	return v, ok
}

// Snapshot returns a copy of the current fields.
func (m *Metadata) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.fields))
	for k, v := range m.fields {
		out[k] = v
	}
	return out
}

// Run implements zerolog.Hook.
func (m *Metadata) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.fields) == 0 {
		return
	}
	keys := make([]string, 0, len(m.fields))
	for k := range m.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.Str(k, m.fields[k])
	}
}
