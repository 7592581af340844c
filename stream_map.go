package yamux

import (
	"sync"

	"github.com/streammux/yamux/internal/frame"
)

const initMapCapacity = 128

// streamTable is the connection-owned mapping from stream id to stream
// record. Connection.OpenStream inserts locally opened streams from the
// caller's goroutine; the engine goroutines insert remote streams and
// remove entries. The RWMutex serializes these accesses.
type streamTable struct {
	mu    sync.RWMutex
	table map[frame.StreamId]*Stream
}

func newStreamTable() *streamTable {
	return &streamTable{table: make(map[frame.StreamId]*Stream, initMapCapacity)}
}

func (m *streamTable) get(id frame.StreamId) (*Stream, bool) {
	m.mu.RLock()
	s, ok := m.table[id]
	m.mu.RUnlock()
	return s, ok
}

func (m *streamTable) set(id frame.StreamId, s *Stream) {
	m.mu.Lock()
	m.table[id] = s
	m.mu.Unlock()
}

func (m *streamTable) delete(id frame.StreamId) {
	m.mu.Lock()
	delete(m.table, id)
	m.mu.Unlock()
}

func (m *streamTable) len() int {
	m.mu.RLock()
	n := len(m.table)
	m.mu.RUnlock()
	return n
}

// each snapshots the table and invokes fn for every entry outside the
// lock, matching streamMap.Each in muxado: fn may itself need to
// touch the table (e.g. remove itself), which would deadlock under the
// read lock.
func (m *streamTable) each(fn func(frame.StreamId, *Stream)) {
	m.mu.RLock()
	snapshot := make(map[frame.StreamId]*Stream, len(m.table))
	for k, v := range m.table {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	for id, s := range snapshot {
		fn(id, s)
	}
}
