// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package cache

import (
	"sync"
	"time"
)

// Memory is an in-memory Index, used in tests and by pkg/hlrepl's
// WithMemoryCache for a cache that lasts a single process lifetime.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemory creates a new in-memory cache index.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Lookup implements Index.
func (m *Memory) Lookup(key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	e.Hits++
	e.LastAccess = time.Now()
	m.entries[key] = e
	return e, true, nil
}

// Record implements Index.
func (m *Memory) Record(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key] = e
	return nil
}

// Evict implements Index.
func (m *Memory) Evict(maxBytes int64) (int64, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for _, e := range m.entries {
		total += e.SizeBytes
	}
	if total <= maxBytes {
		return 0, nil, nil
	}

	type kv struct {
		key string
		e   Entry
	}
	ordered := make([]kv, 0, len(m.entries))
	for k, e := range m.entries {
		ordered = append(ordered, kv{k, e})
	}
	// Simple selection sort by last access; entry counts are small.
	for i := range ordered {
		min := i
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].e.LastAccess.Before(ordered[min].e.LastAccess) {
				min = j
			}
		}
		ordered[i], ordered[min] = ordered[min], ordered[i]
	}

	var freed int64
	var removed []string
	toFree := total - maxBytes
	for _, item := range ordered {
		if toFree <= 0 {
			break
		}
		delete(m.entries, item.key)
		freed += item.e.SizeBytes
		toFree -= item.e.SizeBytes
		removed = append(removed, item.e.ArtifactDir)
	}
	return freed, removed, nil
}

// Stats implements Index.
func (m *Memory) Stats() (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	for _, e := range m.entries {
		st.Entries++
		st.DiskUsed += e.SizeBytes
		st.TotalHits += e.Hits
	}
	return st, nil
}

// Close implements Index.
func (m *Memory) Close() error {
	return nil
}
