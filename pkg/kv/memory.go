package kv

import (
	"bytes"
	"context"
	"iter"
	"sort"
	"sync"
)

// Memory is an in-memory Store implementation backed by a sorted map.
// It is safe for concurrent use and intended primarily for testing.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory Store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	k := string(encode(key))
	m.mu.RLock()
	v, ok := m.data[k]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *Memory) Set(_ context.Context, key Key, value []byte) error {
	k := string(encode(key))
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	m.data[k] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	k := string(encode(key))
	m.mu.Lock()
	delete(m.data, k)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context, prefix Key) iter.Seq2[Entry, error] {
	p := encode(prefix)
	// Append separator so "a:b" prefix doesn't match "a:bc".
	var prefixBytes []byte
	if len(p) > 0 {
		prefixBytes = append(p, separator)
	}

	m.mu.RLock()
	type pair struct {
		key string
		val []byte
	}
	var matches []pair
	for k, v := range m.data {
		if len(prefixBytes) == 0 || bytes.HasPrefix([]byte(k), prefixBytes) {
			cp := make([]byte, len(v))
			copy(cp, v)
			matches = append(matches, pair{k, cp})
		}
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].key < matches[j].key
	})

	return func(yield func(Entry, error) bool) {
		for _, p := range matches {
			entry := Entry{
				Key:   decode([]byte(p.key)),
				Value: p.val,
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func (m *Memory) Close() error {
	return nil
}
