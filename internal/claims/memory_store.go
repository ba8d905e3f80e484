package claims

import (
	"context"
	"sort"
	"sync"
)

type memoryEntry struct {
	proof  ProofID
	record Record
}

// MemoryStore 以内存方式保存声明，适用于测试与单机演示。
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]memoryEntry
	highWater BlockHeight
}

var (
	_ Store     = (*MemoryStore)(nil)
	_ HeightLog = (*MemoryStore)(nil)
)

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, proof ProofID) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[string(proof)]
	if !ok {
		return Record{}, false, nil
	}
	return entry.record, true, nil
}

// Put 实现 Store 接口。
func (m *MemoryStore) Put(_ context.Context, proof ProofID, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[string(proof)] = memoryEntry{proof: proof.Clone(), record: record}
	return nil
}

// Delete 实现 Store 接口。
func (m *MemoryStore) Delete(_ context.Context, proof ProofID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, string(proof))
	return nil
}

// List 按登记高度倒序返回声明，高度相同时按证明摘要倒序。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]Entry, error) {
	opts = opts.Normalize()

	m.mu.RLock()
	matched := make([]Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		if opts.Owner != "" && entry.record.Owner != opts.Owner {
			continue
		}
		matched = append(matched, Entry{Proof: entry.proof.Clone(), Record: entry.record})
	}
	m.mu.RUnlock()

	sortEntries(matched)

	if opts.Offset >= len(matched) {
		return []Entry{}, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[opts.Offset:end], nil
}

// Stats 实现 Store 接口。
func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owners := make(map[Identity]struct{})
	stats := Stats{Total: len(m.entries)}
	for _, entry := range m.entries {
		owners[entry.record.Owner] = struct{}{}
		if entry.record.RegisteredAt > stats.LatestHeight {
			stats.LatestHeight = entry.record.RegisteredAt
		}
	}
	stats.Owners = len(owners)
	return stats, nil
}

// LastHeight 实现 HeightLog 接口。
func (m *MemoryStore) LastHeight(_ context.Context) (BlockHeight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.highWater, nil
}

// RecordHeight 实现 HeightLog 接口，只会抬高记录值。
func (m *MemoryStore) RecordHeight(_ context.Context, height BlockHeight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if height > m.highWater {
		m.highWater = height
	}
	return nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func sortEntries(entries []Entry) {
	keys := make(map[string]string, len(entries))
	for _, entry := range entries {
		keys[string(entry.Proof)] = entry.Proof.Key()
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].RegisteredAt != entries[j].RegisteredAt {
			return entries[i].RegisteredAt > entries[j].RegisteredAt
		}
		return keys[string(entries[i].Proof)] > keys[string(entries[j].Proof)]
	})
}
