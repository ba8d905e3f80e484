package txpool

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
)

// MemoryStore 以内存方式保存交易回执。超过保留上限时优先淘汰最早的终态交易。
type MemoryStore struct {
	mu     sync.RWMutex
	txs    map[string]*Transaction
	retain int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建 MemoryStore，retain <= 0 时默认保留 10000 条。
func NewMemoryStore(retain int) *MemoryStore {
	if retain <= 0 {
		retain = 10000
	}
	return &MemoryStore{txs: make(map[string]*Transaction), retain: retain}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, tx *Transaction) error {
	if tx == nil {
		return xerrors.New(CodeTxValidation, "transaction 不能为空")
	}
	if strings.TrimSpace(tx.ID) == "" {
		return xerrors.New(CodeTxValidation, "交易 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[tx.ID]; ok {
		return ErrTxConflict
	}
	now := time.Now().Unix()
	if tx.CreatedAt == 0 {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	m.txs[tx.ID] = cloneTransaction(tx)
	m.evictLocked()
	return nil
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	if !ok {
		return nil, ErrTxNotFound
	}
	return cloneTransaction(tx), nil
}

// Begin 实现 Store 接口。
func (m *MemoryStore) Begin(_ context.Context, id string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return nil, ErrTxNotFound
	}
	if tx.Status.Final() {
		return cloneTransaction(tx), ErrTxCompleted
	}
	tx.Attempts++
	tx.UpdatedAt = time.Now().Unix()
	return cloneTransaction(tx), nil
}

// MarkApplied 实现 Store 接口。
func (m *MemoryStore) MarkApplied(_ context.Context, id string, height claims.BlockHeight, eventID string) error {
	return m.update(id, func(tx *Transaction) {
		tx.Status = StatusApplied
		tx.Height = height
		tx.EventID = eventID
		tx.ErrorCode = ""
		tx.Error = ""
	})
}

// MarkRejected 实现 Store 接口。
func (m *MemoryStore) MarkRejected(_ context.Context, id string, code, message string) error {
	return m.update(id, func(tx *Transaction) {
		tx.Status = StatusRejected
		tx.ErrorCode = code
		tx.Error = message
	})
}

// MarkFailed 实现 Store 接口。非终态失败保持 pending 以便重试。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code, message string, terminal bool) error {
	return m.update(id, func(tx *Transaction) {
		if terminal {
			tx.Status = StatusFailed
		} else {
			tx.Status = StatusPending
		}
		tx.ErrorCode = code
		tx.Error = message
	})
}

func (m *MemoryStore) update(id string, mutate func(*Transaction)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return ErrTxNotFound
	}
	mutate(tx)
	tx.UpdatedAt = time.Now().Unix()
	return nil
}

// List 按创建时间倒序返回交易。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Transaction, error) {
	opts.applyDefaults()
	var allowed map[Status]struct{}
	if len(opts.Statuses) > 0 {
		allowed = make(map[Status]struct{}, len(opts.Statuses))
		for _, status := range opts.Statuses {
			allowed[status] = struct{}{}
		}
	}

	m.mu.RLock()
	matched := make([]*Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		if allowed != nil {
			if _, ok := allowed[tx.Status]; !ok {
				continue
			}
		}
		if opts.Caller != "" && tx.Caller != opts.Caller {
			continue
		}
		matched = append(matched, cloneTransaction(tx))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt == matched[j].CreatedAt {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt > matched[j].CreatedAt
	})
	if opts.Offset >= len(matched) {
		return []*Transaction{}, nil
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
	stats := Stats{Total: len(m.txs)}
	for _, tx := range m.txs {
		switch tx.Status {
		case StatusPending:
			stats.Pending++
		case StatusApplied:
			stats.Applied++
		case StatusRejected:
			stats.Rejected++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) evictLocked() {
	overflow := len(m.txs) - m.retain
	if overflow <= 0 {
		return
	}
	final := make([]*Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		if tx.Status.Final() {
			final = append(final, tx)
		}
	}
	sort.Slice(final, func(i, j int) bool {
		return final[i].UpdatedAt < final[j].UpdatedAt
	})
	for i := 0; i < overflow && i < len(final); i++ {
		delete(m.txs, final[i].ID)
	}
}
