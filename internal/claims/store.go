package claims

import (
	"context"
	"strings"
)

// Store 抽象了声明映射的持久化。账本保证对同一 Store 的写入是串行的。
type Store interface {
	// Get 返回证明对应的声明，found 为 false 表示不存在。
	Get(ctx context.Context, proof ProofID) (record Record, found bool, err error)
	Put(ctx context.Context, proof ProofID, record Record) error
	Delete(ctx context.Context, proof ProofID) error
	List(ctx context.Context, opts ListOptions) ([]Entry, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats 汇总当前声明集合。
type Stats struct {
	Total        int         `json:"total"`
	Owners       int         `json:"owners"`
	LatestHeight BlockHeight `json:"latest_height"`
}

// ListOptions controls which claims are returned when listing the store.
type ListOptions struct {
	Limit  int
	Offset int
	Owner  Identity
}

// Normalize sanitizes the options and fills in default values.
func (opts ListOptions) Normalize() ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	opts.Owner = Identity(strings.TrimSpace(string(opts.Owner)))
	return opts
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of claims returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching claims.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithOwner filters claims by owner.
func WithOwner(owner Identity) ListOption {
	return func(opts *ListOptions) {
		opts.Owner = owner
	}
}

// BuildListOptions applies option functions on top of defaults.
func BuildListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options.Normalize()
}
