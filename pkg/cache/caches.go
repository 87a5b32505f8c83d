package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type (
	// Caches manages the named partitions kept in one storage backend.
	Caches struct {
		l          *zap.Logger
		storage    Storage
		now        func() time.Time
		mu         sync.Mutex
		partitions map[string]*Partition
	}
	Option func(*Caches)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, storage Storage, opts ...Option) *Caches {
	inst := &Caches{
		l:          l.Named("cache"),
		storage:    storage,
		now:        time.Now,
		partitions: map[string]*Partition{},
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithClock(v func() time.Time) Option {
	return func(o *Caches) {
		o.now = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Open returns the partition called name, creating it on first use.
// Opening an existing partition with a different policy replaces its policy.
func (c *Caches) Open(name string, policy Policy) (*Partition, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, errors.Errorf("invalid partition name %q", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.partitions[name]; ok {
		p.mu.Lock()
		p.policy = policy
		p.mu.Unlock()
		return p, nil
	}
	p := newPartition(c.l, name, policy, c.storage, c.now)
	c.partitions[name] = p
	return p, nil
}

// Keys returns the names of all partitions, opened or persisted, sorted.
func (c *Caches) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.storage.List(ctx, "")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list partitions")
	}
	names := map[string]struct{}{}
	for _, key := range keys {
		if name, _, ok := strings.Cut(key, "/"); ok {
			names[name] = struct{}{}
		}
	}
	c.mu.Lock()
	for name := range c.partitions {
		names[name] = struct{}{}
	}
	c.mu.Unlock()

	ret := make([]string, 0, len(names))
	for name := range names {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret, nil
}

// Delete removes the partition and all of its entries.
// It reports whether the partition existed.
func (c *Caches) Delete(ctx context.Context, name string) (bool, error) {
	names, err := c.Keys(ctx)
	if err != nil {
		return false, err
	}
	idx := sort.SearchStrings(names, name)
	if idx == len(names) || names[idx] != name {
		return false, nil
	}

	c.mu.Lock()
	p, ok := c.partitions[name]
	if !ok {
		p = newPartition(c.l, name, Policy{}, c.storage, c.now)
	}
	delete(c.partitions, name)
	c.mu.Unlock()

	if err := p.clear(ctx); err != nil {
		return true, err
	}
	c.l.Info("deleted partition", zap.String("partition", name))
	return true, nil
}

// Match looks key up in every partition in name order and returns the first hit.
func (c *Caches) Match(ctx context.Context, key string) (*Entry, error) {
	names, err := c.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		c.mu.Lock()
		p, ok := c.partitions[name]
		c.mu.Unlock()
		if !ok {
			if p, err = c.Open(name, Policy{}); err != nil {
				return nil, err
			}
		}
		entry, err := p.Match(ctx, key)
		if errors.Is(err, ErrMiss) {
			continue
		} else if err != nil {
			return nil, err
		}
		return entry, nil
	}
	return nil, ErrMiss
}

// Close releases the storage backend.
func (c *Caches) Close() error {
	return c.storage.Close()
}
