package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/foomo/storysync/pkg/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrMiss is returned when a partition has no usable entry for a key.
var ErrMiss = errors.New("cache miss")

type (
	// Policy bounds a partition. Zero values mean unbounded.
	Policy struct {
		MaxEntries int           `yaml:"maxEntries"`
		MaxAge     time.Duration `yaml:"maxAge"`
	}
	// Partition is a named set of cache entries sharing one policy.
	Partition struct {
		l       *zap.Logger
		name    string
		policy  Policy
		storage Storage
		now     func() time.Time
		mu      sync.Mutex
		index   map[string]indexEntry
	}
	indexEntry struct {
		key      string
		storedAt time.Time
	}
)

func newPartition(l *zap.Logger, name string, policy Policy, storage Storage, now func() time.Time) *Partition {
	return &Partition{
		l:       l.With(zap.String("partition", name)),
		name:    name,
		policy:  policy,
		storage: storage,
		now:     now,
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

func (p *Partition) Name() string {
	return p.name
}

func (p *Partition) Policy() Policy {
	return p.policy
}

// Match returns the entry stored for key. Expired entries are removed and reported as ErrMiss.
func (p *Partition) Match(ctx context.Context, key string) (*Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sk := p.storageKey(key)
	entry, err := p.read(ctx, sk)
	if err != nil {
		return nil, err
	}
	if entry.expired(p.now(), p.policy.MaxAge) {
		if err := p.remove(ctx, sk); err != nil {
			return nil, err
		}
		metrics.CacheEvictionsCounter.WithLabelValues(p.name).Inc()
		return nil, ErrMiss
	}
	return entry, nil
}

// Put stores the entry and applies the partition policy.
func (p *Partition) Put(ctx context.Context, entry *Entry) error {
	if entry.Key == "" {
		return errors.New("cache entry key is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.load(ctx); err != nil {
		return err
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = p.now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to encode cache entry")
	}
	sk := p.storageKey(entry.Key)
	if err := p.storage.Write(ctx, sk, data); err != nil {
		return errors.Wrapf(err, "failed to write cache entry %q", entry.Key)
	}
	p.index[sk] = indexEntry{key: entry.Key, storedAt: entry.StoredAt}
	return p.evict(ctx)
}

// Delete removes the entry for key. Deleting a missing key is not an error.
func (p *Partition) Delete(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.remove(ctx, p.storageKey(key))
}

// Keys returns the request keys of all entries, oldest first.
func (p *Partition) Keys(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.load(ctx); err != nil {
		return nil, err
	}
	ret := make([]string, 0, len(p.index))
	for _, sk := range p.byAge() {
		ret = append(ret, p.index[sk].key)
	}
	return ret, nil
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (p *Partition) storageKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return p.name + "/" + hex.EncodeToString(sum[:])
}

func (p *Partition) read(ctx context.Context, sk string) (*Entry, error) {
	data, err := p.storage.Read(ctx, sk)
	if os.IsNotExist(err) {
		return nil, ErrMiss
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to read cache entry")
	}
	entry := &Entry{}
	if err := json.Unmarshal(data, entry); err != nil {
		p.l.Warn("dropping unreadable cache entry", zap.String("storageKey", sk), zap.Error(err))
		_ = p.remove(ctx, sk)
		return nil, ErrMiss
	}
	return entry, nil
}

func (p *Partition) remove(ctx context.Context, sk string) error {
	if err := p.storage.Delete(ctx, sk); err != nil {
		return errors.Wrap(err, "failed to delete cache entry")
	}
	if p.index != nil {
		delete(p.index, sk)
	}
	return nil
}

// load builds the in-memory index from storage once.
func (p *Partition) load(ctx context.Context) error {
	if p.index != nil {
		return nil
	}
	keys, err := p.storage.List(ctx, p.name+"/")
	if err != nil {
		return errors.Wrap(err, "failed to list cache entries")
	}
	index := make(map[string]indexEntry, len(keys))
	p.index = index
	for _, sk := range keys {
		entry, err := p.read(ctx, sk)
		if errors.Is(err, ErrMiss) {
			continue
		} else if err != nil {
			p.index = nil
			return err
		}
		index[sk] = indexEntry{key: entry.Key, storedAt: entry.StoredAt}
	}
	return nil
}

func (p *Partition) byAge() []string {
	keys := make([]string, 0, len(p.index))
	for sk := range p.index {
		keys = append(keys, sk)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := p.index[keys[i]], p.index[keys[j]]
		if a.storedAt.Equal(b.storedAt) {
			return a.key < b.key
		}
		return a.storedAt.Before(b.storedAt)
	})
	return keys
}

// evict drops expired entries first, then the oldest ones beyond MaxEntries.
func (p *Partition) evict(ctx context.Context) error {
	var evicted int
	now := p.now()
	keys := p.byAge()
	remaining := keys[:0]
	for _, sk := range keys {
		if p.policy.MaxAge > 0 && now.Sub(p.index[sk].storedAt) > p.policy.MaxAge {
			if err := p.remove(ctx, sk); err != nil {
				return err
			}
			evicted++
			continue
		}
		remaining = append(remaining, sk)
	}
	if p.policy.MaxEntries > 0 {
		for len(remaining) > p.policy.MaxEntries {
			if err := p.remove(ctx, remaining[0]); err != nil {
				return err
			}
			remaining = remaining[1:]
			evicted++
		}
	}
	if evicted > 0 {
		metrics.CacheEvictionsCounter.WithLabelValues(p.name).Add(float64(evicted))
		p.l.Debug("evicted cache entries", zap.Int("count", evicted))
	}
	return nil
}

// clear removes every stored entry of the partition.
func (p *Partition) clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys, err := p.storage.List(ctx, p.name+"/")
	if err != nil {
		return errors.Wrap(err, "failed to list cache entries")
	}
	for _, sk := range keys {
		if err := p.storage.Delete(ctx, sk); err != nil {
			return errors.Wrap(err, "failed to delete cache entry")
		}
	}
	p.index = nil
	return nil
}
