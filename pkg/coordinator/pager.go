package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/foomo/storysync/pkg/story"
	"go.uber.org/zap"
)

const (
	DefaultSlowTimeout = 10 * time.Second
	SlowMessage        = "Loading is taking longer than expected"
)

type (
	// Pager holds the paginated story list of one view.
	Pager struct {
		l            *zap.Logger
		c            *Coordinator
		mu           sync.Mutex
		page         int
		size         int
		locationOnly bool
		stories      []story.Story
		source       Source
		slowTimeout  time.Duration
		onSlow       func(msg string)
	}
	PagerOption func(*Pager)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func NewPager(l *zap.Logger, c *Coordinator, opts ...PagerOption) *Pager {
	inst := &Pager{
		l:           l.Named("pager"),
		c:           c,
		page:        1,
		size:        DefaultPageSize,
		slowTimeout: DefaultSlowTimeout,
		onSlow:      func(string) {},
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithPageSize(v int) PagerOption {
	return func(o *Pager) {
		o.size = v
	}
}

func WithSlowTimeout(v time.Duration) PagerOption {
	return func(o *Pager) {
		o.slowTimeout = v
	}
}

// WithOnSlow sets the callback receiving the warning of a clearing load that takes too long.
func WithOnSlow(v func(msg string)) PagerOption {
	return func(o *Pager) {
		o.onSlow = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Load fetches the current page. A clearing load starts over at page one and arms the slow
// warning; the warning never cancels the request.
func (p *Pager) Load(ctx context.Context, clear bool) ([]story.Story, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if clear {
		p.page = 1
	}
	return p.load(ctx, clear)
}

// LoadMore fetches the next page and appends it.
func (p *Pager) LoadMore(ctx context.Context) ([]story.Story, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.page++
	return p.load(ctx, false)
}

// ToggleLocation flips the location filter and reloads from page one.
func (p *Pager) ToggleLocation(ctx context.Context) ([]story.Story, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.locationOnly = !p.locationOnly
	p.page = 1
	return p.load(ctx, true)
}

func (p *Pager) Stories() []story.Story {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]story.Story(nil), p.stories...)
}

func (p *Pager) Page() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}

func (p *Pager) LocationOnly() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locationOnly
}

// Source reports where the last load was served from.
func (p *Pager) Source() Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (p *Pager) load(ctx context.Context, clear bool) ([]story.Story, error) {
	if clear {
		p.stories = nil
		timer := time.AfterFunc(p.slowTimeout, func() {
			p.l.Info("slow load", zap.Duration("timeout", p.slowTimeout))
			p.onSlow(SlowMessage)
		})
		defer timer.Stop()
	}

	res, err := p.c.GetStories(ctx, Query{Page: p.page, Size: p.size, LocationOnly: p.locationOnly})
	if err != nil {
		return nil, err
	}
	p.source = res.Source
	if clear {
		p.stories = res.Stories
	} else {
		p.stories = Merge(p.stories, res.Stories)
	}
	return append([]story.Story(nil), p.stories...), nil
}
