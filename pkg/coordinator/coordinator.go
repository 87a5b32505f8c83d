package coordinator

import (
	"context"

	"github.com/foomo/storysync/pkg/api"
	"github.com/foomo/storysync/pkg/metrics"
	"github.com/foomo/storysync/pkg/netstate"
	"github.com/foomo/storysync/pkg/story"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DefaultPageSize = 10

type Source string

const (
	SourceNetwork Source = "network"
	SourceStore   Source = "store"
)

type (
	// StoryAPI is the part of the story service the coordinator needs.
	StoryAPI interface {
		ListStories(ctx context.Context, p api.Page) ([]story.Story, error)
		SubmitStory(ctx context.Context, p *story.Payload) error
	}
	// Store is the part of the persistent store the coordinator needs.
	Store interface {
		GetAll(ctx context.Context) ([]story.Story, error)
		PutAll(ctx context.Context, stories []story.Story) error
		ReplaceAll(ctx context.Context, stories []story.Story) error
		Pending(ctx context.Context) ([]story.Story, error)
		Delete(ctx context.Context, id string) error
	}
	Query struct {
		Page         int
		Size         int
		LocationOnly bool
	}
	Result struct {
		Stories []story.Story
		Source  Source
	}
	// Coordinator reconciles the persistent store with the story service.
	Coordinator struct {
		l     *zap.Logger
		api   StoryAPI
		store Store
		net   netstate.Checker
	}
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, a StoryAPI, s Store, net netstate.Checker) *Coordinator {
	return &Coordinator{
		l:     l.Named("coordinator"),
		api:   a,
		store: s,
		net:   net,
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// GetStories returns a page from the network and records it locally. When offline or when the
// network fails it returns the stored stories instead; only a failing store is reported.
func (c *Coordinator) GetStories(ctx context.Context, q Query) (Result, error) {
	q = q.normalize()
	if c.net.Online() {
		online, err := c.api.ListStories(ctx, q.page())
		if err == nil {
			metrics.SyncCounter.WithLabelValues(string(SourceNetwork)).Inc()
			return Result{Stories: c.record(ctx, q, online), Source: SourceNetwork}, nil
		}
		c.l.Info("falling back to stored stories", zap.Int("page", q.Page), zap.Error(err))
	}

	stored, err := c.store.GetAll(ctx)
	if err != nil {
		c.l.Error("failed to read stored stories", zap.Error(err))
		return Result{Source: SourceStore}, err
	}
	metrics.SyncCounter.WithLabelValues(string(SourceStore)).Inc()
	return Result{Stories: stored, Source: SourceStore}, nil
}

// SyncOnReconnect uploads the stories created offline and then replaces the local copy of the
// first page with the authoritative one.
func (c *Coordinator) SyncOnReconnect(ctx context.Context) error {
	if !c.net.Online() {
		return nil
	}
	l := c.l.Named("sync")

	var errs error
	pending, err := c.store.Pending(ctx)
	if err != nil {
		return err
	}
	for _, v := range pending {
		if err := c.upload(ctx, v); err != nil {
			l.Warn("failed to upload pending story", zap.String("id", v.ID), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		l.Info("uploaded pending story", zap.String("id", v.ID))
	}

	q := Query{}.normalize()
	online, err := c.api.ListStories(ctx, q.page())
	if err != nil {
		return multierr.Append(errs, err)
	}
	if err := c.store.ReplaceAll(ctx, online); err != nil {
		return multierr.Append(errs, err)
	}
	metrics.SyncCounter.WithLabelValues("reconnect").Inc()
	l.Info("synchronized", zap.Int("uploaded", len(pending)-len(multierr.Errors(errs))), zap.Int("stories", len(online)))
	return errs
}

// Merge combines both lists without duplicate ids. The online copy wins and the first-seen
// order is kept.
func Merge(online, offline []story.Story) []story.Story {
	ret := make([]story.Story, 0, len(online)+len(offline))
	seen := make(map[string]bool, len(online)+len(offline))
	for _, list := range [][]story.Story{online, offline} {
		for _, v := range list {
			if seen[v.ID] {
				continue
			}
			seen[v.ID] = true
			ret = append(ret, v)
		}
	}
	return ret
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

// record writes an authoritative page. The first page replaces every synced story, later
// pages extend it. Pending stories are part of the first page's view.
func (c *Coordinator) record(ctx context.Context, q Query, online []story.Story) []story.Story {
	var err error
	if q.Page == 1 {
		err = c.store.ReplaceAll(ctx, online)
	} else {
		err = c.store.PutAll(ctx, online)
	}
	if err != nil {
		// the network result is still usable
		c.l.Warn("failed to record stories", zap.Int("page", q.Page), zap.Error(err))
		return online
	}
	if q.Page != 1 {
		return online
	}
	pending, err := c.store.Pending(ctx)
	if err != nil {
		c.l.Warn("failed to read pending stories", zap.Error(err))
		return online
	}
	return Merge(online, pending)
}

func (c *Coordinator) upload(ctx context.Context, v story.Story) error {
	sub, err := story.Resubmission(v)
	if err != nil {
		return errors.Wrapf(err, "pending story %s", v.ID)
	}
	payload, err := sub.Prepare()
	if err != nil {
		return errors.Wrapf(err, "pending story %s", v.ID)
	}
	if err := c.api.SubmitStory(ctx, payload); err != nil {
		return err
	}
	return c.store.Delete(ctx, v.ID)
}

func (q Query) normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Size < 1 {
		q.Size = DefaultPageSize
	}
	return q
}

func (q Query) page() api.Page {
	p := api.Page{Page: q.Page, Size: q.Size}
	if q.LocationOnly {
		p.Location = 1
	}
	return p
}
