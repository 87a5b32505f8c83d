package notify

import (
	"context"
	"sync"

	"github.com/foomo/storysync/pkg/metrics"
	"github.com/foomo/storysync/pkg/story"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type (
	// Platform applies effects: it shows notifications and talks to connected clients.
	Platform interface {
		Show(ctx context.Context, n Notification) error
		Close(ctx context.Context, tag string) error
		Clients(ctx context.Context) []Client
		Focus(ctx context.Context, clientID string) error
		Open(ctx context.Context, url string) error
		Post(ctx context.Context, clientID string, msg Message) error
	}
	// StoryWriter replaces the synced stories with the list handed over by clients.
	StoryWriter interface {
		ReplaceAll(ctx context.Context, stories []story.Story) error
	}
	Dispatcher struct {
		l        *zap.Logger
		table    Table
		platform Platform
		stories  StoryWriter
		newID    func() string
		mu       sync.Mutex
		state    State
	}
	DispatcherOption func(*Dispatcher)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func NewDispatcher(l *zap.Logger, platform Platform, opts ...DispatcherOption) *Dispatcher {
	inst := &Dispatcher{
		l:        l.Named("notify"),
		table:    DefaultTable(),
		platform: platform,
		newID:    uuid.NewString,
		state:    State{Window: NewWindow(WindowCapacity)},
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithTable(v Table) DispatcherOption {
	return func(o *Dispatcher) {
		o.table = v
	}
}

func WithStoryWriter(v StoryWriter) DispatcherOption {
	return func(o *Dispatcher) {
		o.stories = v
	}
}

func WithIDFunc(v func() string) DispatcherOption {
	return func(o *Dispatcher) {
		o.newID = v
	}
}

func WithWindowCapacity(v int) DispatcherOption {
	return func(o *Dispatcher) {
		o.state.Window = NewWindow(v)
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Dispatch runs the handler of ev and applies the resulting effects.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) ([]Effect, error) {
	handler, ok := d.table[ev.Type()]
	if !ok {
		return nil, errors.Errorf("no handler for event %q", ev.Type())
	}
	if ev.EventID() == "" {
		ev = withID(ev, d.newID())
	}

	d.mu.Lock()
	state := d.state
	state.Clients = d.platform.Clients(ctx)
	effects, next := handler(ev, state)
	next.Clients = nil
	d.state = next
	d.mu.Unlock()

	if len(effects) == 0 {
		d.l.Debug("event without effects", zap.String("type", string(ev.Type())), zap.String("id", ev.EventID()))
	}
	return effects, d.apply(ctx, effects)
}

// State returns a snapshot of the dispatcher state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (d *Dispatcher) apply(ctx context.Context, effects []Effect) error {
	var errs error
	for _, effect := range effects {
		var err error
		switch e := effect.(type) {
		case ShowEffect:
			err = d.platform.Show(ctx, e.Notification)
		case CloseEffect:
			err = d.platform.Close(ctx, e.Tag)
		case FocusEffect:
			err = d.platform.Focus(ctx, e.ClientID)
		case OpenEffect:
			err = d.platform.Open(ctx, e.URL)
		case PostEffect:
			err = d.platform.Post(ctx, e.ClientID, e.Message)
		case CacheStoriesEffect:
			if d.stories == nil {
				err = errors.New("no story writer configured")
			} else {
				err = d.stories.ReplaceAll(ctx, e.Stories)
			}
		default:
			err = errors.Errorf("unknown effect %T", effect)
		}
		metrics.NotificationCounter.WithLabelValues(effect.Kind(), result(err)).Inc()
		if err != nil {
			d.l.Warn("failed to apply effect", zap.String("effect", effect.Kind()), zap.Error(err))
			errs = multierr.Append(errs, errors.Wrapf(err, "failed to apply %s", effect.Kind()))
		}
	}
	return errs
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
