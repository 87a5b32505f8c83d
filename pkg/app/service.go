package app

import (
	"context"
	"unicode/utf8"

	"github.com/foomo/storysync/pkg/coordinator"
	"github.com/foomo/storysync/pkg/netstate"
	"github.com/foomo/storysync/pkg/notify"
	"github.com/foomo/storysync/pkg/story"
	"github.com/foomo/storysync/pkg/subscription"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	notificationBodyLength = 50
	storiesHash            = "#/stories"
)

type (
	// Store is the part of the persistent store the facade writes to directly.
	Store interface {
		Put(ctx context.Context, v story.Story) (story.Story, error)
		Delete(ctx context.Context, id string) error
		Search(ctx context.Context, query string) ([]story.Story, error)
	}
	Uploader interface {
		SubmitStory(ctx context.Context, p *story.Payload) error
	}
	// Messenger posts messages to the worker.
	Messenger interface {
		Post(ctx context.Context, msg notify.Message) error
	}
	MessengerFunc func(ctx context.Context, msg notify.Message) error
	SubmitResult struct {
		Story story.Story `json:"story"`
		// Queued is set when the story was kept locally for a later upload.
		Queued bool `json:"queued"`
	}
	// Service is the collaborator interface pages call into.
	Service struct {
		l           *zap.Logger
		coordinator *coordinator.Coordinator
		store       Store
		uploader    Uploader
		net         netstate.Checker
		subs        *subscription.Manager
		messenger   Messenger
	}
	Option func(*Service)
)

func (f MessengerFunc) Post(ctx context.Context, msg notify.Message) error {
	return f(ctx, msg)
}

// DispatcherMessenger posts to an in-process dispatcher on behalf of client source.
func DispatcherMessenger(d *notify.Dispatcher, source string) Messenger {
	return MessengerFunc(func(ctx context.Context, msg notify.Message) error {
		_, err := d.Dispatch(ctx, notify.MessageEvent{Source: source, Message: msg})
		return err
	})
}

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, c *coordinator.Coordinator, s Store, uploader Uploader, net netstate.Checker, subs *subscription.Manager, opts ...Option) *Service {
	inst := &Service{
		l:           l.Named("app"),
		coordinator: c,
		store:       s,
		uploader:    uploader,
		net:         net,
		subs:        subs,
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithMessenger(v Messenger) Option {
	return func(o *Service) {
		o.messenger = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

func (s *Service) GetStories(ctx context.Context, page, size int, locationOnly bool) (coordinator.Result, error) {
	return s.coordinator.GetStories(ctx, coordinator.Query{Page: page, Size: size, LocationOnly: locationOnly})
}

// SubmitStory uploads a new story. Invalid submissions are rejected before anything is sent.
// When offline or when the upload fails the story is kept locally as pending.
// An accepted upload is not stored locally, it arrives with its service id on the next sync.
func (s *Service) SubmitStory(ctx context.Context, sub story.Submission) (SubmitResult, error) {
	if sub == nil {
		return SubmitResult{}, story.NewValidationError("submission", "must not be nil")
	}
	payload, err := sub.Prepare()
	if err != nil {
		return SubmitResult{}, err
	}

	if s.net.Online() {
		err = s.uploader.SubmitStory(ctx, payload)
		if err == nil {
			// the service assigns the id, the next page 1 load stores the story
			s.post(ctx, notify.Message{
				Type:  notify.MessageNewStory,
				Title: "New Story: " + payload.Story.Title,
				Body:  truncate(payload.Story.Description, notificationBodyLength),
				URL:   storiesHash,
				Icon:  notify.DefaultIcon,
			})
			return SubmitResult{Story: payload.Story}, nil
		}
		var netErr *story.NetworkError
		if !errors.As(err, &netErr) {
			return SubmitResult{}, err
		}
		s.l.Info("upload failed, queueing story", zap.Error(err))
	}

	pending := payload.Story
	pending.Pending = true
	saved, err := s.store.Put(ctx, pending)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Story: saved, Queued: true}, nil
}

// DeleteStory removes a story from this device.
func (s *Service) DeleteStory(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.post(ctx, notify.Message{Type: notify.MessageStoryDeleted})
	return nil
}

func (s *Service) Search(ctx context.Context, query string) ([]story.Story, error) {
	return s.store.Search(ctx, query)
}

func (s *Service) Subscribe(ctx context.Context, push subscription.PushManager) (story.Subscription, error) {
	return s.subs.Subscribe(ctx, push)
}

func (s *Service) Unsubscribe(ctx context.Context, push subscription.PushManager) error {
	return s.subs.Unsubscribe(ctx, push)
}

// Sync runs the reconnect synchronization.
func (s *Service) Sync(ctx context.Context) error {
	return s.coordinator.SyncOnReconnect(ctx)
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (s *Service) post(ctx context.Context, msg notify.Message) {
	if s.messenger == nil {
		return
	}
	if err := s.messenger.Post(ctx, msg); err != nil {
		s.l.Warn("failed to notify worker", zap.String("type", msg.Type), zap.Error(err))
	}
}

func truncate(v string, n int) string {
	if utf8.RuneCountInString(v) <= n {
		return v
	}
	return string([]rune(v)[:n]) + "..."
}
