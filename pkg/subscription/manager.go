package subscription

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/foomo/storysync/pkg/fetch"
	"github.com/foomo/storysync/pkg/store"
	"github.com/foomo/storysync/pkg/story"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultVAPIDPublicKey is the application server key of the story service.
const DefaultVAPIDPublicKey = "BCCs2eonMI-6H2ctvFaWg-UYdDv387Vno_bzUzALpB442r2lCnsHmtrx8biyPi_E-1fSGABK_Qs_GlvPoJJqxbk"

const guestIdentity = "guest"

// ErrPermissionDenied is returned by a PushManager when the user declined notifications.
var ErrPermissionDenied = errors.New("notification permission denied")

type (
	// PushManager obtains push endpoints from the push service.
	PushManager interface {
		Subscribe(ctx context.Context, applicationServerKey string) (story.Subscription, error)
		Unsubscribe(ctx context.Context, sub story.Subscription) error
	}
	// Registrar announces subscriptions to the story service.
	Registrar interface {
		SubscribePush(ctx context.Context, sub story.Subscription) error
		UnsubscribePush(ctx context.Context, endpoint string) error
	}
	Store interface {
		SaveSubscription(ctx context.Context, sub story.Subscription) (story.Subscription, bool, error)
		Subscription(ctx context.Context, identity string) (story.Subscription, error)
		DeleteSubscription(ctx context.Context, identity string) error
	}
	// Manager keeps at most one push subscription per identity.
	Manager struct {
		l         *zap.Logger
		registrar Registrar
		store     Store
		tokens    fetch.TokenSource
		vapidKey  string
		now       func() time.Time
		flight    singleflight.Group
	}
	Option func(*Manager)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, registrar Registrar, s Store, tokens fetch.TokenSource, opts ...Option) *Manager {
	inst := &Manager{
		l:         l.Named("subscription"),
		registrar: registrar,
		store:     s,
		tokens:    tokens,
		vapidKey:  DefaultVAPIDPublicKey,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithVAPIDPublicKey(v string) Option {
	return func(o *Manager) {
		o.vapidKey = v
	}
}

func WithClock(v func() time.Time) Option {
	return func(o *Manager) {
		o.now = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Subscribe returns the subscription of the current identity, creating it through push if needed.
// Concurrent calls for one identity share a single registration.
func (m *Manager) Subscribe(ctx context.Context, push PushManager) (story.Subscription, error) {
	identity, err := m.identity(ctx)
	if err != nil {
		return story.Subscription{}, &story.SubscriptionError{Err: err}
	}
	v, err, _ := m.flight.Do(identity, func() (interface{}, error) {
		return m.subscribe(ctx, identity, push)
	})
	if err != nil {
		return story.Subscription{}, err
	}
	return v.(story.Subscription), nil
}

// Unsubscribe removes the subscription of the current identity. Without one it does nothing.
func (m *Manager) Unsubscribe(ctx context.Context, push PushManager) error {
	identity, err := m.identity(ctx)
	if err != nil {
		return &story.SubscriptionError{Err: err}
	}
	sub, err := m.store.Subscription(ctx, identity)
	if errors.Is(err, store.ErrNoSubscription) {
		return nil
	} else if err != nil {
		return err
	}
	if err := m.registrar.UnsubscribePush(ctx, sub.Endpoint); err != nil {
		return &story.SubscriptionError{Err: err}
	}
	if push != nil {
		if err := push.Unsubscribe(ctx, sub); err != nil {
			m.l.Warn("failed to release push endpoint", zap.Error(err))
		}
	}
	m.l.Info("unsubscribed", zap.String("identity", identity))
	return m.store.DeleteSubscription(ctx, identity)
}

// Current returns the subscription of the current identity.
func (m *Manager) Current(ctx context.Context) (story.Subscription, bool, error) {
	identity, err := m.identity(ctx)
	if err != nil {
		return story.Subscription{}, false, err
	}
	sub, err := m.store.Subscription(ctx, identity)
	if errors.Is(err, store.ErrNoSubscription) {
		return story.Subscription{}, false, nil
	} else if err != nil {
		return story.Subscription{}, false, err
	}
	return sub, true, nil
}

// Identity derives a stable identity from a bearer token: the JWT subject or user id claim
// when present, a fingerprint of the token otherwise.
func Identity(token string) string {
	if token == "" {
		return guestIdentity
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			return sub
		}
		if id, ok := claims["userId"].(string); ok && id != "" {
			return id
		}
	}
	sum := sha256.Sum256([]byte(token))
	return "token-" + hex.EncodeToString(sum[:8])
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (m *Manager) subscribe(ctx context.Context, identity string, push PushManager) (story.Subscription, error) {
	l := m.l.With(zap.String("identity", identity))

	if existing, err := m.store.Subscription(ctx, identity); err == nil {
		l.Debug("already subscribed")
		return existing, nil
	} else if !errors.Is(err, store.ErrNoSubscription) {
		return story.Subscription{}, err
	}

	sub, err := push.Subscribe(ctx, m.vapidKey)
	if errors.Is(err, ErrPermissionDenied) {
		l.Info("permission denied")
		return story.Subscription{}, &story.SubscriptionError{Denied: true, Err: err}
	} else if err != nil {
		return story.Subscription{}, &story.SubscriptionError{Err: err}
	}
	if sub.Endpoint == "" {
		return story.Subscription{}, &story.SubscriptionError{Err: errors.New("push service returned no endpoint")}
	}
	sub.Identity = identity
	sub.CreatedAt = m.now().UTC()

	if err := m.registrar.SubscribePush(ctx, sub); err != nil {
		m.releasePush(ctx, l, push, sub)
		return story.Subscription{}, &story.SubscriptionError{Err: err}
	}

	saved, created, err := m.store.SaveSubscription(ctx, sub)
	if err != nil {
		return story.Subscription{}, err
	}
	if !created {
		// another writer stored one first
		if saved.Endpoint != sub.Endpoint {
			l.Info("subscription already stored, releasing endpoint", zap.String("endpoint", sub.Endpoint))
			if err := m.registrar.UnsubscribePush(ctx, sub.Endpoint); err != nil {
				l.Warn("failed to unregister endpoint", zap.String("endpoint", sub.Endpoint), zap.Error(err))
			}
			m.releasePush(ctx, l, push, sub)
		}
		return saved, nil
	}
	l.Info("subscribed", zap.String("endpoint", saved.Endpoint))
	return saved, nil
}

func (m *Manager) releasePush(ctx context.Context, l *zap.Logger, push PushManager, sub story.Subscription) {
	if err := push.Unsubscribe(ctx, sub); err != nil {
		l.Warn("failed to release push endpoint", zap.Error(err))
	}
}

func (m *Manager) identity(ctx context.Context) (string, error) {
	if m.tokens == nil {
		return guestIdentity, nil
	}
	token, err := m.tokens.Token(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to read token")
	}
	return Identity(token), nil
}
