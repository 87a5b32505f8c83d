package subscription_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/foomo/storysync/pkg/fetch"
	"github.com/foomo/storysync/pkg/store"
	"github.com/foomo/storysync/pkg/story"
	"github.com/foomo/storysync/pkg/subscription"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type registrarMock struct {
	mu           sync.Mutex
	err          error
	subscribed   []story.Subscription
	unsubscribed []string
}

func (r *registrarMock) SubscribePush(_ context.Context, sub story.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.subscribed = append(r.subscribed, sub)
	return nil
}

func (r *registrarMock) UnsubscribePush(_ context.Context, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribed = append(r.unsubscribed, endpoint)
	return nil
}

func newTestManager(t *testing.T, registrar subscription.Registrar, token string) (*subscription.Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), zaptest.NewLogger(t), filepath.Join(t.TempDir(), "stories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return subscription.New(zaptest.NewLogger(t), registrar, s, fetch.StaticToken(token)), s
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func provided(endpoint string) subscription.Provided {
	return subscription.Provided{Subscription: story.Subscription{
		Endpoint: endpoint,
		Keys:     story.Keys{P256DH: "p256dh", Auth: "auth"},
	}}
}

func TestManager_SubscribeAtMostOnce(t *testing.T) {
	ctx := context.Background()
	registrar := &registrarMock{}
	m, _ := newTestManager(t, registrar, signedToken(t, jwt.MapClaims{"userId": "user-1"}))

	first, err := m.Subscribe(ctx, provided("https://push/1"))
	require.NoError(t, err)
	assert.Equal(t, "user-1", first.Identity)

	second, err := m.Subscribe(ctx, provided("https://push/2"))
	require.NoError(t, err)
	assert.Equal(t, "https://push/1", second.Endpoint)
	assert.Len(t, registrar.subscribed, 1)

	current, ok, err := m.Current(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://push/1", current.Endpoint)
}

func TestManager_SubscribeDenied(t *testing.T) {
	m, _ := newTestManager(t, &registrarMock{}, "")

	_, err := m.Subscribe(context.Background(), subscription.Provided{Denied: true})
	var serr *story.SubscriptionError
	require.True(t, errors.As(err, &serr))
	assert.True(t, serr.Denied)

	_, ok, err := m.Current(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_RegistrationFailure(t *testing.T) {
	registrar := &registrarMock{err: &story.NetworkError{URL: "https://api/notifications/subscribe", Attempts: 4, Status: 500}}
	m, _ := newTestManager(t, registrar, "opaque-token")

	_, err := m.Subscribe(context.Background(), provided("https://push/1"))
	var serr *story.SubscriptionError
	require.True(t, errors.As(err, &serr))
	assert.False(t, serr.Denied)

	_, ok, err := m.Current(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "failed registrations are not stored")
}

func TestManager_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	registrar := &registrarMock{}
	m, _ := newTestManager(t, registrar, "opaque-token")

	require.NoError(t, m.Unsubscribe(ctx, nil))
	assert.Empty(t, registrar.unsubscribed)

	_, err := m.Subscribe(ctx, provided("https://push/1"))
	require.NoError(t, err)
	require.NoError(t, m.Unsubscribe(ctx, nil))
	assert.Equal(t, []string{"https://push/1"}, registrar.unsubscribed)

	_, ok, err := m.Current(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

type pushMock struct {
	mu       sync.Mutex
	endpoint string
	// before runs inside Subscribe, after the manager checked the store
	before   func()
	released []string
}

func (p *pushMock) Subscribe(context.Context, string) (story.Subscription, error) {
	if p.before != nil {
		p.before()
	}
	return story.Subscription{Endpoint: p.endpoint, Keys: story.Keys{P256DH: "p256dh", Auth: "auth"}}, nil
}

func (p *pushMock) Unsubscribe(_ context.Context, sub story.Subscription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, sub.Endpoint)
	return nil
}

func TestManager_SubscribeReleasesLosingEndpoint(t *testing.T) {
	ctx := context.Background()
	registrar := &registrarMock{}
	m, s := newTestManager(t, registrar, "opaque-token")

	push := &pushMock{endpoint: "https://push/b", before: func() {
		_, _, err := s.SaveSubscription(ctx, story.Subscription{
			Identity: subscription.Identity("opaque-token"),
			Endpoint: "https://push/a",
		})
		require.NoError(t, err)
	}}

	got, err := m.Subscribe(ctx, push)
	require.NoError(t, err)
	assert.Equal(t, "https://push/a", got.Endpoint)
	assert.Equal(t, []string{"https://push/b"}, registrar.unsubscribed)
	assert.Equal(t, []string{"https://push/b"}, push.released)
}

func TestManager_SubscribeConcurrent(t *testing.T) {
	ctx := context.Background()
	registrar := &registrarMock{}
	m, _ := newTestManager(t, registrar, "opaque-token")

	var (
		wg      sync.WaitGroup
		results = make([]story.Subscription, 2)
	)
	for i, endpoint := range []string{"https://push/a", "https://push/b"} {
		wg.Add(1)
		go func(i int, endpoint string) {
			defer wg.Done()
			sub, err := m.Subscribe(ctx, provided(endpoint))
			assert.NoError(t, err)
			results[i] = sub
		}(i, endpoint)
	}
	wg.Wait()

	assert.Equal(t, results[0].Endpoint, results[1].Endpoint)
	registrar.mu.Lock()
	defer registrar.mu.Unlock()
	// every endpoint registered with the server is either kept or released again
	assert.Len(t, registrar.subscribed, len(registrar.unsubscribed)+1)
	for _, endpoint := range registrar.unsubscribed {
		assert.NotEqual(t, results[0].Endpoint, endpoint)
	}

	current, ok, err := m.Current(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, results[0].Endpoint, current.Endpoint)
}

func TestIdentity(t *testing.T) {
	assert.Equal(t, "guest", subscription.Identity(""))
	assert.Equal(t, "user-1", subscription.Identity(signedToken(t, jwt.MapClaims{"sub": "user-1"})))
	assert.Equal(t, "user-2", subscription.Identity(signedToken(t, jwt.MapClaims{"userId": "user-2"})))

	opaque := subscription.Identity("not-a-jwt")
	assert.Equal(t, opaque, subscription.Identity("not-a-jwt"))
	assert.NotEqual(t, opaque, subscription.Identity("another"))
	assert.Contains(t, opaque, "token-")
}
