package coordinator_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/foomo/storysync/pkg/api"
	"github.com/foomo/storysync/pkg/coordinator"
	"github.com/foomo/storysync/pkg/netstate"
	"github.com/foomo/storysync/pkg/store"
	"github.com/foomo/storysync/pkg/story"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type apiMock struct {
	mu        sync.Mutex
	pages     map[int][]story.Story
	err       error
	block     chan struct{}
	calls     []api.Page
	submitted []*story.Payload
}

func (a *apiMock) ListStories(ctx context.Context, p api.Page) ([]story.Story, error) {
	a.mu.Lock()
	a.calls = append(a.calls, p)
	block, err, list := a.block, a.err, a.pages[p.Page]
	a.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (a *apiMock) SubmitStory(ctx context.Context, p *story.Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.submitted = append(a.submitted, p)
	return nil
}

func (a *apiMock) Calls() []api.Page {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]api.Page(nil), a.calls...)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), zaptest.NewLogger(t), filepath.Join(t.TempDir(), "stories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func remote(id string) story.Story {
	return story.Story{
		ID:          id,
		Title:       "title " + id,
		Description: "description " + id,
		PhotoURL:    "https://story-api.dicoding.dev/images/stories/" + id + ".jpg",
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func ids(stories []story.Story) []string {
	ret := make([]string, 0, len(stories))
	for _, v := range stories {
		ret = append(ret, v.ID)
	}
	return ret
}

func TestGetStories_FallbackReturnsStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.PutAll(ctx, []story.Story{remote("a"), remote("b")}))

	a := &apiMock{err: &story.NetworkError{URL: "https://api/stories", Attempts: 4}}
	c := coordinator.New(zaptest.NewLogger(t), a, s, netstate.Fixed(true))

	res, err := c.GetStories(ctx, coordinator.Query{Page: 1})
	require.NoError(t, err)

	stored, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, stored, res.Stories)
	assert.Equal(t, coordinator.SourceStore, res.Source)
}

func TestGetStories_OfflineSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.PutAll(ctx, []story.Story{remote("a")}))

	a := &apiMock{}
	c := coordinator.New(zaptest.NewLogger(t), a, s, netstate.Fixed(false))

	res, err := c.GetStories(ctx, coordinator.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(res.Stories))
	assert.Empty(t, a.Calls())
}

func TestGetStories_OfflineStoreFailure(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	c := coordinator.New(zaptest.NewLogger(t), &apiMock{}, s, netstate.Fixed(false))
	_, err := c.GetStories(context.Background(), coordinator.Query{})

	var serr *story.StorageError
	assert.True(t, errors.As(err, &serr))
}

func TestGetStories_FirstPageReplacesSynced(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.PutAll(ctx, []story.Story{remote("old")}))
	pending, err := s.Put(ctx, story.Story{Title: "T", Description: "D", PhotoData: "data:image/png;base64,eA==", Pending: true})
	require.NoError(t, err)

	a := &apiMock{pages: map[int][]story.Story{1: {remote("a"), remote("b")}, 2: {remote("c")}}}
	c := coordinator.New(zaptest.NewLogger(t), a, s, netstate.Fixed(true))

	res, err := c.GetStories(ctx, coordinator.Query{Page: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, coordinator.SourceNetwork, res.Source)
	assert.Equal(t, []string{"a", "b", pending.ID}, ids(res.Stories))
	assert.Equal(t, []api.Page{{Page: 1, Size: 2}}, a.Calls())

	_, err = s.Get(ctx, "old")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// later pages extend the snapshot
	res, err = c.GetStories(ctx, coordinator.Query{Page: 2, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(res.Stories))

	stored, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c", pending.ID}, ids(stored))
}

func TestSyncOnReconnect(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p, err := story.FieldSubmission{Title: "T", Description: "D", Photo: []byte("jpeg"), PhotoMimeType: "image/jpeg"}.Prepare()
	require.NoError(t, err)
	p.Story.Pending = true
	pending, err := s.Put(ctx, p.Story)
	require.NoError(t, err)

	a := &apiMock{pages: map[int][]story.Story{1: {remote("a")}}}
	c := coordinator.New(zaptest.NewLogger(t), a, s, netstate.Fixed(true))
	require.NoError(t, c.SyncOnReconnect(ctx))

	require.Len(t, a.submitted, 1)
	assert.Contains(t, string(a.submitted[0].Body), "jpeg")

	stored, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(stored))
	_, err = s.Get(ctx, pending.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSyncOnReconnect_KeepsPendingOnFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	pending, err := s.Put(ctx, story.Story{Title: "T", Description: "D", PhotoData: "data:image/png;base64,eA==", Pending: true})
	require.NoError(t, err)

	a := &apiMock{err: &story.NetworkError{URL: "https://api/stories", Attempts: 4, Status: 500}}
	c := coordinator.New(zaptest.NewLogger(t), a, s, netstate.Fixed(true))
	require.Error(t, c.SyncOnReconnect(ctx))

	got, err := s.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, got.Pending)
}

func TestMerge(t *testing.T) {
	online := []story.Story{remote("a"), remote("b")}
	offlineB := remote("b")
	offlineB.Title = "stale"
	offline := []story.Story{remote("c"), offlineB, remote("a")}

	merged := coordinator.Merge(online, offline)
	assert.Equal(t, []string{"a", "b", "c"}, ids(merged))
	assert.Equal(t, "title b", merged[1].Title)
}
