package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/foomo/storysync/pkg/store"
	"github.com/foomo/storysync/pkg/story"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type platformMock struct {
	mu      sync.Mutex
	clients []Client
	shown   []Notification
	closed  []string
	focused []string
	opened  []string
	posted  map[string][]Message
}

func newPlatformMock(clients ...Client) *platformMock {
	return &platformMock{clients: clients, posted: map[string][]Message{}}
}

func (p *platformMock) Show(_ context.Context, n Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, n)
	return nil
}

func (p *platformMock) Close(_ context.Context, tag string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, tag)
	return nil
}

func (p *platformMock) Clients(_ context.Context) []Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Client(nil), p.clients...)
}

func (p *platformMock) Focus(_ context.Context, clientID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.focused = append(p.focused, clientID)
	return nil
}

func (p *platformMock) Open(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = append(p.opened, url)
	return nil
}

func (p *platformMock) Post(_ context.Context, clientID string, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posted[clientID] = append(p.posted[clientID], msg)
	return nil
}

type storyWriterMock struct {
	stories []story.Story
}

func (s *storyWriterMock) ReplaceAll(_ context.Context, stories []story.Story) error {
	s.stories = append([]story.Story(nil), stories...)
	return nil
}

func sequentialIDs() func() string {
	var i int
	return func() string {
		i++
		return strconv.Itoa(i)
	}
}

func TestDispatcher_PushDeduplication(t *testing.T) {
	ctx := context.Background()
	platform := newPlatformMock()
	d := NewDispatcher(zaptest.NewLogger(t), platform)

	payload := []byte(`{"id":"n-1","title":"Hello","body":"World"}`)
	effects, err := d.Dispatch(ctx, PushEvent{Payload: payload})
	require.NoError(t, err)
	assert.Len(t, effects, 1)

	effects, err = d.Dispatch(ctx, PushEvent{Payload: payload})
	require.NoError(t, err)
	assert.Empty(t, effects)

	require.Len(t, platform.shown, 1)
	assert.Equal(t, Notification{
		Tag:   "n-1",
		Title: "Hello",
		Body:  "World",
		Icon:  DefaultIcon,
		Badge: DefaultBadge,
		URL:   "/",
	}, platform.shown[0])
}

func TestDispatcher_WindowCapacity(t *testing.T) {
	ctx := context.Background()
	platform := newPlatformMock()
	d := NewDispatcher(zaptest.NewLogger(t), platform)

	for i := 0; i <= WindowCapacity; i++ {
		_, err := d.Dispatch(ctx, PushEvent{Payload: []byte(fmt.Sprintf(`{"id":"n-%d"}`, i))})
		require.NoError(t, err)
	}
	state := d.State()
	assert.Equal(t, WindowCapacity, state.Window.Len())
	assert.False(t, state.Window.Contains("n-0"))
	assert.True(t, state.Window.Contains("n-1"))
	assert.LessOrEqual(t, len(state.Active), WindowCapacity)

	// the evicted id is shown again
	effects, err := d.Dispatch(ctx, PushEvent{Payload: []byte(`{"id":"n-0"}`)})
	require.NoError(t, err)
	assert.Len(t, effects, 1)
}

func TestDispatcher_PushText(t *testing.T) {
	platform := newPlatformMock()
	d := NewDispatcher(zaptest.NewLogger(t), platform, WithIDFunc(sequentialIDs()))

	_, err := d.Dispatch(context.Background(), PushEvent{Payload: []byte("plain text")})
	require.NoError(t, err)

	require.Len(t, platform.shown, 1)
	assert.Equal(t, "Story App Notification", platform.shown[0].Title)
	assert.Equal(t, "plain text", platform.shown[0].Body)
	assert.Equal(t, "1", platform.shown[0].Tag)
}

func TestDispatcher_PushWithoutPayload(t *testing.T) {
	platform := newPlatformMock()
	d := NewDispatcher(zaptest.NewLogger(t), platform)

	effects, err := d.Dispatch(context.Background(), PushEvent{})
	require.NoError(t, err)
	assert.Empty(t, effects)
	assert.Empty(t, platform.shown)
}

func TestDispatcher_RelayExcludesSource(t *testing.T) {
	platform := newPlatformMock(Client{ID: "a"}, Client{ID: "b"}, Client{ID: "c"})
	d := NewDispatcher(zaptest.NewLogger(t), platform)

	_, err := d.Dispatch(context.Background(), MessageEvent{
		Source:  "a",
		Message: Message{Type: MessageNewStory, Title: "T", Body: "D"},
	})
	require.NoError(t, err)

	assert.Empty(t, platform.posted["a"])
	want := []Message{{Type: MessageStoryAdded, Title: "T", Body: "D"}}
	assert.Equal(t, want, platform.posted["b"])
	assert.Equal(t, want, platform.posted["c"])
	require.Len(t, platform.shown, 1)
	assert.Equal(t, "T", platform.shown[0].Title)
}

func TestDispatcher_StoryDeleted(t *testing.T) {
	platform := newPlatformMock(Client{ID: "a"}, Client{ID: "b"})
	d := NewDispatcher(zaptest.NewLogger(t), platform, WithIDFunc(sequentialIDs()))

	_, err := d.Dispatch(context.Background(), MessageEvent{Source: "b", Message: Message{Type: MessageStoryDeleted}})
	require.NoError(t, err)

	require.Len(t, platform.shown, 1)
	n := platform.shown[0]
	assert.Equal(t, "delete-1", n.Tag)
	assert.Equal(t, "Story Deleted", n.Title)
	assert.Equal(t, "A story has been deleted", n.Body)
	assert.Equal(t, []int{100, 50, 100}, n.Vibrate)
	assert.Equal(t, "/#/stories", n.URL)
	assert.Equal(t, []Message{{Type: MessageStoryDeleted}}, platform.posted["a"])
	assert.Empty(t, platform.posted["b"])
}

func TestDispatcher_CacheStories(t *testing.T) {
	writer := &storyWriterMock{}
	d := NewDispatcher(zaptest.NewLogger(t), newPlatformMock(), WithStoryWriter(writer))

	stories := []story.Story{{ID: "s-1", Title: "T", Description: "D"}}
	_, err := d.Dispatch(context.Background(), MessageEvent{Message: Message{Type: MessageCacheStories, Stories: stories}})
	require.NoError(t, err)
	assert.Equal(t, stories, writer.stories)
}

func TestDispatcher_CacheStoriesReplacesSynced(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, zaptest.NewLogger(t), filepath.Join(t.TempDir(), "stories.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutAll(ctx, []story.Story{
		{ID: "old", Title: "Old", Description: "D"},
		{ID: "local-1", Title: "Mine", Description: "D", Pending: true},
	}))

	d := NewDispatcher(zaptest.NewLogger(t), newPlatformMock(), WithStoryWriter(s))
	_, err = d.Dispatch(ctx, MessageEvent{Message: Message{
		Type:    MessageCacheStories,
		Stories: []story.Story{{ID: "new", Title: "New", Description: "D"}},
	}})
	require.NoError(t, err)

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, v := range all {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"local-1", "new"}, ids)
}

func TestDispatcher_CacheStoriesWithoutWriter(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t), newPlatformMock())
	_, err := d.Dispatch(context.Background(), MessageEvent{Message: Message{
		Type:    MessageCacheStories,
		Stories: []story.Story{{ID: "s-1", Title: "T", Description: "D"}},
	}})
	assert.Error(t, err)
}

func TestDispatcher_Click(t *testing.T) {
	ctx := context.Background()

	t.Run("focus", func(t *testing.T) {
		platform := newPlatformMock(Client{ID: "a", URL: "http://localhost:8080/#/stories"})
		d := NewDispatcher(zaptest.NewLogger(t), platform, WithIDFunc(sequentialIDs()))

		_, err := d.Dispatch(ctx, MessageEvent{Source: "x", Message: Message{Type: MessageNewStory}})
		require.NoError(t, err)
		_, err = d.Dispatch(ctx, ClickEvent{Tag: "story-1"})
		require.NoError(t, err)

		assert.Equal(t, []string{"story-1"}, platform.closed)
		assert.Equal(t, []string{"a"}, platform.focused)
		assert.Empty(t, platform.opened)
		assert.NotContains(t, d.State().Active, "story-1")
	})

	t.Run("open", func(t *testing.T) {
		platform := newPlatformMock(Client{ID: "a", URL: "http://localhost:8080/#/about"})
		d := NewDispatcher(zaptest.NewLogger(t), platform)

		_, err := d.Dispatch(ctx, PushEvent{Payload: []byte(`{"id":"n-1","url":"/#/stories/42"}`)})
		require.NoError(t, err)
		_, err = d.Dispatch(ctx, ClickEvent{Tag: "n-1"})
		require.NoError(t, err)

		assert.Empty(t, platform.focused)
		assert.Equal(t, []string{"/#/stories/42"}, platform.opened)
	})

	t.Run("unknown tag", func(t *testing.T) {
		platform := newPlatformMock()
		d := NewDispatcher(zaptest.NewLogger(t), platform)

		effects, err := d.Dispatch(ctx, ClickEvent{Tag: "gone"})
		require.NoError(t, err)
		assert.Equal(t, []Effect{CloseEffect{Tag: "gone"}}, effects)
	})
}

func TestDispatcher_CloseForgetsNotification(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(zaptest.NewLogger(t), newPlatformMock())

	_, err := d.Dispatch(ctx, PushEvent{Payload: []byte(`{"id":"n-1"}`)})
	require.NoError(t, err)
	_, err = d.Dispatch(ctx, CloseEvent{Tag: "n-1"})
	require.NoError(t, err)

	state := d.State()
	assert.NotContains(t, state.Active, "n-1")
	assert.True(t, state.Window.Contains("n-1"))
}

func TestDispatcher_NewStoryEffects(t *testing.T) {
	platform := newPlatformMock(Client{ID: "a"}, Client{ID: "b"})
	d := NewDispatcher(zaptest.NewLogger(t), platform, WithIDFunc(sequentialIDs()))

	effects, err := d.Dispatch(context.Background(), MessageEvent{
		Source:  "a",
		Message: Message{Type: MessageNewStory, Title: "Hello", Body: "World"},
	})
	require.NoError(t, err)

	type kindEffect struct {
		Kind   string `json:"kind"`
		Effect Effect `json:"effect"`
	}
	actual := make([]kindEffect, 0, len(effects))
	for _, e := range effects {
		actual = append(actual, kindEffect{Kind: e.Kind(), Effect: e})
	}
	data, err := json.MarshalIndent(actual, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "new_story_effects", data)
}

func TestWindow_With(t *testing.T) {
	w := NewWindow(2).With("a").With("b").With("a").With("c")
	assert.Equal(t, 2, w.Len())
	assert.False(t, w.Contains("a"))
	assert.True(t, w.Contains("b"))
	assert.True(t, w.Contains("c"))
}
