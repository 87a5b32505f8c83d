package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHub_PostAndBroadcast(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(zaptest.NewLogger(t))

	a, unsubscribeA := hub.Subscribe("a", "http://app/#/")
	defer unsubscribeA()
	b, unsubscribeB := hub.Subscribe("b", "http://app/#/stories")
	defer unsubscribeB()

	assert.Equal(t, []Client{{ID: "a", URL: "http://app/#/"}, {ID: "b", URL: "http://app/#/stories"}}, hub.Clients(ctx))

	require.NoError(t, hub.Post(ctx, "b", Message{Type: MessageStoryAdded, Title: "T"}))
	frame := <-b.C
	assert.Equal(t, "message", frame.Event)
	assert.JSONEq(t, `{"type":"STORY_ADDED","title":"T"}`, string(frame.Data))

	require.NoError(t, hub.Show(ctx, Notification{Tag: "n-1", Title: "Hello"}))
	assert.Equal(t, "notification", (<-a.C).Event)
	assert.Equal(t, "notification", (<-b.C).Event)

	assert.Error(t, hub.Focus(ctx, "missing"))
}

func TestHub_Resubscribe(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))

	first, unsubscribeFirst := hub.Subscribe("a", "http://app/")
	second, unsubscribeSecond := hub.Subscribe("a", "http://app/#/stories")
	defer unsubscribeSecond()

	_, ok := <-first.C
	assert.False(t, ok, "replaced stream must be closed")

	// a stale unsubscribe must not drop the new stream
	unsubscribeFirst()
	assert.Len(t, hub.Clients(context.Background()), 1)
	require.NoError(t, hub.Focus(context.Background(), "a"))
	assert.Equal(t, "focus", (<-second.C).Event)
}

func TestHub_DispatcherRelay(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(zaptest.NewLogger(t))
	d := NewDispatcher(zaptest.NewLogger(t), hub)

	_, unsubscribeA := hub.Subscribe("a", "http://app/")
	defer unsubscribeA()
	b, unsubscribeB := hub.Subscribe("b", "http://app/")
	defer unsubscribeB()

	_, err := d.Dispatch(ctx, MessageEvent{Source: "a", Message: Message{Type: MessageNewStory, Title: "T"}})
	require.NoError(t, err)

	assert.Equal(t, "notification", (<-b.C).Event)
	frame := <-b.C
	assert.Equal(t, "message", frame.Event)
	assert.JSONEq(t, `{"type":"STORY_ADDED","title":"T"}`, string(frame.Data))
}
