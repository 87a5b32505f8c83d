package subscription

import (
	"context"

	"github.com/foomo/storysync/pkg/story"
)

// Provided is a PushManager for subscriptions created by the client itself, e.g. a
// browser that ran the push service handshake and posts the result.
type Provided struct {
	Subscription story.Subscription
	// Denied reports that the client could not obtain permission.
	Denied bool
}

func (p Provided) Subscribe(context.Context, string) (story.Subscription, error) {
	if p.Denied {
		return story.Subscription{}, ErrPermissionDenied
	}
	return p.Subscription, nil
}

// Unsubscribe is a no-op: the client releases its own endpoint.
func (p Provided) Unsubscribe(context.Context, story.Subscription) error {
	return nil
}
