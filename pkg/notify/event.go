package notify

import (
	"github.com/foomo/storysync/pkg/story"
)

type EventType string

const (
	EventPush    EventType = "push"
	EventMessage EventType = "message"
	EventClick   EventType = "notificationclick"
	EventClose   EventType = "notificationclose"
)

// Message types exchanged between clients and the worker.
const (
	MessageNewStory     = "NEW_STORY"
	MessageStoryAdded   = "STORY_ADDED"
	MessageStoryDeleted = "STORY_DELETED"
	MessageCacheStories = "CACHE_STORIES"
)

type (
	// Event is anything the worker reacts to.
	Event interface {
		Type() EventType
		// EventID is assigned by the dispatcher when empty.
		EventID() string
	}
	PushEvent struct {
		ID      string
		Payload []byte
	}
	MessageEvent struct {
		ID      string
		Source  string
		Message Message
	}
	ClickEvent struct {
		ID     string
		Tag    string
		Action string
	}
	CloseEvent struct {
		ID  string
		Tag string
	}
	// Message is the JSON document posted between clients and the worker.
	Message struct {
		Type    string        `json:"type"`
		Title   string        `json:"title,omitempty"`
		Body    string        `json:"body,omitempty"`
		Icon    string        `json:"icon,omitempty"`
		URL     string        `json:"url,omitempty"`
		Stories []story.Story `json:"stories,omitempty"`
	}
)

func (e PushEvent) Type() EventType    { return EventPush }
func (e MessageEvent) Type() EventType { return EventMessage }
func (e ClickEvent) Type() EventType   { return EventClick }
func (e CloseEvent) Type() EventType   { return EventClose }

func (e PushEvent) EventID() string    { return e.ID }
func (e MessageEvent) EventID() string { return e.ID }
func (e ClickEvent) EventID() string   { return e.ID }
func (e CloseEvent) EventID() string   { return e.ID }

func withID(ev Event, id string) Event {
	switch e := ev.(type) {
	case PushEvent:
		e.ID = id
		return e
	case MessageEvent:
		e.ID = id
		return e
	case ClickEvent:
		e.ID = id
		return e
	case CloseEvent:
		e.ID = id
		return e
	}
	return ev
}
