package notify

import (
	"net/url"
)

const (
	pushFallbackTitle = "Story App Notification"
	pushDefaultTitle  = "Story App"
	pushDefaultBody   = "New update from Story App"

	newStoryTitle     = "New Story Added"
	newStoryBody      = "A new story has been added!"
	deletedStoryTitle = "Story Deleted"
	deletedStoryBody  = "A story has been deleted"
	storiesURL        = "/#/stories"
)

var deleteVibration = []int{100, 50, 100}

type (
	// Client is an open page connected to the worker.
	Client struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	// State is everything a handler may read. Handlers return the next state instead of mutating it.
	State struct {
		Window  Window
		Active  map[string]Notification
		Clients []Client
	}
	Handler func(ev Event, state State) ([]Effect, State)
	// Table maps event types to their handler.
	Table map[EventType]Handler
)

// DefaultTable returns the handlers of the story app worker.
func DefaultTable() Table {
	return Table{
		EventPush:    handlePush,
		EventMessage: handleMessage,
		EventClick:   handleClick,
		EventClose:   handleClose,
	}
}

type pushPayload struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
	URL   string `json:"url"`
}

func handlePush(ev Event, state State) ([]Effect, State) {
	e := ev.(PushEvent)
	if len(e.Payload) == 0 {
		return nil, state
	}
	var p pushPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		p = pushPayload{Title: pushFallbackTitle, Body: string(e.Payload)}
	}

	tag := p.ID
	if tag == "" {
		tag = e.ID
	}
	if state.Window.Contains(tag) {
		return nil, state
	}
	n := Notification{
		Tag:   tag,
		Title: or(p.Title, pushDefaultTitle),
		Body:  or(p.Body, pushDefaultBody),
		Icon:  or(p.Icon, DefaultIcon),
		Badge: DefaultBadge,
		URL:   or(p.URL, "/"),
	}
	return []Effect{ShowEffect{Notification: n}}, state.shown(n)
}

func handleMessage(ev Event, state State) ([]Effect, State) {
	e := ev.(MessageEvent)
	msg := e.Message
	switch msg.Type {
	case MessageNewStory:
		n := Notification{
			Tag:     "story-" + e.ID,
			Title:   or(msg.Title, newStoryTitle),
			Body:    or(msg.Body, newStoryBody),
			Icon:    or(msg.Icon, DefaultIcon),
			Badge:   DefaultBadge,
			URL:     or(msg.URL, storiesURL),
			Actions: []Action{{Action: "view", Title: "View Story"}},
		}
		effects := append([]Effect{ShowEffect{Notification: n}},
			relay(state.Clients, e.Source, Message{Type: MessageStoryAdded, Title: msg.Title, Body: msg.Body})...)
		return effects, state.shown(n)
	case MessageStoryDeleted:
		n := Notification{
			Tag:     "delete-" + e.ID,
			Title:   or(msg.Title, deletedStoryTitle),
			Body:    or(msg.Body, deletedStoryBody),
			Icon:    or(msg.Icon, DefaultIcon),
			Badge:   DefaultBadge,
			URL:     or(msg.URL, storiesURL),
			Vibrate: deleteVibration,
			Actions: []Action{{Action: "view", Title: "View Stories"}},
		}
		effects := append([]Effect{ShowEffect{Notification: n}},
			relay(state.Clients, e.Source, Message{Type: MessageStoryDeleted, Title: msg.Title, Body: msg.Body})...)
		return effects, state.shown(n)
	case MessageCacheStories:
		if len(msg.Stories) == 0 {
			return nil, state
		}
		return []Effect{CacheStoriesEffect{Stories: msg.Stories}}, state
	}
	return nil, state
}

func handleClick(ev Event, state State) ([]Effect, State) {
	e := ev.(ClickEvent)
	n, ok := state.Active[e.Tag]
	effects := []Effect{CloseEffect{Tag: e.Tag}}
	state = state.closed(e.Tag)
	if !ok || n.URL == "" {
		return effects, state
	}
	for _, c := range state.Clients {
		if sameURL(c.URL, n.URL) {
			return append(effects, FocusEffect{ClientID: c.ID}), state
		}
	}
	return append(effects, OpenEffect{URL: n.URL}), state
}

func handleClose(ev Event, state State) ([]Effect, State) {
	return nil, state.closed(ev.(CloseEvent).Tag)
}

// relay addresses msg to every client except the source.
func relay(clients []Client, source string, msg Message) []Effect {
	var ret []Effect
	for _, c := range clients {
		if c.ID != source {
			ret = append(ret, PostEffect{ClientID: c.ID, Message: msg})
		}
	}
	return ret
}

// shown records n. Active notifications are bounded by the window.
func (s State) shown(n Notification) State {
	s.Window = s.Window.With(n.Tag)
	active := make(map[string]Notification, len(s.Active)+1)
	for k, v := range s.Active {
		if s.Window.Contains(k) {
			active[k] = v
		}
	}
	active[n.Tag] = n
	s.Active = active
	return s
}

func (s State) closed(tag string) State {
	if _, ok := s.Active[tag]; !ok {
		return s
	}
	active := make(map[string]Notification, len(s.Active))
	for k, v := range s.Active {
		if k != tag {
			active[k] = v
		}
	}
	s.Active = active
	return s
}

// sameURL compares a client url with a notification target, which may be relative.
func sameURL(client, target string) bool {
	if client == target {
		return true
	}
	c, err := url.Parse(client)
	if err != nil {
		return false
	}
	t, err := url.Parse(target)
	if err != nil || t.IsAbs() {
		return false
	}
	return c.Path == t.Path && c.RawQuery == t.RawQuery && c.Fragment == t.Fragment
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
