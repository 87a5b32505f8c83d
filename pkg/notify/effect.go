package notify

import (
	"github.com/foomo/storysync/pkg/story"
)

type (
	// Effect is an instruction produced by a handler and applied by the dispatcher.
	Effect interface {
		Kind() string
	}
	ShowEffect struct {
		Notification Notification `json:"notification"`
	}
	CloseEffect struct {
		Tag string `json:"tag"`
	}
	FocusEffect struct {
		ClientID string `json:"clientId"`
	}
	OpenEffect struct {
		URL string `json:"url"`
	}
	PostEffect struct {
		ClientID string  `json:"clientId"`
		Message  Message `json:"message"`
	}
	CacheStoriesEffect struct {
		Stories []story.Story `json:"stories"`
	}
)

func (ShowEffect) Kind() string         { return "show" }
func (CloseEffect) Kind() string        { return "close" }
func (FocusEffect) Kind() string        { return "focus" }
func (OpenEffect) Kind() string         { return "open" }
func (PostEffect) Kind() string         { return "post" }
func (CacheStoriesEffect) Kind() string { return "cacheStories" }
