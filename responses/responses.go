package responses

import (
	"github.com/foomo/storysync/pkg/story"
)

// Stories - a page of stories and where it came from
type Stories struct {
	Stories []story.Story `json:"stories"`
	// network or store
	Source string `json:"source"`
}

// Submit - the outcome of a story submission
type Submit struct {
	Story story.Story `json:"story"`
	// kept locally, uploaded on the next reconnect
	Queued bool `json:"queued"`
}

// Search - the matching stories
type Search struct {
	Stories []story.Story `json:"stories"`
}

// Subscription - the push subscription of the current identity
type Subscription struct {
	Endpoint string     `json:"endpoint"`
	Keys     story.Keys `json:"keys"`
}

// Status - did it work or not
type Status struct {
	Success bool `json:"success"`
}

// Dispatch - the kinds of effects a worker event produced
type Dispatch struct {
	Effects []string `json:"effects"`
}
