package requests

import (
	"github.com/foomo/storysync/pkg/story"
)

// Stories - one page of the story list
type Stories struct {
	Page int `json:"page"`
	Size int `json:"size"`
	// only stories with coordinates
	LocationOnly bool `json:"locationOnly"`
}

// SubmitStory - the fields of a new story, the photo travels base64 encoded
type SubmitStory struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Photo         []byte   `json:"photo"`
	PhotoName     string   `json:"photoName,omitempty"`
	PhotoMimeType string   `json:"photoMimeType,omitempty"`
	Lat           *float64 `json:"lat,omitempty"`
	Lon           *float64 `json:"lon,omitempty"`
}

// DeleteStory - remove a story from this device
type DeleteStory struct {
	ID string `json:"id"`
}

// Search - case insensitive search over title and description
type Search struct {
	Query string `json:"query"`
}

// Subscribe - a push subscription obtained by the client
type Subscribe struct {
	Endpoint string     `json:"endpoint"`
	Keys     story.Keys `json:"keys"`
	// the user declined notifications
	Denied bool `json:"denied,omitempty"`
}

// Unsubscribe - release the subscription of the current identity
type Unsubscribe struct{}

// Submission turns the request into a story submission. Half a coordinate pair is dropped.
func (r *SubmitStory) Submission() story.FieldSubmission {
	sub := story.FieldSubmission{
		Title:         r.Title,
		Description:   r.Description,
		Photo:         r.Photo,
		PhotoName:     r.PhotoName,
		PhotoMimeType: r.PhotoMimeType,
	}
	if r.Lat != nil && r.Lon != nil {
		sub.Location = &story.Location{Lat: *r.Lat, Lon: *r.Lon}
	}
	return sub
}

// Subscription returns the subscription the client obtained.
func (r *Subscribe) Subscription() story.Subscription {
	return story.Subscription{Endpoint: r.Endpoint, Keys: r.Keys}
}
