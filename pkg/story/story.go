package story

import (
	"strings"
	"time"
)

// Story is a single shared story as stored locally and returned by the API.
type (
	Story struct {
		ID          string    `json:"id"`
		Title       string    `json:"name"`
		Description string    `json:"description"`
		PhotoURL    string    `json:"photoUrl,omitempty"`
		PhotoData   string    `json:"photoData,omitempty"`
		Location    *Location `json:"-"`
		CreatedAt   time.Time `json:"createdAt"`
		Pending     bool      `json:"pending,omitempty"`
	}
	// Location is only ever set as a pair
	Location struct {
		Lat float64
		Lon float64
	}
)

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Validate checks the fields a story must carry before it is written anywhere.
func (s *Story) Validate() error {
	if s == nil {
		return NewValidationError("story", "must not be nil")
	}
	if strings.TrimSpace(s.Title) == "" {
		return NewValidationError("name", "must not be empty")
	}
	if strings.TrimSpace(s.Description) == "" {
		return NewValidationError("description", "must not be empty")
	}
	return nil
}

// HasLocation reports whether the story carries coordinates.
func (s *Story) HasLocation() bool {
	return s.Location != nil
}

// Photo returns the reference a view should use to display the photo.
func (s *Story) Photo() string {
	if s.PhotoURL != "" {
		return s.PhotoURL
	}
	return s.PhotoData
}
