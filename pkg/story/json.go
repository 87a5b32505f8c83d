package story

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireStory mirrors the list envelope items where lat and lon are flat and nullable.
type wireStory struct {
	ID          string    `json:"id"`
	Title       string    `json:"name"`
	Description string    `json:"description"`
	PhotoURL    string    `json:"photoUrl,omitempty"`
	PhotoData   string    `json:"photoData,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Lat         *float64  `json:"lat"`
	Lon         *float64  `json:"lon"`
	Pending     bool      `json:"pending,omitempty"`
}

func (s Story) MarshalJSON() ([]byte, error) {
	w := wireStory{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		PhotoURL:    s.PhotoURL,
		PhotoData:   s.PhotoData,
		CreatedAt:   s.CreatedAt,
		Pending:     s.Pending,
	}
	if s.Location != nil {
		lat, lon := s.Location.Lat, s.Location.Lon
		w.Lat, w.Lon = &lat, &lon
	}
	return json.Marshal(w)
}

// UnmarshalJSON drops half a coordinate pair.
func (s *Story) UnmarshalJSON(data []byte) error {
	var w wireStory
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = Story{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		PhotoURL:    w.PhotoURL,
		PhotoData:   w.PhotoData,
		CreatedAt:   w.CreatedAt,
		Pending:     w.Pending,
	}
	if w.Lat != nil && w.Lon != nil {
		s.Location = &Location{Lat: *w.Lat, Lon: *w.Lon}
	}
	return nil
}
