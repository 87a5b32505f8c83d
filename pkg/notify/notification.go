package notify

import (
	"slices"
)

const (
	DefaultIcon  = "/icons/icon-192x192.png"
	DefaultBadge = "/icons/icon-96x96.png"
	// WindowCapacity bounds the remembered notification tags.
	WindowCapacity = 50
)

type (
	Notification struct {
		Tag     string   `json:"tag"`
		Title   string   `json:"title"`
		Body    string   `json:"body"`
		Icon    string   `json:"icon"`
		Badge   string   `json:"badge"`
		URL     string   `json:"url"`
		Vibrate []int    `json:"vibrate,omitempty"`
		Actions []Action `json:"actions,omitempty"`
	}
	Action struct {
		Action string `json:"action"`
		Title  string `json:"title"`
	}
	// Window is a bounded FIFO set of shown tags. The zero value is empty with the default capacity.
	// Windows are values: With returns a copy.
	Window struct {
		capacity int
		tags     []string
	}
)

func NewWindow(capacity int) Window {
	return Window{capacity: capacity}
}

func (w Window) Contains(tag string) bool {
	return slices.Contains(w.tags, tag)
}

// With returns a window that also holds tag, dropping the oldest tags beyond capacity.
func (w Window) With(tag string) Window {
	if w.Contains(tag) {
		return w
	}
	capacity := w.capacity
	if capacity <= 0 {
		capacity = WindowCapacity
	}
	tags := make([]string, 0, len(w.tags)+1)
	tags = append(tags, w.tags...)
	tags = append(tags, tag)
	if len(tags) > capacity {
		tags = tags[len(tags)-capacity:]
	}
	return Window{capacity: capacity, tags: tags}
}

func (w Window) Len() int {
	return len(w.tags)
}
