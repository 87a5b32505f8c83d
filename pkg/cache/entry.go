package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is the snapshot of a response stored in a partition.
type Entry struct {
	Key        string      `json:"key"`
	StatusCode int         `json:"status"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	StoredAt   time.Time   `json:"storedAt"`
}

// Key returns the cache key for a request: method and full url.
func Key(method, url string) string {
	return strings.ToUpper(method) + " " + url
}

// RequestKey returns the cache key of r.
func RequestKey(r *http.Request) string {
	return Key(r.Method, r.URL.String())
}

// Serve writes the snapshot to w.
func (e *Entry) Serve(w http.ResponseWriter) {
	for k, values := range e.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(e.Body)))
	w.WriteHeader(e.StatusCode)
	_, _ = w.Write(e.Body)
}

func (e *Entry) expired(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(e.StoredAt) > maxAge
}
