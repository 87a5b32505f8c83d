package worker

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_Classify(t *testing.T) {
	m := DefaultManifest()
	r := NewRouter(m)

	tests := []struct {
		name   string
		method string
		url    string
		header map[string]string
		want   Class
	}{
		{name: "post", method: http.MethodPost, url: "https://app/stories", want: ClassNone},
		{name: "non http", method: http.MethodGet, url: "ftp://app/file", want: ClassNone},
		{name: "root", url: "https://app/", want: ClassShell},
		{name: "shell script", url: "https://app/scripts/app.js", want: ClassShell},
		{name: "shell icon", url: "https://app/icons/icon-192x192.png", want: ClassShell},
		{name: "html", url: "https://app/about.html", want: ClassShell},
		{name: "api", url: "https://story-api.dicoding.dev/v1/stories?page=1", want: ClassAPI},
		{name: "api image", url: "https://story-api.dicoding.dev/images/stories/a.jpg", want: ClassImage},
		{name: "image destination", url: "https://app/avatar", header: map[string]string{"Sec-Fetch-Dest": "image"}, want: ClassImage},
		{name: "image extension", url: "https://cdn.example/marker.png", want: ClassImage},
		{name: "script", url: "https://app/scripts/pages/home.js", want: ClassAsset},
		{name: "style destination", url: "https://app/theme", header: map[string]string{"Sec-Fetch-Dest": "style"}, want: ClassAsset},
		{name: "font origin", url: "https://fonts.googleapis.com/css2?family=Inter", want: ClassAsset},
		{name: "navigation", url: "https://app/stories/1", header: map[string]string{"Sec-Fetch-Mode": "navigate"}, want: ClassNavigation},
		{name: "navigation accept", url: "https://app/about", header: map[string]string{"Accept": "text/html,application/xhtml+xml"}, want: ClassNavigation},
		{name: "other", url: "https://app/data.bin", want: ClassNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req := httptest.NewRequest(method, "https://app/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			target, err := req.URL.Parse(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Classify(req, target))
		})
	}
}

func TestDefaultManifest(t *testing.T) {
	m := DefaultManifest()
	assert.Equal(t, "v1", m.Version)
	assert.Len(t, m.Shell, 10)
	assert.Equal(t, "story-app-images-v1", m.Partitions.Images.Name)
	assert.Equal(t, 100, m.Partitions.Images.MaxEntries)
	assert.Equal(t, 30*24*60*60.0, m.Partitions.Images.MaxAge.Seconds())
	assert.Equal(t, 50, m.Partitions.Content.MaxEntries)
	assert.Equal(t, 10.0, m.Timeouts.API.Seconds())
	assert.Equal(t, 3.0, m.Timeouts.Navigation.Seconds())
	assert.Equal(t, []string{"story-app-shell-v1", "story-app-content-v1", "story-app-images-v1", "assets-cache"}, m.Whitelist)
}

func TestParseManifest_Invalid(t *testing.T) {
	_, err := ParseManifest([]byte("version: v1\nshell: [index.html]\n"))
	assert.Error(t, err)
}

func TestManifest_ValidateWhitelist(t *testing.T) {
	m := DefaultManifest()
	require.NoError(t, m.Validate())

	m.Whitelist = []string{"story-app-shell-v1", "story-app-content-v1", "story-app-images-v1"}
	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assets-cache")
}
