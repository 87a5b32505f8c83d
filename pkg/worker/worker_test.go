package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foomo/storysync/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gocloud.dev/blob"
)

type origin struct {
	*httptest.Server
	mu     sync.Mutex
	hits   map[string]int
	status map[string]int
	body   atomic.Value
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{hits: map[string]int{}, status: map[string]int{}}
	o.body.Store("v1")
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.URL.Path]++
		status, ok := o.status[r.URL.Path]
		o.mu.Unlock()
		if !ok {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(r.URL.Path + " " + o.body.Load().(string)))
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *origin) Hits(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *origin) SetStatus(path string, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status[path] = status
}

func newTestCaches(t *testing.T) *cache.Caches {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })
	return cache.New(zaptest.NewLogger(t), cache.NewBlobStorageFromBucket(bucket, ""))
}

func newTestManifest(appOrigin, apiOrigin string) *Manifest {
	m := DefaultManifest()
	m.Origin = appOrigin
	m.APIOrigin = apiOrigin
	m.Shell = []string{"/", "/index.html", "/styles.css"}
	return m
}

func newTestWorker(t *testing.T, m *Manifest, caches *cache.Caches) *Worker {
	t.Helper()
	w, err := New(zaptest.NewLogger(t), m, caches)
	require.NoError(t, err)
	return w
}

func serve(h http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWorker_CacheFirst(t *testing.T) {
	app := newOrigin(t)
	w := newTestWorker(t, newTestManifest(app.URL, "https://api.example"), newTestCaches(t))

	first := serve(w, "/index.html")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, 1, app.Hits("/index.html"))

	second := serve(w, "/index.html")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get(HeaderCache))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, app.Hits("/index.html"), "second fetch must not reach the network")
}

func TestWorker_InstallServesShellOffline(t *testing.T) {
	app := newOrigin(t)
	registry := NewRegistry(zaptest.NewLogger(t))
	w := newTestWorker(t, newTestManifest(app.URL, "https://api.example"), newTestCaches(t))
	require.NoError(t, registry.Register(context.Background(), w))

	app.Close()
	rec := serve(registry, "/styles.css")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/styles.css v1", rec.Body.String())
	assert.Equal(t, "HIT", rec.Header().Get(HeaderCache))
}

func TestWorker_NetworkFirstFallback(t *testing.T) {
	app := newOrigin(t)
	api := newOrigin(t)
	w := newTestWorker(t, newTestManifest(app.URL, api.URL), newTestCaches(t))

	rec := serve(w, api.URL+"/v1/stories?page=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderCache))

	api.Close()
	rec = serve(w, api.URL+"/v1/stories?page=1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get(HeaderCache))
	assert.Equal(t, "/v1/stories v1", rec.Body.String())

	rec = serve(w, api.URL+"/v1/stories?page=2")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get(HeaderCache))
}

func TestWorker_NetworkFirstTimeout(t *testing.T) {
	release := make(chan struct{})
	var slow atomic.Bool
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slow.Load() {
			<-release
		}
		_, _ = w.Write([]byte("fresh"))
	}))
	t.Cleanup(func() {
		close(release)
		api.Close()
	})

	app := newOrigin(t)
	m := newTestManifest(app.URL, api.URL)
	m.Timeouts.API = 50 * time.Millisecond
	// the refresh outlives the request
	w, err := New(zap.NewNop(), m, newTestCaches(t))
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, serve(w, api.URL+"/v1/stories").Code)

	slow.Store(true)
	rec := serve(w, api.URL+"/v1/stories")
	assert.Equal(t, "HIT", rec.Header().Get(HeaderCache))
	assert.Equal(t, "fresh", rec.Body.String())
}

func TestWorker_OnlyOKIsCached(t *testing.T) {
	app := newOrigin(t)
	api := newOrigin(t)
	w := newTestWorker(t, newTestManifest(app.URL, api.URL), newTestCaches(t))

	api.SetStatus("/v1/stories", http.StatusInternalServerError)
	rec := serve(w, api.URL+"/v1/stories")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	api.Close()
	rec = serve(w, api.URL+"/v1/stories")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get(HeaderCache))
}

func TestWorker_StaleWhileRevalidate(t *testing.T) {
	app := newOrigin(t)
	w, err := New(zap.NewNop(), newTestManifest(app.URL, "https://api.example"), newTestCaches(t))
	require.NoError(t, err)

	require.Equal(t, "/scripts/extra.js v1", serve(w, "/scripts/extra.js").Body.String())

	app.body.Store("v2")
	rec := serve(w, "/scripts/extra.js")
	assert.Equal(t, "STALE", rec.Header().Get(HeaderCache))
	assert.Equal(t, "/scripts/extra.js v1", rec.Body.String())

	assert.Eventually(t, func() bool {
		return serve(w, "/scripts/extra.js").Body.String() == "/scripts/extra.js v2"
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_ImagesAreBounded(t *testing.T) {
	app := newOrigin(t)
	api := newOrigin(t)
	m := newTestManifest(app.URL, api.URL)
	m.Partitions.Images.MaxEntries = 2
	caches := newTestCaches(t)
	w := newTestWorker(t, m, caches)

	for _, name := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusOK, serve(w, api.URL+"/images/stories/"+name+".jpg").Code)
	}

	p, err := caches.Open(m.Partitions.Images.Name, m.Partitions.Images.Policy)
	require.NoError(t, err)
	keys, err := p.Keys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestRegistry_ActivationWhitelist(t *testing.T) {
	ctx := context.Background()
	app := newOrigin(t)
	caches := newTestCaches(t)

	stale, err := caches.Open("stale-cache", cache.Policy{})
	require.NoError(t, err)
	require.NoError(t, stale.Put(ctx, &cache.Entry{Key: cache.Key(http.MethodGet, "https://old/"), StatusCode: http.StatusOK}))

	m := newTestManifest(app.URL, "https://api.example")
	m.Partitions.Shell.Name = "v1-shell"
	m.Whitelist = []string{"v1-shell", m.Partitions.Content.Name, m.Partitions.Images.Name, m.Partitions.Assets.Name}

	w := newTestWorker(t, m, caches)
	require.NoError(t, w.partitions[ClassAsset].Put(ctx, &cache.Entry{Key: cache.Key(http.MethodGet, app.URL+"/app.js"), StatusCode: http.StatusOK}))

	registry := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, registry.Register(ctx, w))

	names, err := caches.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"assets-cache", "story-app-content-v1", "story-app-images-v1", "v1-shell"}, names)

	// assets written before activation survive it
	keys, err := w.partitions[ClassAsset].Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestRegistry_FailedInstallKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	app := newOrigin(t)
	caches := newTestCaches(t)
	registry := NewRegistry(zaptest.NewLogger(t))

	v1 := newTestWorker(t, newTestManifest(app.URL, "https://api.example"), caches)
	require.NoError(t, registry.Register(ctx, v1))

	m := newTestManifest(app.URL, "https://api.example")
	m.Version = "v2"
	m.Shell = append(m.Shell, "/missing.png")
	app.SetStatus("/missing.png", http.StatusNotFound)

	v2 := newTestWorker(t, m, caches)
	require.Error(t, registry.Register(ctx, v2))
	assert.Same(t, v1, registry.Active())
}

func TestRegistry_NoActiveWorker(t *testing.T) {
	rec := serve(NewRegistry(zaptest.NewLogger(t)), "/")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
