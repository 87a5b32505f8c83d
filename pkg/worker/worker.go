package worker

import (
	"context"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/foomo/storysync/pkg/cache"
	"github.com/foomo/storysync/pkg/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	HeaderCache = "X-Cache"

	cacheHit     = "HIT"
	cacheMiss    = "MISS"
	cacheRefresh = "STALE"
)

type (
	// Worker is one installable version of the intercepting cache proxy.
	Worker struct {
		l          *zap.Logger
		manifest   *Manifest
		origin     *url.URL
		router     *Router
		caches     *cache.Caches
		client     *http.Client
		proxy      *httputil.ReverseProxy
		refresh    singleflight.Group
		partitions map[Class]*cache.Partition
	}
	Option func(*Worker)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, manifest *Manifest, caches *cache.Caches, opts ...Option) (*Worker, error) {
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	origin, err := url.Parse(manifest.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, errors.Errorf("invalid worker origin %q", manifest.Origin)
	}

	inst := &Worker{
		l:        l.Named("worker").With(zap.String("version", manifest.Version)),
		manifest: manifest,
		origin:   origin,
		router:   NewRouter(manifest),
		caches:   caches,
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(inst)
	}

	inst.partitions = map[Class]*cache.Partition{}
	for class, cfg := range map[Class]PartitionConfig{
		ClassShell:      manifest.Partitions.Shell,
		ClassAsset:      manifest.Partitions.Assets,
		ClassAPI:        manifest.Partitions.Content,
		ClassImage:      manifest.Partitions.Images,
		ClassNavigation: manifest.Partitions.Content,
	} {
		p, err := caches.Open(cfg.Name, cfg.Policy)
		if err != nil {
			return nil, err
		}
		inst.partitions[class] = p
	}

	inst.proxy = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.Out.URL = inst.target(r.In)
			r.Out.Host = r.Out.URL.Host
		},
		Transport: inst.client.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			inst.l.Warn("passthrough failed", zap.String("url", r.URL.String()), zap.Error(err))
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return inst, nil
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithHTTPClient(v *http.Client) Option {
	return func(o *Worker) {
		o.client = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

func (w *Worker) Version() string {
	return w.manifest.Version
}

func (w *Worker) Manifest() *Manifest {
	return w.manifest
}

// ServeHTTP classifies the request and serves it with the strategy of its class.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	target := w.target(r)
	class := w.router.Classify(r, target)
	switch class {
	case ClassShell, ClassImage:
		w.cacheFirst(rw, r, class, target)
	case ClassAsset:
		w.staleWhileRevalidate(rw, r, class, target)
	case ClassAPI:
		w.networkFirst(rw, r, class, target, w.manifest.Timeouts.API)
	case ClassNavigation:
		w.networkFirst(rw, r, class, target, w.manifest.Timeouts.Navigation)
	default:
		metrics.CacheRequestCounter.WithLabelValues(string(class), "passthrough").Inc()
		w.proxy.ServeHTTP(rw, r)
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

// target resolves the upstream url: absolute request urls are kept, everything else goes to the origin.
func (w *Worker) target(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}
	return w.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
}

func (w *Worker) cacheFirst(rw http.ResponseWriter, r *http.Request, class Class, target *url.URL) {
	ctx := r.Context()
	key := cache.Key(r.Method, target.String())
	if entry, err := w.partitions[class].Match(ctx, key); err == nil {
		w.serveCached(rw, class, entry, cacheHit)
		return
	} else if !errors.Is(err, cache.ErrMiss) {
		w.l.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
	}

	entry, err := w.fetchAndStore(ctx, r.Header, class, target)
	if err != nil {
		w.serveMiss(rw, class, key, err)
		return
	}
	w.serveNetwork(rw, class, entry)
}

func (w *Worker) staleWhileRevalidate(rw http.ResponseWriter, r *http.Request, class Class, target *url.URL) {
	ctx := r.Context()
	key := cache.Key(r.Method, target.String())
	if entry, err := w.partitions[class].Match(ctx, key); err == nil {
		// refresh in the background, one request per key at a time
		header := r.Header.Clone()
		w.refresh.DoChan(key, func() (interface{}, error) {
			entry, err := w.fetchAndStore(context.WithoutCancel(ctx), header, class, target)
			if err != nil {
				w.l.Debug("background refresh failed", zap.String("key", key), zap.Error(err))
			}
			return entry, err
		})
		w.serveCached(rw, class, entry, cacheRefresh)
		return
	}

	v, err, _ := w.refresh.Do(key, func() (interface{}, error) {
		return w.fetchAndStore(ctx, r.Header, class, target)
	})
	if err != nil {
		w.serveMiss(rw, class, key, err)
		return
	}
	w.serveNetwork(rw, class, v.(*cache.Entry))
}

type fetchResult struct {
	entry *cache.Entry
	err   error
}

// networkFirst waits up to timeout for the network, then falls back to the cache.
// The network request keeps running after the timeout and still updates the cache.
func (w *Worker) networkFirst(rw http.ResponseWriter, r *http.Request, class Class, target *url.URL, timeout time.Duration) {
	ctx := r.Context()
	key := cache.Key(r.Method, target.String())

	header := r.Header.Clone()
	done := make(chan fetchResult, 1)
	go func() {
		entry, err := w.fetchAndStore(context.WithoutCancel(ctx), header, class, target)
		done <- fetchResult{entry: entry, err: err}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case res := <-done:
		if res.err == nil {
			w.serveNetwork(rw, class, res.entry)
			return
		}
		w.serveFallback(rw, r, class, key, res.err)
	case <-timer:
		if entry, err := w.partitions[class].Match(ctx, key); err == nil {
			w.serveCached(rw, class, entry, cacheHit)
			return
		}
		// nothing cached, keep waiting for the network
		select {
		case res := <-done:
			if res.err != nil {
				w.serveMiss(rw, class, key, res.err)
				return
			}
			w.serveNetwork(rw, class, res.entry)
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}
}

func (w *Worker) serveFallback(rw http.ResponseWriter, r *http.Request, class Class, key string, cause error) {
	entry, err := w.partitions[class].Match(r.Context(), key)
	if err != nil {
		w.serveMiss(rw, class, key, cause)
		return
	}
	w.serveCached(rw, class, entry, cacheHit)
}

// fetchAndStore loads target from the network and writes 200 responses into the partition of class.
func (w *Worker) fetchAndStore(ctx context.Context, header http.Header, class Class, target *url.URL) (*cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, header)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", target)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", target)
	}
	entry := &cache.Entry{
		Key:        cache.Key(http.MethodGet, target.String()),
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}
	entry.Header.Del("Content-Length")
	if resp.StatusCode == http.StatusOK {
		if err := w.partitions[class].Put(ctx, entry); err != nil {
			w.l.Warn("failed to store response", zap.String("key", entry.Key), zap.Error(err))
		}
	}
	return entry, nil
}

func (w *Worker) serveCached(rw http.ResponseWriter, class Class, entry *cache.Entry, result string) {
	metrics.CacheRequestCounter.WithLabelValues(string(class), strings.ToLower(result)).Inc()
	rw.Header().Set(HeaderCache, result)
	entry.Serve(rw)
}

func (w *Worker) serveNetwork(rw http.ResponseWriter, class Class, entry *cache.Entry) {
	metrics.CacheRequestCounter.WithLabelValues(string(class), "network").Inc()
	entry.Serve(rw)
}

// serveMiss answers with a cache-miss signal instead of failing the request.
func (w *Worker) serveMiss(rw http.ResponseWriter, class Class, key string, cause error) {
	metrics.CacheRequestCounter.WithLabelValues(string(class), "miss").Inc()
	w.l.Info("network failed and nothing cached", zap.String("key", key), zap.Error(cause))
	rw.Header().Set(HeaderCache, cacheMiss)
	rw.WriteHeader(http.StatusGatewayTimeout)
}

var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Accept-Encoding":     true,
}

func copyHeader(dst, src http.Header) {
	for k, values := range src {
		if hopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}
