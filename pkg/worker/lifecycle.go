package worker

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"slices"

	"github.com/foomo/storysync/pkg/cache"
	"github.com/foomo/storysync/pkg/metrics"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const installConcurrency = 4

// Install fetches every shell resource and writes them into the shell partition.
// Nothing is written unless all resources could be fetched.
func (w *Worker) Install(ctx context.Context) (err error) {
	defer func() {
		metrics.WorkerLifecycleCounter.WithLabelValues("install", result(err)).Inc()
	}()
	w.l.Info("installing", zap.Int("resources", len(w.manifest.Shell)))

	entries := make([]*cache.Entry, len(w.manifest.Shell))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for i, p := range w.manifest.Shell {
		g.Go(func() error {
			entry, err := w.fetchShell(gctx, p)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.l.Warn("install failed", zap.Error(err))
		return errors.Wrap(err, "failed to install")
	}

	shell := w.partitions[ClassShell]
	for _, entry := range entries {
		if err := shell.Put(ctx, entry); err != nil {
			return errors.Wrap(err, "failed to install")
		}
	}
	w.l.Info("installed")
	return nil
}

// Activate deletes every partition not in the whitelist.
func (w *Worker) Activate(ctx context.Context) (err error) {
	defer func() {
		metrics.WorkerLifecycleCounter.WithLabelValues("activate", result(err)).Inc()
	}()
	names, err := w.caches.Keys(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to activate")
	}
	for _, name := range names {
		if slices.Contains(w.manifest.Whitelist, name) {
			continue
		}
		w.l.Info("deleting old partition", zap.String("partition", name))
		if _, e := w.caches.Delete(ctx, name); e != nil {
			err = multierr.Append(err, errors.Wrapf(e, "failed to delete partition %q", name))
		}
	}
	return err
}

func (w *Worker) fetchShell(ctx context.Context, p string) (*cache.Entry, error) {
	target := w.origin.ResolveReference(&url.URL{Path: p})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch shell resource %s", p)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("failed to fetch shell resource %s: status %d", p, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read shell resource %s", p)
	}
	header := resp.Header.Clone()
	header.Del("Content-Length")
	return &cache.Entry{
		Key:        cache.Key(http.MethodGet, target.String()),
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
	}, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
