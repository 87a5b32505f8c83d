package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/foomo/storysync/pkg/cache"
	"github.com/foomo/storysync/pkg/handler"
	"github.com/foomo/storysync/pkg/worker"
	"github.com/foomo/keel"
	"github.com/foomo/keel/healthz"
	"github.com/foomo/keel/net/http/middleware"
	"github.com/foomo/keel/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewHTTPCommand() *cobra.Command {
	v := newViper()
	// TODO: When keel is updated, set it in the correct place
	service.DefaultHTTPPProfAddr = ":6060"

	cmd := &cobra.Command{
		Use:   "http",
		Short: "Start http server with the story routes and the caching worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svr := keel.NewServer(
				keel.WithHTTPPrometheusService(servicePrometheusEnabledFlag(v)),
				keel.WithHTTPHealthzService(serviceHealthzEnabledFlag(v)),
				keel.WithPrometheusMeter(servicePrometheusEnabledFlag(v)),
				keel.WithGracefulPeriod(gracefulPeriodFlag(v)),
				keel.WithOTLPGRPCTracer(otelEnabledFlag(v)),
				keel.WithHTTPPProfService(servicePProfEnabledFlag(v)),
			)

			l := svr.Logger()

			c, err := newComponents(cmd.Context(), v, l)
			if err != nil {
				return err
			}

			// Create storage based on configuration
			storage, err := createStorage(cmd.Context(), v, l)
			if err != nil {
				return fmt.Errorf("failed to create storage: %w", err)
			}
			caches := cache.New(l.Named("inst.cache"), storage)

			w, err := newWorker(v, l.Named("inst.worker"), caches)
			if err != nil {
				return fmt.Errorf("failed to create worker: %w", err)
			}
			registry := worker.NewRegistry(l.Named("inst.registry"))

			isActiveHealthzerFn := healthz.NewHealthzerFn(func(ctx context.Context) error {
				if registry.Active() == nil {
					return errors.New("worker not active yet")
				}
				return nil
			})
			svr.AddStartupHealthzers(isActiveHealthzerFn)
			svr.AddReadinessHealthzers(isActiveHealthzerFn)

			svr.AddClosers(
				func(ctx context.Context) error {
					return caches.Close()
				},
				c.Close,
			)

			basePath := strings.TrimSuffix(basePathFlag(v), "/")
			mux := http.NewServeMux()
			mux.Handle(basePath+"/", handler.NewHTTP(l.Named("inst.handler"), c.service, handler.WithPath(basePath)))
			mux.Handle("/", handler.NewWorker(l.Named("inst.worker"), c.dispatcher, c.hub, registry,
				handler.WithWorkerPath(workerPathFlag(v)),
			))

			svr.AddServices(
				service.NewGoRoutine(l.Named("go.netstate"), "netstate", func(ctx context.Context, l *zap.Logger) error {
					return c.monitor.PollRoutine(ctx)
				}),
				service.NewGoRoutine(l.Named("go.worker"), "worker", func(ctx context.Context, l *zap.Logger) error {
					return installRoutine(ctx, l, registry, w, workerInstallIntervalFlag(v))
				}),
				service.NewHTTP(l.Named("svc.http"), "http", addressFlag(v),
					mux,
					middleware.Telemetry(),
					middleware.Logger(),
					middleware.GZip(middleware.GZipWithLevel(gzipLevelFlag(v))),
					middleware.Recover(),
				),
			)

			svr.Run()
			return nil
		},
	}

	flags := cmd.Flags()
	addAddressFlag(flags, v, ":8080")
	addBasePathFlag(flags, v)
	addWorkerPathFlag(flags, v)
	addWorkerOriginFlag(flags, v)
	addWorkerManifestFlag(flags, v)
	addWorkerInstallIntervalFlag(flags, v)
	addCacheDirFlag(flags, v)
	addStorageTypeFlag(flags, v)
	addStorageBlobBucketFlag(flags, v)
	addStorageBlobPrefixFlag(flags, v)
	addGzipLevelFlag(flags, v)
	addServerFlags(flags, v)

	return cmd
}

// installRoutine registers w and retries until the install succeeded.
func installRoutine(ctx context.Context, l *zap.Logger, registry *worker.Registry, w *worker.Worker, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		err := registry.Register(ctx, w)
		if err == nil {
			return nil
		}
		l.Warn("failed to register worker, retrying", zap.Duration("interval", interval), zap.Error(err))
		select {
		case <-ctx.Done():
			l.Debug("routine canceled", zap.Error(ctx.Err()))
			return nil
		case <-ticker.C:
		}
	}
}
