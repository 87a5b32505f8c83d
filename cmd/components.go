package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/foomo/storysync/pkg/api"
	"github.com/foomo/storysync/pkg/app"
	"github.com/foomo/storysync/pkg/cache"
	"github.com/foomo/storysync/pkg/coordinator"
	"github.com/foomo/storysync/pkg/fetch"
	"github.com/foomo/storysync/pkg/netstate"
	"github.com/foomo/storysync/pkg/notify"
	"github.com/foomo/storysync/pkg/store"
	"github.com/foomo/storysync/pkg/subscription"
	"github.com/foomo/storysync/pkg/utils"
	"github.com/foomo/storysync/pkg/worker"
	keelhttp "github.com/foomo/keel/net/http"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// sourceServer is the client id of messages this process posts to its own dispatcher
const sourceServer = "server"

// components is the core every command runs on
type components struct {
	store      *store.Store
	api        *api.API
	monitor    *netstate.Monitor
	service    *app.Service
	hub        *notify.Hub
	dispatcher *notify.Dispatcher
}

func newComponents(ctx context.Context, v *viper.Viper, l *zap.Logger) (*components, error) {
	s, err := store.Open(ctx, l.Named("inst.store"), databaseFlag(v))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	tokens := fetch.StaticToken(apiTokenFlag(v))
	httpClient := keelhttp.NewHTTPClient(
		keelhttp.HTTPClientWithTimeout(apiTimeoutFlag(v)),
		keelhttp.HTTPClientWithTelemetry(),
	)
	a := api.New(l.Named("inst.api"),
		fetch.New(l.Named("inst.fetch"),
			fetch.WithHTTPClient(httpClient),
			fetch.WithTokenSource(tokens),
			fetch.WithRetries(fetchRetriesFlag(v)),
			fetch.WithRetryDelay(fetchRetryDelayFlag(v)),
		),
		apiURLFlag(v),
	)

	monitor := netstate.New(l.Named("inst.netstate"), netProbeURLFlag(v),
		netstate.WithHTTPClient(httpClient),
		netstate.WithInterval(netProbeIntervalFlag(v)),
	)

	hub := notify.NewHub(l.Named("inst.hub"))
	dispatcher := notify.NewDispatcher(l.Named("inst.dispatcher"), hub,
		notify.WithStoryWriter(s),
	)

	svc := app.New(l.Named("inst.app"),
		coordinator.New(l.Named("inst.coordinator"), a, s, monitor),
		s,
		a,
		monitor,
		subscription.New(l.Named("inst.subscription"), a, s, tokens),
		app.WithMessenger(app.DispatcherMessenger(dispatcher, sourceServer)),
	)

	monitor.OnReconnect(func(ctx context.Context) {
		if err := svc.Sync(ctx); err != nil {
			l.Warn("sync on reconnect failed", zap.Error(err))
		}
	})

	return &components{
		store:      s,
		api:        a,
		monitor:    monitor,
		service:    svc,
		hub:        hub,
		dispatcher: dispatcher,
	}, nil
}

func (c *components) Close(ctx context.Context) error {
	return c.store.Close()
}

// newWorker builds the worker version described by the manifest flags
func newWorker(v *viper.Viper, l *zap.Logger, caches *cache.Caches) (*worker.Worker, error) {
	manifest := worker.DefaultManifest()
	if filename := workerManifestFlag(v); filename != "" {
		m, err := worker.LoadManifest(filename)
		if err != nil {
			return nil, err
		}
		manifest = m
	}
	if origin := workerOriginFlag(v); origin != "" {
		manifest.Origin = origin
	}
	if !utils.IsValidURL(manifest.Origin) {
		return nil, fmt.Errorf("invalid worker origin %q, set --origin or the manifest origin", manifest.Origin)
	}
	return worker.New(l, manifest, caches,
		worker.WithHTTPClient(keelhttp.NewHTTPClient(
			keelhttp.HTTPClientWithTimeout(apiTimeoutFlag(v)),
			keelhttp.HTTPClientWithTelemetry(),
		)),
	)
}

// supportedBlobSchemes lists the URL schemes supported by blob storage
var supportedBlobSchemes = []string{"gs://", "file://", "mem://"}

// createStorage creates the cache storage backend based on the configuration
func createStorage(ctx context.Context, v *viper.Viper, l *zap.Logger) (cache.Storage, error) {
	storageType := storageTypeFlag(v)
	blobBucket := storageBlobBucketFlag(v)
	blobPrefix := storageBlobPrefixFlag(v)

	// Warn about ignored blob config
	if storageType != "blob" && (blobBucket != "" || blobPrefix != "") {
		l.Warn("blob storage flags are set but storage-type is not 'blob'; blob config will be ignored",
			zap.String("storage-type", storageType),
			zap.String("blob-bucket", blobBucket),
			zap.String("blob-prefix", blobPrefix),
		)
	}

	l.Info("creating storage", zap.String("type", storageType))

	switch storageType {
	case "blob":
		if blobBucket == "" {
			return nil, fmt.Errorf("blob bucket URL is required when storage-type is 'blob' (supported schemes: %s)", strings.Join(supportedBlobSchemes, ", "))
		}
		if !isValidBlobScheme(blobBucket) {
			return nil, fmt.Errorf("unsupported blob storage URL scheme in %q; supported schemes: %s", blobBucket, strings.Join(supportedBlobSchemes, ", "))
		}
		l.Info("using blob storage",
			zap.String("bucket", blobBucket),
			zap.String("prefix", blobPrefix),
			zap.String("provider", detectBlobProvider(blobBucket)),
		)
		return cache.NewBlobStorage(ctx, blobBucket, blobPrefix)
	case "filesystem", "":
		dir := filepath.Clean(cacheDirFlag(v))
		l.Info("using filesystem storage", zap.String("dir", dir))
		return cache.NewFilesystemStorage(dir)
	default:
		return nil, fmt.Errorf("unknown storage type: %s (supported: filesystem, blob)", storageType)
	}
}

// isValidBlobScheme checks if the bucket URL has a supported scheme
func isValidBlobScheme(bucketURL string) bool {
	for _, scheme := range supportedBlobSchemes {
		if strings.HasPrefix(bucketURL, scheme) {
			return true
		}
	}
	return false
}

// detectBlobProvider returns a human-readable provider name from the URL scheme
func detectBlobProvider(bucketURL string) string {
	switch {
	case strings.HasPrefix(bucketURL, "gs://"):
		return "Google Cloud Storage"
	case strings.HasPrefix(bucketURL, "file://"):
		return "Local filesystem"
	case strings.HasPrefix(bucketURL, "mem://"):
		return "In memory"
	default:
		return "unknown"
	}
}
