package cmd

import (
	"time"

	"github.com/foomo/storysync/pkg/api"
	"github.com/foomo/storysync/pkg/fetch"
	"github.com/foomo/storysync/pkg/handler"
	"github.com/foomo/storysync/pkg/netstate"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func logLevelFlag(v *viper.Viper) string {
	return v.GetString("log.level")
}

func addLogLevelFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("log-level", "info", "log level")
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindEnv("log.level", "LOG_LEVEL")
}

func logFormatFlag(v *viper.Viper) string {
	return v.GetString("log.format")
}

func addLogFormatFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("log-format", "json", "log format")
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = v.BindEnv("log.format", "LOG_FORMAT")
}

func addressFlag(v *viper.Viper) string {
	return v.GetString("address")
}

func addAddressFlag(flags *pflag.FlagSet, v *viper.Viper, value string) {
	flags.String("address", value, "Address to bind to (host:port)")
	_ = v.BindPFlag("address", flags.Lookup("address"))
	_ = v.BindEnv("address", "STORYSYNC_ADDRESS")
}

func basePathFlag(v *viper.Viper) string {
	return v.GetString("base_path")
}

func addBasePathFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("base-path", "/storysync", "Base path to export the story routes on")
	_ = v.BindPFlag("base_path", flags.Lookup("base-path"))
	_ = v.BindEnv("base_path", "STORYSYNC_BASE_PATH")
}

func workerPathFlag(v *viper.Viper) string {
	return v.GetString("worker.path")
}

func addWorkerPathFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("worker-path", handler.DefaultWorkerPath, "Base path of the worker message and event routes")
	_ = v.BindPFlag("worker.path", flags.Lookup("worker-path"))
	_ = v.BindEnv("worker.path", "STORYSYNC_WORKER_PATH")
}

func workerOriginFlag(v *viper.Viper) string {
	return v.GetString("worker.origin")
}

func addWorkerOriginFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("origin", "", "Application origin the worker fronts, overrides the manifest")
	_ = v.BindPFlag("worker.origin", flags.Lookup("origin"))
	_ = v.BindEnv("worker.origin", "STORYSYNC_ORIGIN")
}

func workerManifestFlag(v *viper.Viper) string {
	return v.GetString("worker.manifest")
}

func addWorkerManifestFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("manifest", "", "Worker manifest file, the built-in manifest is used if empty")
	_ = v.BindPFlag("worker.manifest", flags.Lookup("manifest"))
	_ = v.BindEnv("worker.manifest", "STORYSYNC_MANIFEST")
}

func workerInstallIntervalFlag(v *viper.Viper) time.Duration {
	return v.GetDuration("worker.install_interval")
}

func addWorkerInstallIntervalFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Duration("install-interval", 10*time.Second, "Interval between install attempts of the worker")
	_ = v.BindPFlag("worker.install_interval", flags.Lookup("install-interval"))
	_ = v.BindEnv("worker.install_interval", "STORYSYNC_INSTALL_INTERVAL")
}

func apiURLFlag(v *viper.Viper) string {
	return v.GetString("api.url")
}

func addAPIURLFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("api-url", api.DefaultBaseURL, "Base url of the story service")
	_ = v.BindPFlag("api.url", flags.Lookup("api-url"))
	_ = v.BindEnv("api.url", "STORYSYNC_API_URL")
}

func apiTokenFlag(v *viper.Viper) string {
	return v.GetString("api.token")
}

func addAPITokenFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("api-token", "", "Bearer token for the story service")
	_ = v.BindPFlag("api.token", flags.Lookup("api-token"))
	_ = v.BindEnv("api.token", "STORYSYNC_API_TOKEN")
}

func apiTimeoutFlag(v *viper.Viper) time.Duration {
	return v.GetDuration("api.timeout")
}

func addAPITimeoutFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Duration("api-timeout", 30*time.Second, "Timeout for a single call to the story service")
	_ = v.BindPFlag("api.timeout", flags.Lookup("api-timeout"))
	_ = v.BindEnv("api.timeout", "STORYSYNC_API_TIMEOUT")
}

func fetchRetriesFlag(v *viper.Viper) int {
	return v.GetInt("fetch.retries")
}

func addFetchRetriesFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int("fetch-retries", fetch.DefaultRetries, "Number of retries after a failed call")
	_ = v.BindPFlag("fetch.retries", flags.Lookup("fetch-retries"))
	_ = v.BindEnv("fetch.retries", "STORYSYNC_FETCH_RETRIES")
}

func fetchRetryDelayFlag(v *viper.Viper) time.Duration {
	return v.GetDuration("fetch.retry_delay")
}

func addFetchRetryDelayFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Duration("fetch-retry-delay", fetch.DefaultRetryDelay, "Delay between retries")
	_ = v.BindPFlag("fetch.retry_delay", flags.Lookup("fetch-retry-delay"))
	_ = v.BindEnv("fetch.retry_delay", "STORYSYNC_FETCH_RETRY_DELAY")
}

func databaseFlag(v *viper.Viper) string {
	return v.GetString("database")
}

func addDatabaseFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("database", "/var/lib/storysync/stories.db", "Where to keep the stories")
	_ = v.BindPFlag("database", flags.Lookup("database"))
	_ = v.BindEnv("database", "STORYSYNC_DATABASE")
}

func cacheDirFlag(v *viper.Viper) string {
	return v.GetString("cache.dir")
}

func addCacheDirFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("cache-dir", "/var/lib/storysync/cache", "Where to put the cache partitions")
	_ = v.BindPFlag("cache.dir", flags.Lookup("cache-dir"))
	_ = v.BindEnv("cache.dir", "STORYSYNC_CACHE_DIR")
}

func storageTypeFlag(v *viper.Viper) string {
	return v.GetString("storage.type")
}

func addStorageTypeFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-type", "filesystem", "Cache storage type: filesystem or blob")
	_ = v.BindPFlag("storage.type", flags.Lookup("storage-type"))
	_ = v.BindEnv("storage.type", "STORYSYNC_STORAGE_TYPE")
}

func storageBlobBucketFlag(v *viper.Viper) string {
	return v.GetString("storage.blob.bucket")
}

func addStorageBlobBucketFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-blob-bucket", "", "Blob bucket url, e.g. gs://bucket, file:///path or mem://")
	_ = v.BindPFlag("storage.blob.bucket", flags.Lookup("storage-blob-bucket"))
	_ = v.BindEnv("storage.blob.bucket", "STORYSYNC_STORAGE_BLOB_BUCKET")
}

func storageBlobPrefixFlag(v *viper.Viper) string {
	return v.GetString("storage.blob.prefix")
}

func addStorageBlobPrefixFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-blob-prefix", "", "Key prefix inside the blob bucket")
	_ = v.BindPFlag("storage.blob.prefix", flags.Lookup("storage-blob-prefix"))
	_ = v.BindEnv("storage.blob.prefix", "STORYSYNC_STORAGE_BLOB_PREFIX")
}

func netProbeURLFlag(v *viper.Viper) string {
	if u := v.GetString("net.probe_url"); u != "" {
		return u
	}
	return apiURLFlag(v)
}

func addNetProbeURLFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("net-probe-url", "", "Url probed to detect connectivity, defaults to the api url")
	_ = v.BindPFlag("net.probe_url", flags.Lookup("net-probe-url"))
	_ = v.BindEnv("net.probe_url", "STORYSYNC_NET_PROBE_URL")
}

func netProbeIntervalFlag(v *viper.Viper) time.Duration {
	return v.GetDuration("net.probe_interval")
}

func addNetProbeIntervalFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Duration("net-probe-interval", netstate.DefaultInterval, "Interval between connectivity probes")
	_ = v.BindPFlag("net.probe_interval", flags.Lookup("net-probe-interval"))
	_ = v.BindEnv("net.probe_interval", "STORYSYNC_NET_PROBE_INTERVAL")
}

func gracefulPeriodFlag(v *viper.Viper) time.Duration {
	return v.GetDuration("graceful_period")
}

func addGracefulPeriodFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Duration("graceful-period", 0, "Graceful period before shutting down")
	_ = v.BindPFlag("graceful_period", flags.Lookup("graceful-period"))
	_ = v.BindEnv("graceful_period", "STORYSYNC_GRACEFUL_PERIOD")
}

func gzipLevelFlag(v *viper.Viper) int {
	return v.GetInt("gzip.level")
}

func addGzipLevelFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int("gzip-level", -1, "Gzip compression level, -1 for the default")
	_ = v.BindPFlag("gzip.level", flags.Lookup("gzip-level"))
	_ = v.BindEnv("gzip.level", "STORYSYNC_GZIP_LEVEL")
}

func serviceHealthzEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("service.healthz.enabled")
}

func addServiceHealthzEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("service-healthz-enabled", false, "Enable healthz service")
	_ = v.BindPFlag("service.healthz.enabled", flags.Lookup("service-healthz-enabled"))
}

func servicePrometheusEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("service.prometheus.enabled")
}

func addServicePrometheusEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("service-prometheus-enabled", false, "Enable prometheus service")
	_ = v.BindPFlag("service.prometheus.enabled", flags.Lookup("service-prometheus-enabled"))
}

func servicePProfEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("service.pprof.enabled")
}

func addServicePProfEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("service-pprof-enabled", false, "Enable pprof service")
	_ = v.BindPFlag("service.pprof.enabled", flags.Lookup("service-pprof-enabled"))
}

func otelEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("otel.enabled")
}

func addOtelEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("otel-enabled", false, "Enable otel service")
	_ = v.BindPFlag("otel.enabled", flags.Lookup("otel-enabled"))
	_ = v.BindEnv("otel.enabled", "OTEL_ENABLED")
}

// addServerFlags adds the flags every long running command shares
func addServerFlags(flags *pflag.FlagSet, v *viper.Viper) {
	addAPIURLFlag(flags, v)
	addAPITokenFlag(flags, v)
	addAPITimeoutFlag(flags, v)
	addFetchRetriesFlag(flags, v)
	addFetchRetryDelayFlag(flags, v)
	addDatabaseFlag(flags, v)
	addNetProbeURLFlag(flags, v)
	addNetProbeIntervalFlag(flags, v)
	addGracefulPeriodFlag(flags, v)
	addOtelEnabledFlag(flags, v)
	addServiceHealthzEnabledFlag(flags, v)
	addServicePrometheusEnabledFlag(flags, v)
	addServicePProfEnabledFlag(flags, v)
}
