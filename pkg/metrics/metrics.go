package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "storysync"

	metricLabelHandler   = "handler"
	metricLabelStatus    = "status"
	metricLabelSource    = "source"
	metricLabelResult    = "result"
	metricLabelPartition = "partition"
	metricLabelClass     = "class"
	metricLabelType      = "type"
)

// Metrics is the structure that holds all prometheus metrics
var (
	// ServiceRequestCounter count the number of requests for each service function
	ServiceRequestCounter = newCounterVec(
		"service_request_count",
		"Count of requests for each handler",
		metricLabelHandler, metricLabelStatus, metricLabelSource,
	)
	// ServiceRequestDuration observe the duration of requests for each service function
	ServiceRequestDuration = newSummaryVec(
		"service_request_duration_seconds",
		"Seconds to unmarshal requests, execute a service function and marshal its reponses",
		metricLabelHandler, metricLabelStatus, metricLabelSource,
	)
	// FetchAttemptsCounter count every single network attempt of the fetch client
	FetchAttemptsCounter = newCounterVec(
		"fetch_attempts_count",
		"Number of network attempts made by the fetch client",
		metricLabelResult,
	)
	// CacheRequestCounter count intercepted requests per class and how they were served
	CacheRequestCounter = newCounterVec(
		"cache_request_count",
		"Number of intercepted requests by class and result",
		metricLabelClass, metricLabelResult,
	)
	// CacheEvictionsCounter count entries removed from a partition by its policy
	CacheEvictionsCounter = newCounterVec(
		"cache_evictions_count",
		"Number of cache entries evicted by partition policy",
		metricLabelPartition,
	)
	// WorkerLifecycleCounter count install and activate outcomes
	WorkerLifecycleCounter = newCounterVec(
		"worker_lifecycle_count",
		"Number of worker install and activate runs by result",
		metricLabelType, metricLabelResult,
	)
	// SyncCounter count story list loads by source
	SyncCounter = newCounterVec(
		"sync_count",
		"Number of story list loads served from network or local store",
		metricLabelSource,
	)
	// NotificationCounter count dispatched worker events
	NotificationCounter = newCounterVec(
		"notification_count",
		"Number of worker events by type and result",
		metricLabelType, metricLabelResult,
	)
	// ConnectedClientsGauge keep track of the clients attached to the worker
	ConnectedClientsGauge = newGaugeVec(
		"connected_clients_total",
		"Total number of clients currently attached to the worker event stream",
	)
	// OpenSocketsGauge keep track of the open socket connections
	OpenSocketsGauge = newGaugeVec(
		"open_sockets_total",
		"Total number of open socket connections",
	)
)

func newSummaryVec(name, help string, labels ...string) *prometheus.SummaryVec {
	vec := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	prometheus.MustRegister(vec)
	return vec
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	prometheus.MustRegister(vec)
	return vec
}

func newGaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	vec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	prometheus.MustRegister(vec)
	return vec
}
