package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the dispatch worker loop.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeSLAMonitor runs the SLA deadline monitor loop.
	ServiceModeSLAMonitor ServiceMode = "sla-monitor"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeWorker, ServiceModeSLAMonitor}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeSLAMonitor:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker, sla-monitor)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains dispatch worker loop configuration.
type WorkerConfig struct {
	// ID identifies this worker in claims and events. Defaults to a random id.
	ID string `env:"WORKER_ID" envDefault:""`

	// Concurrency is the number of worker goroutines, each with at most one
	// job in flight.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"1"`

	// PollInterval is how long a worker sleeps when no job is claimable.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`

	// RerouteOnRetry controls whether a failed job is rerouted away from the
	// failed resource before being requeued.
	RerouteOnRetry bool `env:"WORKER_REROUTE_ON_RETRY" envDefault:"true"`

	// DispatchTimeout bounds one remote adapter call.
	DispatchTimeout time.Duration `env:"WORKER_DISPATCH_TIMEOUT" envDefault:"20s"`

	// EdgeRunnerURL, CloudRunnerURL, and GPURunnerURL point dispatch at real
	// remote executors. When empty, the simulated adapter is used.
	EdgeRunnerURL  string `env:"WORKER_EDGE_RUNNER_URL"  envDefault:""`
	CloudRunnerURL string `env:"WORKER_CLOUD_RUNNER_URL" envDefault:""`
	GPURunnerURL   string `env:"WORKER_GPU_RUNNER_URL"   envDefault:""`

	// SimulationMaxSleep caps the simulated adapter's service time. Zero
	// applies the adapter default; negative disables sleeping entirely.
	SimulationMaxSleep time.Duration `env:"WORKER_SIMULATION_MAX_SLEEP" envDefault:"0"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.PollInterval < 100*time.Millisecond {
		w.PollInterval = 100 * time.Millisecond
	}
	if w.DispatchTimeout < time.Second {
		w.DispatchTimeout = time.Second
	}
}

// SLAMonitorConfig contains SLA monitor loop configuration.
type SLAMonitorConfig struct {
	// PollInterval is the scan interval over queued/running jobs.
	PollInterval time.Duration `env:"SLA_MONITOR_POLL_INTERVAL" envDefault:"1s"`

	// QueueMargin is the safety buffer: a queued job whose remaining time to
	// deadline drops below it is flagged as at risk.
	QueueMargin time.Duration `env:"SLA_MONITOR_QUEUE_MARGIN" envDefault:"400ms"`

	// RerouteOnRisk controls whether at-risk queued jobs are proactively
	// rerouted instead of waiting for a dispatch failure.
	RerouteOnRisk bool `env:"SLA_MONITOR_REROUTE_ON_RISK" envDefault:"true"`

	// ScanLimit caps how many jobs one scan pass examines.
	ScanLimit int `env:"SLA_MONITOR_SCAN_LIMIT" envDefault:"2000"`
}

// Sanitize applies guardrails to SLA monitor configuration values.
func (s *SLAMonitorConfig) Sanitize() {
	if s.PollInterval < 100*time.Millisecond {
		s.PollInterval = 100 * time.Millisecond
	}
	if s.QueueMargin < 0 {
		s.QueueMargin = 0
	}
	if s.ScanLimit < 1 {
		s.ScanLimit = 2000
	}
}

// PricingConfig contains external pricing lookup configuration.
type PricingConfig struct {
	// Enabled controls whether telemetry ingest enriches missing prices.
	Enabled bool `env:"PRICING_ENABLED" envDefault:"true"`

	// BaseURL is the retail prices API endpoint.
	BaseURL string `env:"PRICING_BASE_URL" envDefault:"https://prices.azure.com/api/retail/prices"`

	// Region is the pricing region queried.
	Region string `env:"PRICING_REGION" envDefault:"eastus"`

	// CloudSKU and GPUSKU are the instance SKUs priced for each resource type.
	CloudSKU string `env:"PRICING_CLOUD_SKU" envDefault:"Standard_D4as_v5"`
	GPUSKU   string `env:"PRICING_GPU_SKU"   envDefault:"Standard_NC4as_T4_v3"`

	// CacheTTL is how long a fetched price stays fresh in the cache.
	CacheTTL time.Duration `env:"PRICING_CACHE_TTL" envDefault:"6h"`

	// RequestTimeout bounds one lookup call.
	RequestTimeout time.Duration `env:"PRICING_REQUEST_TIMEOUT" envDefault:"8s"`

	// RequestsPerSecond rate-limits calls against the external API.
	RequestsPerSecond float64 `env:"PRICING_REQUESTS_PER_SECOND" envDefault:"2"`
}

// Sanitize applies guardrails to pricing configuration values.
func (p *PricingConfig) Sanitize() {
	if p.CacheTTL < time.Minute {
		p.CacheTTL = time.Minute
	}
	if p.RequestTimeout < time.Second {
		p.RequestTimeout = time.Second
	}
	if p.RequestsPerSecond <= 0 {
		p.RequestsPerSecond = 2
	}
}
