package config

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and cache configuration
//   - http.go: HTTP server configuration
//   - services.go: Service mode, worker, and SLA monitor configuration
//   - scoring.go: Scoring weights, normalization bounds, and router policy
type AppConfig struct {
	// IsDev controls development mode behavior (verbose logging, etc.)
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration. Comma-separated list of services to run
	// in this process: http, worker, sla-monitor.
	Services string `env:"SERVICES" envDefault:"http"`

	// Worker loop configuration
	Worker WorkerConfig

	// SLA monitor configuration
	SLAMonitor SLAMonitorConfig

	// Scoring and routing configuration
	Scoring ScoringConfig
	Router  RouterConfig

	// Pricing enrichment configuration
	Pricing PricingConfig

	// Metrics configuration
	Metrics MetricsConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Worker.Sanitize()
	c.SLAMonitor.Sanitize()
	c.Scoring.Sanitize()
	c.Router.Sanitize()
	c.Pricing.Sanitize()
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsWorkerEnabled returns true if the worker loop service is enabled.
func (c *AppConfig) IsWorkerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeWorker]
}

// IsSLAMonitorEnabled returns true if the SLA monitor service is enabled.
func (c *AppConfig) IsSLAMonitorEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeSLAMonitor]
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether the /metrics endpoint is registered.
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}
