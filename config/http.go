package config

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// DefaultListLimit is the limit applied to list endpoints when the
	// caller does not pass one.
	DefaultListLimit int `env:"HTTP_DEFAULT_LIST_LIMIT" envDefault:"200"`

	// MaxListLimit caps the limit parameter on list endpoints.
	MaxListLimit int `env:"HTTP_MAX_LIST_LIMIT" envDefault:"2000"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.DefaultListLimit < 1 {
		h.DefaultListLimit = 200
	}
	if h.MaxListLimit < h.DefaultListLimit {
		h.MaxListLimit = h.DefaultListLimit
	}
}
