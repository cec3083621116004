package config

import "time"

// LLMGatewayConfig describes the connection to the model-provider
// oracle. The provider itself (credentials, rate limits, model hosting)
// is opaque to the engine; this only says where to dial and how hard to
// retry before a call is surfaced as call_failed.
type LLMGatewayConfig struct {
	// Endpoint is the gRPC address of the gateway process.
	Endpoint string `yaml:"endpoint"`

	// Model is the opaque model identifier forwarded on every request.
	Model string `yaml:"model"`

	// MaxAttempts bounds retries of transient provider failures.
	MaxAttempts int `yaml:"max_attempts"`

	// RequestTimeout caps one Generate call, retries excluded.
	RequestTimeout time.Duration `yaml:"-"`

	// BackoffMin/BackoffMax bound the exponential retry backoff.
	BackoffMin time.Duration `yaml:"-"`
	BackoffMax time.Duration `yaml:"-"`
}

// llmYAML is the file-facing shape of LLMGatewayConfig (durations as
// strings, same convention as engineYAML).
type llmYAML struct {
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	MaxAttempts    int    `yaml:"max_attempts"`
	RequestTimeout string `yaml:"request_timeout"`
	BackoffMin     string `yaml:"backoff_min"`
	BackoffMax     string `yaml:"backoff_max"`
}

// DefaultLLMGatewayConfig returns the built-in gateway defaults: a
// local sidecar on the conventional port, modest retry budget.
func DefaultLLMGatewayConfig() *LLMGatewayConfig {
	return &LLMGatewayConfig{
		Endpoint:       "localhost:50051",
		Model:          "default",
		MaxAttempts:    3,
		RequestTimeout: 2 * time.Minute,
		BackoffMin:     500 * time.Millisecond,
		BackoffMax:     30 * time.Second,
	}
}
