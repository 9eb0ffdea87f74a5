package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ruteri/ipfs-orchestrator/interfaces"
	"gopkg.in/yaml.v3"
)

// ExternalAPIAuth is sent as HTTP basic auth: APIKey is the username, APISecret the password.
type ExternalAPIAuth struct {
	APIKey    string `yaml:"api_key" validate:"required"`
	APISecret string `yaml:"api_secret"`
}

// ConnectionLimits bounds the pooled transport of one session.
type ConnectionLimits struct {
	MaxConnections     int           `yaml:"max_connections" validate:"gte=1"`
	MaxIdleConnections int           `yaml:"max_idle_connections" validate:"gte=0"`
	IdleExpiry         time.Duration `yaml:"idle_expiry" validate:"gte=0"`
}

// RemotePinningConfig describes the remote pinning service registered on the write node.
// Credentials are checked when sessions are initialized, not here.
type RemotePinningConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceEndpoint   string `yaml:"service_endpoint"`
	ServiceToken      string `yaml:"service_token"`
	BackgroundPinning bool   `yaml:"background_pinning"`
}

// S3Config describes the S3-compatible mirror.
type S3Config struct {
	Enabled     bool   `yaml:"enabled"`
	EndpointURL string `yaml:"endpoint_url"`
	BucketName  string `yaml:"bucket_name" validate:"required_if=Enabled true"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Region      string `yaml:"region"`
	Prefix      string `yaml:"prefix"`
}

// RateLimit throttles add requests on the write session. Zero ReqPerSec disables it.
type RateLimit struct {
	ReqPerSec float64 `yaml:"req_per_sec" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
}

// RetryConfig parameterizes the mirror retry policy.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" validate:"gte=1"`
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gte=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gte=0"`
}

// Config is everything the session manager needs.
type Config struct {
	// URL is the write node, as a multiaddr or an http(s) URL.
	URL     string           `yaml:"url" validate:"required"`
	URLAuth *ExternalAPIAuth `yaml:"url_auth"`

	// ReaderURL is the read node; defaults to URL.
	ReaderURL     string           `yaml:"reader_url"`
	ReaderURLAuth *ExternalAPIAuth `yaml:"reader_url_auth"`

	// APIBase is the RPC path under the node URL. The node client speaks api/v0 only.
	APIBase          string              `yaml:"api_base" validate:"omitempty,oneof=api/v0 /api/v0 api/v0/ /api/v0/"`
	Timeout          time.Duration       `yaml:"timeout" validate:"gt=0"`
	ConnectionLimits ConnectionLimits    `yaml:"connection_limits"`
	RemotePinning    RemotePinningConfig `yaml:"remote_pinning"`
	S3               S3Config            `yaml:"s3"`
	MirrorURIs       []string            `yaml:"mirror_uris" validate:"dive,required"`
	WriteRateLimit   RateLimit           `yaml:"write_rate_limit"`
	MirrorRetry      RetryConfig         `yaml:"mirror_retry"`
}

const (
	DefaultURL        = "http://127.0.0.1:5001"
	DefaultAPIBase    = "api/v0"
	DefaultTimeout    = 60 * time.Second
	DefaultS3Region   = "us-east-1"
	defaultMaxConns   = 100
	defaultMaxIdle    = 50
	defaultIdleExpiry = 300 * time.Second
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns a configuration pointing at a local node with no auxiliary backends.
func Default() Config {
	return Config{
		URL:     DefaultURL,
		APIBase: DefaultAPIBase,
		Timeout: DefaultTimeout,
		ConnectionLimits: ConnectionLimits{
			MaxConnections:     defaultMaxConns,
			MaxIdleConnections: defaultMaxIdle,
			IdleExpiry:         defaultIdleExpiry,
		},
		S3: S3Config{
			Region: DefaultS3Region,
		},
		MirrorRetry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Second,
			MaxInterval:     10 * time.Second,
		},
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// ReaderAddress returns the read node location, falling back to the write node.
func (c *Config) ReaderAddress() string {
	if c.ReaderURL != "" {
		return c.ReaderURL
	}
	return c.URL
}

func (c *Config) applyDefaults() {
	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	if c.S3.Region == "" {
		c.S3.Region = DefaultS3Region
	}
}

// Validate checks static constraints. Every failing field is reported as a
// *interfaces.ConfigurationError, joined together.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &interfaces.ConfigurationError{Field: "config", Reason: err.Error()}
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		errs = append(errs, &interfaces.ConfigurationError{Field: fe.Namespace(), Reason: "failed " + reason})
	}
	return errors.Join(errs...)
}
