package client

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

const (
	// APIVersion prefixes the X-Amz-Target header.
	APIVersion = "DynamoDB_20120810"

	// SigningName is the service name used in the credential scope.
	SigningName = "dynamodb"

	contentType = "application/x-amz-json-1.0"

	defaultRequestTimeout    = 700 * time.Millisecond
	defaultBackoffMultiplier = 100 * time.Millisecond
)

// Config holds configuration for the Client and Retrier.
type Config struct {
	// Region is the signing region and selects the default endpoint.
	Region string

	// Endpoint overrides the regional endpoint (e.g. DynamoDB Local).
	Endpoint string

	// AccessKey and SecretKey are used when Credentials is nil.
	AccessKey string
	SecretKey string

	// Credentials supplies signing credentials. Takes precedence over the static keys.
	Credentials aws.CredentialsProvider

	// RequestTimeout bounds a single attempt.
	// Default: 700ms
	RequestTimeout time.Duration

	// OperationTimeout bounds the cumulative time spent retrying one operation.
	// Default: 0 (unbounded)
	OperationTimeout time.Duration

	// BackoffMultiplier is the base delay unit: retry n waits 2^n * BackoffMultiplier.
	// Default: 100ms
	BackoffMultiplier time.Duration

	// HTTPClient sends requests. Default: a new http.Client.
	HTTPClient *http.Client

	// Logger receives per-attempt diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Region:            "us-east-1",
		RequestTimeout:    defaultRequestTimeout,
		BackoffMultiplier: defaultBackoffMultiplier,
	}
}

// validate fills in defaults for zero values.
func (c *Config) validate() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.OperationTimeout < 0 {
		c.OperationTimeout = 0
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = defaultBackoffMultiplier
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// endpoint returns the URL requests are posted to.
func (c *Config) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return "https://dynamodb." + c.Region + ".amazonaws.com"
}
