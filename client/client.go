package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Caller performs one backend operation. Implemented by *Client and by test doubles.
type Caller interface {
	Call(ctx context.Context, op string, params, out any) error
}

// Client signs and sends single backend operations. It holds only immutable
// configuration and is safe for concurrent use.
type Client struct {
	endpoint       string
	region         string
	creds          aws.CredentialsProvider
	signer         *v4.Signer
	http           *http.Client
	requestTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// New creates a Client from config.
func New(cfg Config) (*Client, error) {
	cfg.validate()
	if cfg.Region == "" {
		return nil, ErrNoRegion
	}

	creds := cfg.Credentials
	if creds == nil {
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil, ErrNoCredentials
		}
		creds = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}

	return &Client{
		endpoint:       strings.TrimRight(cfg.endpoint(), "/") + "/",
		region:         cfg.Region,
		creds:          aws.NewCredentialsCache(creds),
		signer:         v4.NewSigner(),
		http:           cfg.HTTPClient,
		requestTimeout: cfg.RequestTimeout,
		logger:         cfg.Logger,
		now:            time.Now,
	}, nil
}

// Call sends one signed request for op with params as the JSON body and
// decodes a 200 response into out (which may be nil). No retries happen here.
func (c *Client) Call(ctx context.Context, op string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("client: encode %s params: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, op, body)
	if err != nil {
		return err
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &ConnectionError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectionError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("backend call",
		"op", op,
		"status", resp.StatusCode,
		"latency", time.Since(start),
	)

	if resp.StatusCode != http.StatusOK {
		return parseError(op, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ConnectionError{Op: op, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

// newRequest builds the POST request and signs it.
func (c *Client) newRequest(ctx context.Context, op string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Amz-Target", APIVersion+"."+op)

	creds, err := c.creds.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("client: retrieve credentials: %w", err)
	}

	hash := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(hash[:])
	if err := c.signer.SignHTTP(ctx, creds, req, payloadHash, SigningName, c.region, c.now().UTC()); err != nil {
		return nil, fmt.Errorf("client: sign %s request: %w", op, err)
	}
	return req, nil
}

// errorBody is the JSON error envelope. Some endpoints capitalise Message.
type errorBody struct {
	Type         string `json:"__type"`
	Message      string `json:"message"`
	MessageUpper string `json:"Message"`
}

// parseError maps a non-200 response to a BackendError.
func parseError(op string, status int, data []byte) error {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil || eb.Type == "" {
		if err == nil {
			err = fmt.Errorf("missing error type in %d response", status)
		}
		return &ConnectionError{Op: op, Err: fmt.Errorf("malformed error response: %w", err)}
	}

	name := eb.Type
	if i := strings.LastIndex(name, "#"); i >= 0 {
		name = name[i+1:]
	}
	msg := eb.Message
	if msg == "" {
		msg = eb.MessageUpper
	}
	return &BackendError{
		Name:       name,
		Code:       name,
		Message:    msg,
		StatusCode: status,
	}
}
