package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"memegen/internal/domain"
	"memegen/internal/infra"
)

// ErrMalformedResponse indicates a 2xx answer without a textual "response" field.
var ErrMalformedResponse = errors.New("ollama: response field missing or not a string")

// Options configures the generate client.
type Options struct {
	Endpoint string
	Sender   *RetryingClient
	Logger   *infra.Logger
}

// Client talks to the Ollama /api/generate endpoint.
type Client struct {
	endpoint string
	sender   *RetryingClient
	logger   *infra.Logger
}

// GenerateRequest is the JSON body accepted by /api/generate.
type GenerateRequest struct {
	Model     string   `json:"model"`
	Prompt    string   `json:"prompt"`
	Stream    bool     `json:"stream"`
	Images    []string `json:"images,omitempty"`
	MaxTokens int      `json:"max_tokens,omitempty"`
}

type generateResponse struct {
	Response *string `json:"response"`
}

// NewClient constructs a client. A nil sender gets a RetryingClient with
// default settings.
func NewClient(opts Options) *Client {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = "http://ollama:11434/api/generate"
	}
	sender := opts.Sender
	if sender == nil {
		sender = NewRetryingClient(RetryOptions{Logger: opts.Logger})
	}
	return &Client{
		endpoint: endpoint,
		sender:   sender,
		logger:   infra.OrDiscard(opts.Logger),
	}
}

// Endpoint returns the configured generate URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Generate sends one non-streaming generate request and returns the text of
// the "response" field.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	req.Stream = false
	c.logger.Debug().
		Str("model", req.Model).
		Int("images", len(req.Images)).
		Msg("ollama: sending generate request")

	resp, err := c.sender.Send(ctx, c.endpoint, req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrProviderFailure, req.Model, err)
	}

	var decoded generateResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		c.logger.Error().Err(err).Str("model", req.Model).Msg("ollama: undecodable response")
		return "", fmt.Errorf("%w: %s: %w", domain.ErrProviderFailure, req.Model, ErrMalformedResponse)
	}
	if decoded.Response == nil {
		c.logger.Error().Str("model", req.Model).Bytes("body", truncateBytes(resp.Body, 512)).Msg("ollama: response field missing")
		return "", fmt.Errorf("%w: %s: %w", domain.ErrProviderFailure, req.Model, ErrMalformedResponse)
	}
	c.logger.Debug().Str("model", req.Model).Int("length", len(*decoded.Response)).Msg("ollama: generate response received")
	return *decoded.Response, nil
}

func truncateBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
