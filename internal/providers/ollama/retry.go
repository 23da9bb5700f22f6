package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"memegen/internal/infra"
)

// Response is the raw outcome of a successful POST.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError reports a non-2xx answer from the remote service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama: status %d", e.StatusCode)
	}
	return fmt.Sprintf("ollama: status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// RetryOptions configures a RetryingClient.
type RetryOptions struct {
	HTTPClient  *http.Client
	MaxAttempts int
	// AttemptTimeout bounds every single POST.
	AttemptTimeout time.Duration
	// BackoffBase is the delay before the second attempt; later delays double.
	BackoffBase time.Duration
	Logger      *infra.Logger
}

// RetryingClient POSTs JSON payloads and retries transport failures,
// timeouts and 5xx answers with exponential backoff. 4xx answers are final.
type RetryingClient struct {
	httpClient     *http.Client
	maxAttempts    int
	attemptTimeout time.Duration
	backoffBase    time.Duration
	logger         *infra.Logger
}

// NewRetryingClient applies defaults of 5 attempts, 180s per attempt and a 1s
// backoff base.
func NewRetryingClient(opts RetryOptions) *RetryingClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	timeout := opts.AttemptTimeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	base := opts.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	return &RetryingClient{
		httpClient:     httpClient,
		maxAttempts:    maxAttempts,
		attemptTimeout: timeout,
		backoffBase:    base,
		logger:         infra.OrDiscard(opts.Logger),
	}
}

// MaxAttempts returns the configured attempt budget.
func (c *RetryingClient) MaxAttempts() int {
	return c.maxAttempts
}

// Send marshals payload as JSON and POSTs it to endpoint. On success the 2xx
// response is returned. Otherwise the last observed failure is returned; a
// *StatusError can be recovered from it with errors.As.
func (c *RetryingClient) Send(ctx context.Context, endpoint string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: encode request: %w", err)
	}

	attempt := 0
	var resp *Response
	operation := func() error {
		attempt++
		out, err := c.post(ctx, endpoint, body)
		if err == nil {
			resp = out
			return nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Transient() {
			return backoff.Permanent(err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("ollama: request failed, retrying")
	}

	if err := backoff.RetryNotify(operation, c.policy(ctx), notify); err != nil {
		c.logger.Error().
			Err(err).
			Str("endpoint", endpoint).
			Int("attempts", attempt).
			Msg("ollama: request failed")
		return nil, err
	}
	return resp, nil
}

func (c *RetryingClient) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.backoffBase
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.5
	exp.MaxInterval = 64 * c.backoffBase
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.maxAttempts-1)), ctx)
}

func (c *RetryingClient) post(ctx context.Context, endpoint string, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("ollama: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(bytes.TrimSpace(raw)), 512)}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
