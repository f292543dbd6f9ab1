package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tripwise/relay/internal/config"
	"github.com/tripwise/relay/internal/metrics"
	"github.com/tripwise/relay/internal/models"
	"github.com/tripwise/relay/internal/oauth"
	"go.uber.org/zap"
)

const maxErrorBody = 2048

// Client sends completion requests to a single configured deployment.
// It never retries; every failure is returned to the caller as *Error.
type Client struct {
	http       *resty.Client
	endpoint   string
	deployment string
	timeout    time.Duration
	auth       oauth.Authenticator
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// NewClient creates a client for cfg. collector may be nil.
func NewClient(cfg config.UpstreamConfig, auth oauth.Authenticator, logger *zap.Logger, collector *metrics.Collector) *Client {
	rc := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent).
		SetLogger(logger.Sugar())

	return &Client{
		http:       rc,
		endpoint:   cfg.Endpoint(),
		deployment: cfg.DeploymentName,
		timeout:    cfg.Timeout,
		auth:       auth,
		logger:     logger,
		metrics:    collector,
	}
}

// Endpoint returns the URL calls are posted to
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Send posts req and decodes the response envelope. The configured timeout
// bounds the whole call and ctx cancellation aborts it.
func (c *Client) Send(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()

	r := c.http.R().SetContext(ctx).SetBody(req)
	if err := c.auth.Authenticate(ctx, r); err != nil {
		uerr := &Error{Kind: KindAuth, Message: err.Error(), Err: err}
		if ctx.Err() != nil {
			uerr = c.classify(ctx, err)
		}
		c.fail(uerr, time.Since(start))
		return nil, uerr
	}

	c.logger.Debug("Sending completion request",
		zap.String("deployment", c.deployment),
		zap.Int("messages", len(req.Messages)),
		zap.Int("max_tokens", req.MaxTokens),
		zap.Float64("temperature", req.Temperature))

	resp, err := r.Post(c.endpoint)
	elapsed := time.Since(start)

	if err != nil {
		uerr := c.classify(ctx, err)
		c.fail(uerr, elapsed)
		return nil, uerr
	}

	if !resp.IsSuccess() {
		uerr := statusError(resp)
		c.fail(uerr, elapsed)
		return nil, uerr
	}

	var envelope models.CompletionResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		uerr := Malformed("failed to decode response envelope: %v", err)
		uerr.Body = truncate(resp.Body())
		uerr.Err = err
		c.fail(uerr, elapsed)
		return nil, uerr
	}

	c.metrics.ObserveUpstream(c.deployment, elapsed, "")
	c.logger.Debug("Completion request finished",
		zap.String("deployment", c.deployment),
		zap.Int("status", resp.StatusCode()),
		zap.Int("choices", len(envelope.Choices)),
		zap.Duration("latency", elapsed))

	return &envelope, nil
}

func (c *Client) fail(uerr *Error, elapsed time.Duration) {
	c.metrics.ObserveUpstream(c.deployment, elapsed, string(uerr.Kind))
	c.logger.Warn("Completion request failed",
		zap.String("deployment", c.deployment),
		zap.String("kind", string(uerr.Kind)),
		zap.Int("status", uerr.StatusCode),
		zap.String("message", uerr.Message),
		zap.Duration("latency", elapsed))
}

func (c *Client) classify(ctx context.Context, err error) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("no response within %s", c.timeout), Err: err}
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &Error{Kind: KindCanceled, Message: "request canceled", Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &Error{Kind: KindTimeout, Message: err.Error(), Err: err}
	default:
		return &Error{Kind: KindTransport, Message: err.Error(), Err: err}
	}
}

func statusError(resp *resty.Response) *Error {
	uerr := &Error{
		Kind:       KindStatus,
		StatusCode: resp.StatusCode(),
		Message:    http.StatusText(resp.StatusCode()),
		Body:       truncate(resp.Body()),
	}

	var pe models.ProviderError
	if err := json.Unmarshal(resp.Body(), &pe); err == nil && pe.Error != nil {
		if pe.Error.Message != "" {
			uerr.Message = pe.Error.Message
		}
		uerr.Code = pe.Error.Code
	}

	return uerr
}

func validateRequest(req *models.CompletionRequest) error {
	if req == nil || len(req.Messages) == 0 {
		return fmt.Errorf("%w: at least one message is required", ErrInvalidRequest)
	}
	for i, m := range req.Messages {
		if m.Role == "" {
			return fmt.Errorf("%w: message %d has no role", ErrInvalidRequest, i)
		}
	}
	if req.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive, got %d", ErrInvalidRequest, req.MaxTokens)
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be within [0, 2], got %g", ErrInvalidRequest, req.Temperature)
	}
	return nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
