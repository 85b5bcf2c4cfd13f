package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"ibex/internal/config"
	"ibex/internal/constants"
	"ibex/internal/logger"
	"ibex/pkg/circuitbreaker"
	pkgerrors "ibex/pkg/errors"
	"ibex/pkg/metrics"
	"ibex/pkg/retry"
)

// Client talks to the upstream CRM REST API. Calls go through a circuit
// breaker and a bounded retry policy; 4xx responses are fatal (retrying a
// rejected request cannot help), 5xx and transport errors are retryable.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *circuitbreaker.Wrapper
	policy     retry.Policy
	logger     logger.Logger
}

func NewClient(cfg config.CRMConfig, cbCfg config.CircuitBreakerConfig, log logger.Logger) *Client {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}

	breakerCfg := circuitbreaker.DefaultConfig("crm_api")
	if cbCfg.MaxRequests > 0 {
		breakerCfg.MaxRequests = cbCfg.MaxRequests
	}
	if cbCfg.Interval > 0 {
		breakerCfg.Interval = cbCfg.Interval
	}
	if cbCfg.Timeout > 0 {
		breakerCfg.Timeout = cbCfg.Timeout
	}
	if cbCfg.FailureRatio > 0 && cbCfg.MinRequests > 0 {
		breakerCfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cbCfg.MinRequests && ratio >= cbCfg.FailureRatio
		}
	}

	policy := retry.Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Multiplier:      cfg.Retry.Multiplier,
	}
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy()
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.NewWrapper(breakerCfg),
		policy:     policy,
		logger:     log,
	}
}

// GetContact fetches a contact record, used by queue handlers to confirm the
// referenced entity exists upstream.
func (c *Client) GetContact(ctx context.Context, contactID string) (map[string]interface{}, error) {
	return c.getJSON(ctx, fmt.Sprintf("/contacts/%s", contactID))
}

// GetAppointment fetches an appointment record.
func (c *Client) GetAppointment(ctx context.Context, appointmentID string) (map[string]interface{}, error) {
	return c.getJSON(ctx, fmt.Sprintf("/appointments/%s", appointmentID))
}

// GetOpportunity fetches an opportunity record.
func (c *Client) GetOpportunity(ctx context.Context, opportunityID string) (map[string]interface{}, error) {
	return c.getJSON(ctx, fmt.Sprintf("/opportunities/%s", opportunityID))
}

func (c *Client) getJSON(ctx context.Context, path string) (map[string]interface{}, error) {
	var result map[string]interface{}

	err := retry.RetryWithCallback(ctx, c.policy, func() error {
		body, err := c.do(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return retry.NewFatalError(fmt.Errorf("failed to decode CRM response: %w", err))
		}
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("crm_api", "get").Inc()
		c.logger.WarnwCtx(ctx, "CRM request retrying",
			"path", path, "attempt", attempt, "next_delay", nextDelay.String(), "error", err)
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	result, err := c.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return nil, retry.NewFatalError(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Transport and timeout failures are transient.
			return nil, retry.NewRetryableError(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, retry.NewRetryableError(err)
		}

		switch {
		case resp.StatusCode >= constants.HTTPStatusOKMin && resp.StatusCode < constants.HTTPStatusOKMax:
			return body, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, retry.NewFatalError(pkgerrors.ErrNotFound.WithDetail("path", path))
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return nil, retry.NewFatalError(fmt.Errorf("CRM rejected request: status %d", resp.StatusCode))
		default:
			return nil, retry.NewRetryableError(fmt.Errorf("CRM upstream error: status %d", resp.StatusCode))
		}
	})

	if err != nil {
		c.breaker.RecordRequest(false)
		return nil, err
	}
	c.breaker.RecordRequest(true)
	return result.([]byte), nil
}
