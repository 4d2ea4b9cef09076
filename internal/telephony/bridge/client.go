// Package bridge places calls through the HTTP call bridge.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/telephony"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

// Client posts dispatch requests to the bridge behind a circuit breaker.
type Client struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	http     *fasthttp.Client
	breaker  *gobreaker.CircuitBreaker[telephony.Result]
	logger   *logger.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the fasthttp client, e.g. to dial an in-memory listener.
func WithHTTPClient(c *fasthttp.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// New constructs a bridge client.
func New(cfg config.DispatchConfig, log *logger.Logger, opts ...Option) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	openFor := cfg.BreakerOpenFor
	if openFor <= 0 {
		openFor = 30 * time.Second
	}

	c := &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		timeout:  timeout,
		http: &fasthttp.Client{
			Name:                "outbound-call-queue",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
		logger: log.Component("call-bridge"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[telephony.Result](gobreaker.Settings{
		Name:        "call-bridge",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Only transient failures say anything about bridge health.
		IsSuccessful: func(err error) bool {
			return err == nil || telephony.KindOf(err) != telephony.KindTransient
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

type dispatchRequest struct {
	To         string `json:"to"`
	Prompt     string `json:"prompt"`
	EntryID    string `json:"entry_id"`
	CampaignID string `json:"campaign_id,omitempty"`
	Attempt    int    `json:"attempt"`
}

type dispatchResponse struct {
	CallID string `json:"call_id"`
	Error  string `json:"error"`
}

// Dispatch places one call. The effective timeout is the shorter of the configured
// request timeout and the context deadline.
func (c *Client) Dispatch(ctx context.Context, req telephony.Request) (telephony.Result, error) {
	if err := ctx.Err(); err != nil {
		return telephony.Result{}, telephony.Transient("context done before dispatch", err)
	}
	if c.endpoint == "" {
		return telephony.Result{}, telephony.Invalid("call bridge endpoint is not configured")
	}

	res, err := c.breaker.Execute(func() (telephony.Result, error) {
		return c.post(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return telephony.Result{}, telephony.Transient("call bridge unavailable", err)
	}
	return res, err
}

func (c *Client) post(ctx context.Context, req telephony.Request) (telephony.Result, error) {
	payload := dispatchRequest{
		To:      req.PhoneNumber,
		Prompt:  req.Prompt,
		EntryID: req.EntryID.String(),
		Attempt: req.Attempt,
	}
	if req.CampaignID != nil {
		payload.CampaignID = req.CampaignID.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return telephony.Result{}, telephony.Invalid(fmt.Sprintf("encode request: %v", err))
	}

	httpReq := fasthttp.AcquireRequest()
	httpResp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(httpReq)
	defer fasthttp.ReleaseResponse(httpResp)

	httpReq.SetRequestURI(c.endpoint)
	httpReq.Header.SetMethod(fasthttp.MethodPost)
	httpReq.Header.SetContentType("application/json")
	httpReq.Header.Set("Idempotency-Key", fmt.Sprintf("%s-%d", req.EntryID, req.Attempt))
	if c.apiKey != "" {
		httpReq.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.apiKey)
	}
	httpReq.SetBody(body)

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return telephony.Result{}, telephony.Transient("call timed out", context.DeadlineExceeded)
	}

	start := time.Now()
	if err := c.http.DoTimeout(httpReq, httpResp, timeout); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return telephony.Result{}, telephony.Transient("call timed out", err)
		}
		return telephony.Result{}, telephony.Transient("call bridge request failed", err)
	}
	elapsed := time.Since(start)

	var decoded dispatchResponse
	_ = json.Unmarshal(httpResp.Body(), &decoded)
	status := httpResp.StatusCode()

	switch {
	case status >= 200 && status < 300:
		if decoded.CallID == "" {
			return telephony.Result{}, telephony.Transient("call bridge returned no call id", nil)
		}
		return telephony.Result{DispatchID: decoded.CallID, Duration: elapsed}, nil
	case status == fasthttp.StatusBadRequest || status == fasthttp.StatusUnprocessableEntity:
		return telephony.Result{}, telephony.Invalid(responseMessage(status, decoded))
	case status == fasthttp.StatusTooManyRequests || status == fasthttp.StatusRequestTimeout || status >= 500:
		return telephony.Result{}, telephony.Transient(responseMessage(status, decoded), nil)
	default:
		return telephony.Result{}, telephony.Rejected(responseMessage(status, decoded))
	}
}

func responseMessage(status int, resp dispatchResponse) string {
	if resp.Error != "" {
		return fmt.Sprintf("call bridge status %d: %s", status, resp.Error)
	}
	return fmt.Sprintf("call bridge status %d", status)
}
