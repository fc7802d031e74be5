package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimasrn/visit-reminders/pkg/logger"
	"github.com/nimasrn/visit-reminders/pkg/prom"
	"github.com/valyala/fasthttp"
)

var (
	ErrCircuitOpen   = errors.New("gateway circuit open")
	ErrEmptyResponse = errors.New("gateway returned no message id")
)

// APIError is an error object returned by the Cloud API.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode,omitempty"`
	ErrorData  struct {
		Details string `json:"details"`
	} `json:"error_data"`
	TraceID string `json:"fbtrace_id,omitempty"`
}

// Error returns the provider text unchanged.
func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("whatsapp api returned status %d", e.HTTPStatus)
}

// Retryable reports whether sending the same request again may succeed.
func (e *APIError) Retryable() bool {
	return e.HTTPStatus == fasthttp.StatusTooManyRequests || e.HTTPStatus >= 500
}

type TemplateParam struct {
	Name  string
	Value string
}

type TemplateMessage struct {
	To       string
	Template string
	Language string
	Params   []TemplateParam
}

type SendResponse struct {
	MessageID string
	WaID      string
	LatencyMs int64
}

type Config struct {
	BaseURL                 string
	APIVersion              string
	PhoneNumberID           string
	AccessToken             string
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	ReadBufferSize          int
	WriteBufferSize         int
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// Client talks to the WhatsApp Cloud API messages endpoint.
type Client struct {
	config  *Config
	http    *fasthttp.Client
	metrics *ProviderMetrics
	breaker *breaker
	url     string
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if config.PhoneNumberID == "" {
		return nil, errors.New("phone number id is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	httpClient := &fasthttp.Client{
		MaxConnsPerHost:     config.MaxConns,
		ReadTimeout:         config.Timeout,
		WriteTimeout:        config.Timeout,
		MaxIdleConnDuration: 60 * time.Second,
		ReadBufferSize:      config.ReadBufferSize,
		WriteBufferSize:     config.WriteBufferSize,
	}

	url := strings.TrimRight(config.BaseURL, "/")
	if config.APIVersion != "" {
		url += "/" + strings.Trim(config.APIVersion, "/")
	}
	url += "/" + config.PhoneNumberID + "/messages"

	logger.Info("WhatsApp gateway initialized", "url", url, "timeout", config.Timeout, "max_retries", config.MaxRetries)

	return &Client{
		config:  config,
		http:    httpClient,
		metrics: NewProviderMetrics(),
		breaker: &breaker{
			threshold: int32(config.CircuitBreakerThreshold),
			timeout:   config.CircuitBreakerTimeout,
		},
		url: url,
	}, nil
}

// WithHTTPClient swaps the transport, used to point the client at an in-memory listener.
func (c *Client) WithHTTPClient(hc *fasthttp.Client) *Client {
	c.http = hc
	return c
}

type templateRequest struct {
	MessagingProduct string          `json:"messaging_product"`
	RecipientType    string          `json:"recipient_type"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Template         templatePayload `json:"template"`
}

type templatePayload struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateParameter struct {
	Type          string `json:"type"`
	ParameterName string `json:"parameter_name,omitempty"`
	Text          string `json:"text"`
}

type messagesResponse struct {
	Contacts []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *APIError `json:"error,omitempty"`
}

func buildTemplateRequest(msg *TemplateMessage) templateRequest {
	req := templateRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               msg.To,
		Type:             "template",
		Template: templatePayload{
			Name:     msg.Template,
			Language: templateLanguage{Code: msg.Language},
		},
	}
	if len(msg.Params) > 0 {
		params := make([]templateParameter, len(msg.Params))
		for i, p := range msg.Params {
			params[i] = templateParameter{Type: "text", ParameterName: p.Name, Text: p.Value}
		}
		req.Template.Components = []templateComponent{{Type: "body", Parameters: params}}
	}
	return req
}

// SendTemplate posts a template message. API errors come back as *APIError so
// callers can keep the provider text; transport failures and timeouts are
// plain errors.
func (c *Client) SendTemplate(ctx context.Context, msg *TemplateMessage) (*SendResponse, error) {
	body, err := json.Marshal(buildTemplateRequest(msg))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		now := time.Now()
		if !c.breaker.allow(now) {
			return nil, ErrCircuitOpen
		}

		respBody, err := c.doRequest(ctx, body)
		latency := time.Since(now)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Retryable() {
				prom.AddGatewayRequestDuration(latency.Seconds(), "rejected")
				logger.Warn("Gateway rejected template", "to", msg.To, "code", apiErr.Code, "error", apiErr.Message)
				return nil, apiErr
			}

			c.metrics.RecordFailure()
			prom.AddGatewayRequestDuration(latency.Seconds(), "error")
			if c.breaker.observe(c.metrics, time.Now()) {
				logger.Warn("Circuit breaker opened", "consecutive_fails", c.metrics.ConsecutiveFails.Load(), "timeout", c.config.CircuitBreakerTimeout)
			}
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			logger.Warn("Gateway request failed, retrying", "error", err, "to", msg.To, "attempt", attempt+1)
			continue
		}

		c.metrics.RecordSuccess(latency.Milliseconds())
		prom.AddGatewayRequestDuration(latency.Seconds(), "ok")

		var resp messagesResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
			return nil, ErrEmptyResponse
		}

		out := &SendResponse{MessageID: resp.Messages[0].ID, LatencyMs: latency.Milliseconds()}
		if len(resp.Contacts) > 0 {
			out.WaID = resp.Contacts[0].WaID
		}
		logger.Info("Template sent", "to", msg.To, "template", msg.Template, "message_id", out.MessageID, "latency_ms", out.LatencyMs)
		return out, nil
	}

	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.config.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	}
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		var envelope messagesResponse
		if err := json.Unmarshal(resp.Body(), &envelope); err == nil && envelope.Error != nil {
			envelope.Error.HTTPStatus = status
			return nil, envelope.Error
		}
		return nil, &APIError{HTTPStatus: status, Message: fmt.Sprintf("unexpected status code: %d, body: %s", status, resp.Body())}
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())
	return result, nil
}

type Stats struct {
	TotalRequests    int64   `json:"total_requests"`
	SuccessfulReqs   int64   `json:"successful_requests"`
	FailedReqs       int64   `json:"failed_requests"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMs     int64   `json:"avg_latency_ms"`
	P95LatencyMs     int64   `json:"p95_latency_ms"`
	ConsecutiveFails int32   `json:"consecutive_fails"`
	CircuitOpen      bool    `json:"circuit_open"`
}

func (c *Client) Stats() Stats {
	return Stats{
		TotalRequests:    c.metrics.TotalRequests.Load(),
		SuccessfulReqs:   c.metrics.SuccessfulReqs.Load(),
		FailedReqs:       c.metrics.FailedReqs.Load(),
		SuccessRate:      c.metrics.SuccessRate(),
		AvgLatencyMs:     c.metrics.AvgLatencyMs(),
		P95LatencyMs:     c.metrics.P95LatencyMs(),
		ConsecutiveFails: c.metrics.ConsecutiveFails.Load(),
		CircuitOpen:      !c.breaker.allow(time.Now()),
	}
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	logger.Info("WhatsApp gateway closed")
	return nil
}
