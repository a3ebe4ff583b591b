package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/yungbote/researchbridge-backend/internal/observability"
	"github.com/yungbote/researchbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/researchbridge-backend/internal/platform/envutil"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
)

const responsesPath = "/v1/responses"

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:     envutil.String("OPENAI_API_KEY", ""),
		BaseURL:    strings.TrimRight(envutil.String("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
		Model:      envutil.String("OPENAI_MODEL", ""),
		Timeout:    envutil.Seconds("OPENAI_TIMEOUT_SECONDS", 10*time.Minute),
		MaxRetries: envutil.Int("OPENAI_MAX_RETRIES", 4),
	}
}

// Client talks to the Responses API. Only streaming is supported.
type Client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		log:        log.With("service", "OpenAIClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) Model() string { return c.cfg.Model }

type FunctionTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
	Strict      bool           `json:"strict"`
}

// FunctionCallOutput feeds a tool result back into a follow-up response.
type FunctionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

func NewFunctionCallOutput(callID, output string) FunctionCallOutput {
	return FunctionCallOutput{Type: "function_call_output", CallID: callID, Output: output}
}

type ResponseRequest struct {
	Model              string         `json:"model"`
	Input              any            `json:"input"`
	Instructions       string         `json:"instructions,omitempty"`
	Tools              []FunctionTool `json:"tools,omitempty"`
	MaxOutputTokens    int            `json:"max_output_tokens,omitempty"`
	PreviousResponseID string         `json:"previous_response_id,omitempty"`
	Stream             bool           `json:"stream"`
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// StreamResponse starts a streaming response. Opening the stream is retried
// with exponential backoff on transport errors, 429 and 5xx; once events
// flow, errors are returned to the caller as-is.
func (c *Client) StreamResponse(ctx context.Context, req ResponseRequest) (*ResponseStream, error) {
	ctx = ctxutil.Default(ctx)
	req.Stream = true
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode response request: %w", err)
	}
	start := time.Now()

	open := func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+responsesPath, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			var netErr net.Error
			if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		httpErr := &openAIHTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		if retryableStatus(resp.StatusCode) {
			c.log.Warn("openai stream start failed; retrying", "status", resp.StatusCode)
			return nil, httpErr
		}
		return nil, backoff.Permanent(httpErr)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	resp, err := backoff.Retry(ctx, open,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)),
	)
	if err != nil {
		if m := observability.Current(); m != nil {
			m.ObserveLLMRequest(req.Model, statusLabel(err), time.Since(start))
		}
		return nil, err
	}
	return &ResponseStream{
		body:  resp.Body,
		sse:   newSSEReader(resp.Body),
		model: req.Model,
		start: start,
	}, nil
}

func statusLabel(err error) string {
	var httpErr *openAIHTTPError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &httpErr):
		return fmt.Sprintf("%d", httpErr.StatusCode)
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
