package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/researchbridge-backend/internal/services"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

// apiClient talks to the research HTTP surface.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

type submitDocument struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	MimeType string `json:"mimeType,omitempty"`
}

type submitRequest struct {
	ID        string           `json:"id,omitempty"`
	Query     string           `json:"query"`
	Documents []submitDocument `json:"documents,omitempty"`
}

func (c *apiClient) Submit(ctx context.Context, req submitRequest) (uuid.UUID, error) {
	var out struct {
		SessionID uuid.UUID `json:"sessionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/research", req, &out); err != nil {
		return uuid.Nil, err
	}
	return out.SessionID, nil
}

func (c *apiClient) Continue(ctx context.Context, sessionID uuid.UUID, additional string) (uuid.UUID, error) {
	body := map[string]string{"sessionId": sessionID.String(), "additionalQuery": additional}
	var out struct {
		NewSessionID uuid.UUID `json:"newSessionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/research/continue", body, &out); err != nil {
		return uuid.Nil, err
	}
	return out.NewSessionID, nil
}

func (c *apiClient) Snapshot(ctx context.Context, sessionID uuid.UUID) (*services.SessionSnapshot, error) {
	var out services.SessionSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/research/"+sessionID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) History(ctx context.Context, limit int) ([]*types.ResearchSession, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/research/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Sessions []*types.ResearchSession `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *apiClient) Stats(ctx context.Context) (*services.SessionStats, error) {
	var out services.SessionStats
	if err := c.do(ctx, http.MethodGet, "/api/research/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, raw []byte) error {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Message != "" {
		return &apiError{Status: status, Code: env.Error.Code, Message: env.Error.Message}
	}
	return &apiError{Status: status, Message: strings.TrimSpace(string(raw))}
}
