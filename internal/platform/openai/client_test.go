package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
)

func sseBody(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "data: %s\n\n", e)
	}
	return b.String()
}

func newTestClient(t *testing.T, url string, retries int) *Client {
	t.Helper()
	c, err := NewClient(logger.Nop(), Config{APIKey: "k", BaseURL: url, Model: "m", Timeout: 5 * time.Second, MaxRetries: retries})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestStreamResponseYieldsDeltasAndCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != responsesPath {
			t.Errorf("path: want=%q got=%q", responsesPath, r.URL.Path)
		}
		var req ResponseRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream || req.Model != "m" {
			t.Errorf("request: want stream model=m got stream=%v model=%q", req.Stream, req.Model)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": keepalive\n\n")
		_, _ = io.WriteString(w, sseBody(
			`{"type":"response.created","response":{"id":"resp_1"}}`,
			`{"type":"response.output_text.delta","delta":"Hello "}`,
			`{"type":"response.output_text.delta","delta":""}`,
			`{"type":"response.output_text.delta","delta":"world"}`,
			`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"c1","name":"search_web","arguments":"{\"searchQuery\":\"go\"}"}}`,
			`{"type":"response.completed","response":{"id":"resp_1","usage":{"input_tokens":3,"output_tokens":2}}}`,
		))
	}))
	defer srv.Close()

	stream, err := newTestClient(t, srv.URL, 0).StreamResponse(context.Background(), ResponseRequest{Input: "hi"})
	if err != nil {
		t.Fatalf("StreamResponse: %v", err)
	}
	defer stream.Close()

	var got []string
	for {
		d, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, d)
	}
	if strings.Join(got, "|") != "Hello |world" {
		t.Fatalf("deltas: want=%q got=%q", "Hello |world", strings.Join(got, "|"))
	}
	if stream.ResponseID() != "resp_1" {
		t.Fatalf("response id: want=%q got=%q", "resp_1", stream.ResponseID())
	}
	calls := stream.FunctionCalls()
	if len(calls) != 1 || calls[0].Name != "search_web" || calls[0].CallID != "c1" {
		t.Fatalf("calls: got=%+v", calls)
	}
	if stream.Usage().OutputTokens != 2 {
		t.Fatalf("usage: want=2 got=%d", stream.Usage().OutputTokens)
	}
}

func TestStreamResponseRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, sseBody(`{"type":"response.completed","response":{"id":"r"}}`))
	}))
	defer srv.Close()

	stream, err := newTestClient(t, srv.URL, 2).StreamResponse(context.Background(), ResponseRequest{Input: "hi"})
	if err != nil {
		t.Fatalf("StreamResponse: %v", err)
	}
	defer stream.Close()
	if _, err := stream.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next: want=EOF got=%v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("hits: want=2 got=%d", n)
	}
}

func TestStreamResponseDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, `{"error":"bad"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 3).StreamResponse(context.Background(), ResponseRequest{Input: "hi"})
	var httpErr *openAIHTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("err: want http 400 got=%v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("hits: want=1 got=%d", n)
	}
}

func TestStreamErrorEventFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, sseBody(
			`{"type":"response.output_text.delta","delta":"partial"}`,
			`{"type":"error","error":{"message":"overloaded"}}`,
		))
	}))
	defer srv.Close()

	stream, err := newTestClient(t, srv.URL, 0).StreamResponse(context.Background(), ResponseRequest{Input: "hi"})
	if err != nil {
		t.Fatalf("StreamResponse: %v", err)
	}
	defer stream.Close()
	if d, err := stream.Next(); err != nil || d != "partial" {
		t.Fatalf("first Next: want=partial,nil got=%q,%v", d, err)
	}
	if _, err := stream.Next(); err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("second Next: want stream error got=%v", err)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(logger.Nop(), Config{}); err == nil {
		t.Fatalf("NewClient: want error for missing key")
	}
}
