package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yungbote/researchbridge-backend/internal/observability"
)

// FunctionCall is a completed function_call output item.
type FunctionCall struct {
	CallID    string
	Name      string
	Arguments string
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamEvent struct {
	Type     string          `json:"type"`
	Delta    string          `json:"delta"`
	Refusal  string          `json:"refusal"`
	Error    json.RawMessage `json:"error"`
	Item     *outputItem     `json:"item"`
	Response *responseBody   `json:"response"`
}

type outputItem struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type responseBody struct {
	ID    string          `json:"id"`
	Usage *Usage          `json:"usage"`
	Error json.RawMessage `json:"error"`
}

// ResponseStream yields output text deltas of one streamed response.
// Function calls and usage are available once Next has returned io.EOF.
type ResponseStream struct {
	body  io.ReadCloser
	sse   *sseReader
	model string
	start time.Time

	responseID string
	calls      []FunctionCall
	usage      Usage
	done       bool
	observed   bool
}

// Next returns the next non-empty text delta, or io.EOF once the response
// completed.
func (s *ResponseStream) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		event, data, err := s.sse.Next()
		if errors.Is(err, io.EOF) {
			s.finish("ok")
			return "", io.EOF
		}
		if err != nil {
			s.finish("error")
			return "", fmt.Errorf("read response stream: %w", err)
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		typ := ev.Type
		if typ == "" {
			typ = event
		}
		if strings.TrimSpace(ev.Refusal) != "" {
			s.finish("refused")
			return "", fmt.Errorf("model refused: %s", ev.Refusal)
		}
		if len(ev.Error) > 0 && string(ev.Error) != "null" {
			s.finish("error")
			return "", fmt.Errorf("openai stream error: %s", string(ev.Error))
		}

		switch typ {
		case "response.created":
			if ev.Response != nil {
				s.responseID = ev.Response.ID
			}
		case "response.output_text.delta":
			if d := strings.TrimRight(ev.Delta, "\u0000"); d != "" {
				return d, nil
			}
		case "response.output_item.done":
			if ev.Item != nil && ev.Item.Type == "function_call" {
				s.calls = append(s.calls, FunctionCall{CallID: ev.Item.CallID, Name: ev.Item.Name, Arguments: ev.Item.Arguments})
			}
		case "response.completed", "response.incomplete":
			if ev.Response != nil {
				if ev.Response.ID != "" {
					s.responseID = ev.Response.ID
				}
				if ev.Response.Usage != nil {
					s.usage = *ev.Response.Usage
				}
			}
			s.finish("ok")
			return "", io.EOF
		case "response.failed":
			s.finish("error")
			msg := "response failed"
			if ev.Response != nil && len(ev.Response.Error) > 0 {
				msg = string(ev.Response.Error)
			}
			return "", fmt.Errorf("openai: %s", msg)
		}
	}
}

func (s *ResponseStream) ResponseID() string { return s.responseID }

func (s *ResponseStream) FunctionCalls() []FunctionCall { return s.calls }

func (s *ResponseStream) Usage() Usage { return s.usage }

func (s *ResponseStream) Close() error {
	s.finish("closed")
	return s.body.Close()
}

func (s *ResponseStream) finish(status string) {
	s.done = true
	if s.observed {
		return
	}
	s.observed = true
	if m := observability.Current(); m != nil {
		m.ObserveLLMRequest(s.model, status, time.Since(s.start))
	}
}
