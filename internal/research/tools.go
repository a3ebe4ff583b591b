package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ToolKind is the closed set of tools a research run may call.
type ToolKind string

const (
	ToolSearchWeb   ToolKind = "search_web"
	ToolAnalyzeData ToolKind = "analyze_data"
)

func (k ToolKind) Valid() bool {
	switch k {
	case ToolSearchWeb, ToolAnalyzeData:
		return true
	default:
		return false
	}
}

// ToolCall is a model request to run a tool. Arguments is the raw JSON the
// model produced.
type ToolCall struct {
	Kind      ToolKind
	CallID    string
	Arguments json.RawMessage
}

type SearchWebArgs struct {
	SearchQuery string `json:"searchQuery"`
}

type AnalyzeDataArgs struct {
	Data  string `json:"data"`
	Focus string `json:"focus"`
}

type SearchResult struct {
	Query   string `json:"query"`
	Results string `json:"results"`
}

type AnalysisResult struct {
	Focus    string `json:"focus"`
	Analysis string `json:"analysis"`
}

// ToolResult carries exactly one of Search or Analysis, selected by Kind.
type ToolResult struct {
	Kind     ToolKind
	CallID   string
	Search   *SearchResult
	Analysis *AnalysisResult
}

// Output is the text handed back to the model.
func (r ToolResult) Output() string {
	switch r.Kind {
	case ToolSearchWeb:
		if r.Search != nil {
			return r.Search.Results
		}
	case ToolAnalyzeData:
		if r.Analysis != nil {
			return r.Analysis.Analysis
		}
	}
	return ""
}

// ToolExecutor runs tool calls. Results are simulated; latency comes from the
// profile so runs pace like real lookups.
type ToolExecutor struct {
	profile *Profile
	sleep   func(context.Context, time.Duration) error
}

func NewToolExecutor(p *Profile) *ToolExecutor {
	if p == nil {
		p = DefaultProfile()
	}
	return &ToolExecutor{profile: p, sleep: sleepCtx}
}

func (e *ToolExecutor) Execute(ctx context.Context, call ToolCall) (ToolResult, error) {
	if !call.Kind.Valid() {
		return ToolResult{}, fmt.Errorf("unknown tool %q", call.Kind)
	}
	if tool, ok := e.profile.Tool(call.Kind); ok {
		if err := e.sleep(ctx, tool.Latency()); err != nil {
			return ToolResult{}, err
		}
	}
	switch call.Kind {
	case ToolSearchWeb:
		var args SearchWebArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return ToolResult{}, err
		}
		return ToolResult{
			Kind:   call.Kind,
			CallID: call.CallID,
			Search: &SearchResult{
				Query:   args.SearchQuery,
				Results: fmt.Sprintf("Found information about: %s. [Simulated search results would appear here in production]", args.SearchQuery),
			},
		}, nil
	default:
		var args AnalyzeDataArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return ToolResult{}, err
		}
		return ToolResult{
			Kind:   call.Kind,
			CallID: call.CallID,
			Analysis: &AnalysisResult{
				Focus:    args.Focus,
				Analysis: fmt.Sprintf("Analysis focused on %s: %s...", args.Focus, prefixRunes(args.Data, 100)),
			},
		}, nil
	}
}

func decodeArgs(raw json.RawMessage, out any) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode tool arguments: %w", err)
	}
	return nil
}

func prefixRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
