package research

import (
	"context"
	"strings"
	"testing"
	"time"
)

func instantExecutor() *ToolExecutor {
	e := NewToolExecutor(DefaultProfile())
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func TestToolExecutorSearchWeb(t *testing.T) {
	res, err := instantExecutor().Execute(context.Background(), ToolCall{Kind: ToolSearchWeb, CallID: "c1", Arguments: []byte(`{"searchQuery":"go channels"}`)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "Found information about: go channels. [Simulated search results would appear here in production]"
	if res.Output() != want || res.Search == nil || res.Analysis != nil {
		t.Fatalf("result: want=%q got=%+v", want, res)
	}
}

func TestToolExecutorAnalyzeDataTruncates(t *testing.T) {
	data := strings.Repeat("d", 150)
	res, err := instantExecutor().Execute(context.Background(), ToolCall{Kind: ToolAnalyzeData, Arguments: mustJSON(AnalyzeDataArgs{Data: data, Focus: "trends"})})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "Analysis focused on trends: " + strings.Repeat("d", 100) + "..."
	if res.Output() != want {
		t.Fatalf("analysis: want=%q got=%q", want, res.Output())
	}
}

func TestToolExecutorRejectsUnknownKind(t *testing.T) {
	if _, err := instantExecutor().Execute(context.Background(), ToolCall{Kind: "delete_everything"}); err == nil {
		t.Fatalf("Execute: want error for unknown tool")
	}
}

func TestToolExecutorHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewToolExecutor(DefaultProfile()).Execute(ctx, ToolCall{Kind: ToolSearchWeb}); err == nil {
		t.Fatalf("Execute: want context error")
	}
}

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	if p.MaxOutputTokens != 4000 {
		t.Fatalf("max output tokens: want=4000 got=%d", p.MaxOutputTokens)
	}
	if _, ok := p.Tool(ToolSearchWeb); !ok {
		t.Fatalf("search_web tool missing")
	}
	tool, ok := p.Tool(ToolAnalyzeData)
	if !ok || tool.Latency() != time.Second {
		t.Fatalf("analyze_data latency: want=1s got=%v", tool.Latency())
	}
	schema := tool.JSONSchema()
	if req, _ := schema["required"].([]string); len(req) != 2 {
		t.Fatalf("analyze_data required: want 2 got=%v", schema["required"])
	}
}

func TestParseProfileRejectsUnknownTool(t *testing.T) {
	_, err := parseProfile([]byte("profile: research\ninstructions:\n  preamble: x\ntools:\n  - name: fetch_url\n"))
	if err == nil {
		t.Fatalf("parseProfile: want error")
	}
}
