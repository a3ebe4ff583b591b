package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"
)

// MockSource produces a deterministic research transcript without calling a
// model. It exercises the tool executor so local runs look like real ones.
type MockSource struct {
	Tools     *ToolExecutor
	ChunkSize int
}

func NewMockSource(tools *ToolExecutor) *MockSource {
	return &MockSource{Tools: tools, ChunkSize: 16}
}

func (m *MockSource) StartStream(ctx context.Context, req StreamRequest) (FragmentStream, error) {
	subject := promptSubject(req.Prompt)

	var search, analysis string
	if m.Tools != nil {
		sr, err := m.Tools.Execute(ctx, ToolCall{Kind: ToolSearchWeb, CallID: "mock-search", Arguments: mustJSON(SearchWebArgs{SearchQuery: subject})})
		if err != nil {
			return nil, fmt.Errorf("mock search_web: %w", err)
		}
		search = sr.Output()
		ar, err := m.Tools.Execute(ctx, ToolCall{Kind: ToolAnalyzeData, CallID: "mock-analyze", Arguments: mustJSON(AnalyzeDataArgs{Data: search, Focus: "key findings"})})
		if err != nil {
			return nil, fmt.Errorf("mock analyze_data: %w", err)
		}
		analysis = ar.Output()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Step 1: Scoping the question. The research focuses on %s and the context supplied with it.\n", subject)
	if search != "" {
		fmt.Fprintf(&b, "Step 2: Gathering sources. %s\n", search)
	}
	if analysis != "" {
		fmt.Fprintf(&b, "Step 3: Analyzing findings. %s\n", analysis)
	}
	fmt.Fprintf(&b, "Summary: The available material on %s was reviewed, the main threads were identified, and open questions remain for follow-up research.", subject)

	size := m.ChunkSize
	if size <= 0 {
		size = 16
	}
	return NewStaticStream(chunkRunes(b.String(), size)...), nil
}

// promptSubject extracts the quoted query from a rendered prompt.
func promptSubject(prompt string) string {
	start := strings.Index(prompt, "\"")
	if start >= 0 {
		if end := strings.Index(prompt[start+1:], "\""); end >= 0 {
			if s := strings.TrimSpace(prompt[start+1 : start+1+end]); s != "" {
				return prefixRunes(firstLine(s), 80)
			}
		}
	}
	return prefixRunes(firstLine(strings.TrimSpace(prompt)), 80)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func chunkRunes(s string, size int) []string {
	out := make([]string, 0, utf8.RuneCountInString(s)/size+1)
	r := []rune(s)
	for i := 0; i < len(r); i += size {
		end := i + size
		if end > len(r) {
			end = len(r)
		}
		out = append(out, string(r[i:end]))
	}
	return out
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// StaticSource replays fixed fragments. FailAfter > 0 makes the stream fail
// once that many fragments were delivered; StartErr fails the start itself.
type StaticSource struct {
	Fragments []string
	FailAfter int
	StreamErr error
	StartErr  error

	mu       sync.Mutex
	requests []StreamRequest
}

func (s *StaticSource) StartStream(ctx context.Context, req StreamRequest) (FragmentStream, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	st := NewStaticStream(s.Fragments...)
	if s.FailAfter > 0 {
		st.failAfter = s.FailAfter
		st.failErr = s.StreamErr
		if st.failErr == nil {
			st.failErr = errors.New("stream interrupted")
		}
	}
	return st, nil
}

// Requests returns the requests seen so far.
func (s *StaticSource) Requests() []StreamRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StreamRequest(nil), s.requests...)
}

type StaticStream struct {
	frags     []string
	pos       int
	full      strings.Builder
	done      bool
	failAfter int
	failErr   error
}

func NewStaticStream(frags ...string) *StaticStream {
	return &StaticStream{frags: frags}
}

func (s *StaticStream) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.failAfter > 0 && s.pos >= s.failAfter {
		return "", s.failErr
	}
	if s.pos >= len(s.frags) {
		s.done = true
		return "", io.EOF
	}
	f := s.frags[s.pos]
	s.pos++
	s.full.WriteString(f)
	return f, nil
}

func (s *StaticStream) Text(ctx context.Context) (string, error) {
	if !s.done {
		return "", errors.New("stream not finished")
	}
	return s.full.String(), nil
}

func (s *StaticStream) Close() error { return nil }
