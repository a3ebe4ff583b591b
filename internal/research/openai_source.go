package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/platform/openai"
)

// OpenAISource streams research text from the Responses API. Tool calls the
// model makes are executed locally and answered in a follow-up response, so
// one logical stream can span several HTTP responses.
type OpenAISource struct {
	client   *openai.Client
	tools    *ToolExecutor
	maxTools int
	log      *logger.Logger
}

func NewOpenAISource(client *openai.Client, tools *ToolExecutor, maxToolRounds int, log *logger.Logger) *OpenAISource {
	if log == nil {
		log = logger.Nop()
	}
	if maxToolRounds <= 0 {
		maxToolRounds = 4
	}
	return &OpenAISource{client: client, tools: tools, maxTools: maxToolRounds, log: log.With("service", "OpenAISource")}
}

func (s *OpenAISource) StartStream(ctx context.Context, req StreamRequest) (FragmentStream, error) {
	model := req.Model
	if s.client.Model() != "" {
		model = s.client.Model()
	}
	tools := make([]openai.FunctionTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, openai.FunctionTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.JSONSchema(),
			Strict:      true,
		})
	}
	base := openai.ResponseRequest{
		Model:           model,
		Tools:           tools,
		MaxOutputTokens: req.MaxTokens,
	}
	first := base
	first.Input = req.Prompt
	rs, err := s.client.StreamResponse(ctx, first)
	if err != nil {
		return nil, fmt.Errorf("start response: %w", err)
	}
	return &openAIStream{src: s, base: base, cur: rs}, nil
}

type openAIStream struct {
	src    *OpenAISource
	base   openai.ResponseRequest
	cur    *openai.ResponseStream
	rounds int
	full   strings.Builder
	done   bool
}

func (st *openAIStream) Next(ctx context.Context) (string, error) {
	for {
		if st.done {
			return "", io.EOF
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		d, err := st.cur.Next()
		if err == nil {
			st.full.WriteString(d)
			return d, nil
		}
		if !errors.Is(err, io.EOF) {
			return "", err
		}
		calls := st.cur.FunctionCalls()
		if len(calls) == 0 || st.rounds >= st.src.maxTools {
			if len(calls) > 0 {
				st.src.log.Warn("tool round limit reached; ending stream", "rounds", st.rounds)
			}
			st.done = true
			return "", io.EOF
		}
		if err := st.followUp(ctx, calls); err != nil {
			return "", err
		}
	}
}

func (st *openAIStream) followUp(ctx context.Context, calls []openai.FunctionCall) error {
	outputs := make([]openai.FunctionCallOutput, 0, len(calls))
	for _, c := range calls {
		res, err := st.src.tools.Execute(ctx, ToolCall{Kind: ToolKind(c.Name), CallID: c.CallID, Arguments: []byte(c.Arguments)})
		out := res.Output()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			out = "tool error: " + err.Error()
		}
		outputs = append(outputs, openai.NewFunctionCallOutput(c.CallID, out))
	}
	prevID := st.cur.ResponseID()
	_ = st.cur.Close()

	next := st.base
	next.Input = outputs
	next.PreviousResponseID = prevID
	rs, err := st.src.client.StreamResponse(ctx, next)
	if err != nil {
		return fmt.Errorf("continue response after tools: %w", err)
	}
	st.cur = rs
	st.rounds++
	return nil
}

func (st *openAIStream) Text(ctx context.Context) (string, error) {
	if !st.done {
		return "", errors.New("stream not finished")
	}
	return st.full.String(), nil
}

func (st *openAIStream) Close() error {
	if st.cur == nil {
		return nil
	}
	return st.cur.Close()
}
