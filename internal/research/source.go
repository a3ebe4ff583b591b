package research

import (
	"context"
)

// StreamRequest is everything a generative source needs to start a run.
type StreamRequest struct {
	Prompt    string
	Model     string
	MaxTokens int
	Tools     []ToolSpec
}

// Source starts generative text streams.
type Source interface {
	StartStream(ctx context.Context, req StreamRequest) (FragmentStream, error)
}

// FragmentStream yields text fragments in order. Next returns io.EOF once
// the source is exhausted; Text is valid only after that and returns the
// complete generated text.
type FragmentStream interface {
	Next(ctx context.Context) (string, error)
	Text(ctx context.Context) (string, error)
	Close() error
}
