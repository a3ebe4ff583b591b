package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/yungbote/researchbridge-backend/internal/types"
)

// flushThreshold is the buffer length (in characters) that must be exceeded
// before a line break closes a step.
const flushThreshold = 100

// StepDraft is a step block produced by the Segmenter, not yet persisted.
type StepDraft struct {
	Number  int
	Type    types.StepType
	Content string
	Tokens  int64
}

// Segmenter turns an ordered run of text fragments into step blocks.
// It is not safe for concurrent use; one Segmenter belongs to one run.
type Segmenter struct {
	buf  strings.Builder
	next int
}

func NewSegmenter() *Segmenter {
	return &Segmenter{next: 1}
}

// Push appends fragment and evaluates the flush predicate once. The predicate
// is checked after the whole fragment is appended, so a fragment that both
// crosses the threshold and holds a line break flushes together with any
// text after that break.
func (s *Segmenter) Push(fragment string) (StepDraft, bool) {
	s.buf.WriteString(fragment)
	if !shouldFlush(s.buf.String()) {
		return StepDraft{}, false
	}
	return s.emit(types.StepAnalysis)
}

// Finish drains whatever remains as the closing summary step. The flush
// predicate does not apply here.
func (s *Segmenter) Finish() (StepDraft, bool) {
	return s.emit(types.StepSummary)
}

// Emitted reports how many steps have been produced so far.
func (s *Segmenter) Emitted() int { return s.next - 1 }

func (s *Segmenter) emit(kind types.StepType) (StepDraft, bool) {
	raw := s.buf.String()
	s.buf.Reset()
	content := strings.TrimSpace(raw)
	if content == "" {
		return StepDraft{}, false
	}
	d := StepDraft{
		Number:  s.next,
		Type:    kind,
		Content: content,
		Tokens:  EstimateTokens(raw),
	}
	s.next++
	return d, true
}

func shouldFlush(buf string) bool {
	return utf8.RuneCountInString(buf) > flushThreshold && strings.Contains(buf, "\n")
}

// Segment drains stream through seg, handing each step to emit in order.
// Emission is sequential: emit returns before the next fragment is read.
func Segment(ctx context.Context, stream FragmentStream, seg *Segmenter, emit func(context.Context, StepDraft) error) error {
	for {
		frag, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read fragment: %w", err)
		}
		if d, ok := seg.Push(frag); ok {
			if err := emit(ctx, d); err != nil {
				return err
			}
		}
	}
	if d, ok := seg.Finish(); ok {
		if err := emit(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
