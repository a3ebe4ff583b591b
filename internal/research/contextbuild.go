package research

import (
	"strings"
)

const (
	documentContextHeader = "Additional context from uploaded documents:"
	continuationStepCount = 3
)

// Document is the slice of an uploaded document that feeds prompt context.
type Document struct {
	Filename string
	Content  string
}

// DocumentContext renders documents, already in upload order, as the block
// appended to a research prompt. No documents yields "".
func DocumentContext(docs []Document) string {
	if len(docs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Filename+":\n"+d.Content)
	}
	return "\n\n" + documentContextHeader + "\n" + strings.Join(parts, "\n\n")
}

// BuildPrompt renders the full model prompt for query using the profile's
// instruction template.
func BuildPrompt(p *Profile, query string, docs []Document) string {
	if p == nil {
		p = DefaultProfile()
	}
	var b strings.Builder
	b.WriteString(p.Instructions.Preamble)
	b.WriteString(" \"")
	b.WriteString(query)
	b.WriteString("\"")
	b.WriteString(DocumentContext(docs))
	if closing := strings.TrimSpace(p.Instructions.Closing); closing != "" {
		b.WriteString("\n\n")
		b.WriteString(closing)
	}
	return b.String()
}

// ContinuationSteps returns at most the first three step contents. steps must
// already be ordered by step number.
func ContinuationSteps(steps []string) []string {
	if len(steps) > continuationStepCount {
		return steps[:continuationStepCount]
	}
	return steps
}

// BuildContinuationQuery combines a parent query, the follow-up, and the
// parent's leading steps into the query of a forked session.
func BuildContinuationQuery(original, additional string, steps []string) string {
	return original +
		"\n\nContinuation: " + additional +
		"\n\nPrevious research context: " + strings.Join(ContinuationSteps(steps), " ")
}
