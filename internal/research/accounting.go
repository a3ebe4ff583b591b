package research

import (
	"math"
	"unicode/utf8"
)

const (
	charsPerToken    = 4
	costPer1KTokens  = 0.01
	costDecimalScale = 1e6
)

// EstimateTokens approximates token usage as ceil(chars/4), counting runes.
// The text is measured as given; callers pass the untrimmed step buffer.
func EstimateTokens(text string) int64 {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int64((n + charsPerToken - 1) / charsPerToken)
}

// CostForTokens is the linear USD cost of tokens, rounded to the six
// decimals the session cost column stores.
func CostForTokens(tokens int64) float64 {
	if tokens <= 0 {
		return 0
	}
	raw := float64(tokens) / 1000 * costPer1KTokens
	return math.Round(raw*costDecimalScale) / costDecimalScale
}

// Ledger accumulates per-step token estimates for a single run.
type Ledger struct {
	tokens int64
	steps  int
}

func (l *Ledger) Add(tokens int64) {
	if tokens < 0 {
		tokens = 0
	}
	l.tokens += tokens
	l.steps++
}

func (l *Ledger) Tokens() int64 { return l.tokens }

func (l *Ledger) Steps() int { return l.steps }

func (l *Ledger) Cost() float64 { return CostForTokens(l.tokens) }
