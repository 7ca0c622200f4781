// Package insight produces a one-sentence mathematical remark about a job
// result. Generation is best effort: Enricher never returns an error.
package insight

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
)

const (
	FallbackDisabled = "Calculated successfully."
	FallbackFailed   = "Insight generation failed."
	FallbackEmpty    = "No insight available."
)

// ErrEmptyAnswer is returned by generators that got a response with no content
var ErrEmptyAnswer = errors.New("empty insight answer")

// Generator asks an external model for a remark about n
type Generator interface {
	Generate(ctx context.Context, n float64) (string, error)
}

// Enricher applies the fallback texts around an optional Generator
type Enricher struct {
	generator Generator
	logger    *slog.Logger
}

// NewEnricher wraps generator. A nil generator means insights are disabled.
func NewEnricher(generator Generator, logger *slog.Logger) *Enricher {
	return &Enricher{generator: generator, logger: logger}
}

// Insight returns the generated remark or one of the fallback texts
func (e *Enricher) Insight(ctx context.Context, n float64) string {
	if e.generator == nil {
		return FallbackDisabled
	}

	text, err := e.generator.Generate(ctx, n)
	if errors.Is(err, ErrEmptyAnswer) {
		return FallbackEmpty
	}
	if err != nil {
		e.logger.Warn("Insight generation failed",
			slog.String("number", FormatNumber(n)),
			slog.Any("error", err),
		)
		return FallbackFailed
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return FallbackEmpty
	}
	return text
}

// FormatNumber renders n the shortest way that round-trips, so 15 prints as "15"
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
