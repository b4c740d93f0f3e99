package qbehaviour

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mind-engage/quizsync/internal/quiz"
)

// numericHandler canonicalises the typed number so the site parses it
// regardless of the learner's locale.
//
//	"3,5"      -> "3.5"
//	"1,234.50" -> "1234.5"
//	" 42 "     -> "42"
type numericHandler struct{}

func (numericHandler) Prepare(_ context.Context, _ quiz.Question, fields map[string]string) error {
	v, ok := fields["answer"]
	if !ok {
		return nil
	}
	fields["answer"] = normalizeNumber(v)
	return nil
}

func normalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	candidate := strings.ReplaceAll(s, " ", "")
	switch {
	case strings.Contains(candidate, ".") && strings.Contains(candidate, ","):
		candidate = strings.ReplaceAll(candidate, ",", "") // thousands separators
	case strings.Count(candidate, ",") == 1:
		candidate = strings.Replace(candidate, ",", ".", 1)
	}
	d, err := decimal.NewFromString(candidate)
	if err != nil {
		// Not a plain number (units, expressions); leave it to the site.
		return s
	}
	return d.String()
}
