package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mind-engage/quizsync/internal/quiz"
)

// ErrPreflightRequired means the quiz needs preflight values nobody supplied.
var ErrPreflightRequired = errors.New("preflight data required")

type Store interface {
	PreflightValues(ctx context.Context, siteID string, quizID int64) (map[string]string, error)
	SavePreflightValues(ctx context.Context, siteID string, quizID int64, values map[string]string) error
}

// Prompter asks the learner for the named preflight fields.
type Prompter interface {
	Prompt(ctx context.Context, siteID string, q quiz.Quiz, fields []string) (map[string]string, error)
}

type PrompterFunc func(ctx context.Context, siteID string, q quiz.Quiz, fields []string) (map[string]string, error)

func (f PrompterFunc) Prompt(ctx context.Context, siteID string, q quiz.Quiz, fields []string) (map[string]string, error) {
	return f(ctx, siteID, q, fields)
}

type ctxKey struct{}

// WithValues attaches values the caller already collected, used when a
// sync is allowed to ask for preflight data.
func WithValues(ctx context.Context, values map[string]string) context.Context {
	return context.WithValue(ctx, ctxKey{}, values)
}

func valuesFrom(ctx context.Context) map[string]string {
	v, _ := ctx.Value(ctxKey{}).(map[string]string)
	return v
}

// Source resolves the preflight values needed to act on an attempt.
type Source struct {
	Store    Store
	Prompter Prompter // optional
}

func New(store Store, p Prompter) *Source { return &Source{Store: store, Prompter: p} }

// Data returns the values of every field in info.PreflightFields. Stored
// values are used first. When ask is set, missing fields are taken from the
// context or the prompter and saved for next time.
func (s *Source) Data(ctx context.Context, siteID string, q quiz.Quiz, _ quiz.Attempt, info quiz.AccessInfo, ask bool) (map[string]string, error) {
	out := map[string]string{}
	if len(info.PreflightFields) == 0 {
		return out, nil
	}
	stored, err := s.Store.PreflightValues(ctx, siteID, q.ID)
	if err != nil {
		return nil, fmt.Errorf("preflight values: %w", err)
	}
	missing := fill(out, stored, info.PreflightFields)
	if len(missing) == 0 {
		return out, nil
	}
	if !ask {
		return nil, fmt.Errorf("%w: %s", ErrPreflightRequired, strings.Join(missing, ","))
	}

	supplied := valuesFrom(ctx)
	if s.Prompter != nil && len(fill(map[string]string{}, supplied, missing)) > 0 {
		prompted, err := s.Prompter.Prompt(ctx, siteID, q, missing)
		if err != nil {
			return nil, err
		}
		supplied = merge(supplied, prompted)
	}
	fresh := map[string]string{}
	if still := fill(fresh, supplied, missing); len(still) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrPreflightRequired, strings.Join(still, ","))
	}
	if err := s.Store.SavePreflightValues(ctx, siteID, q.ID, fresh); err != nil {
		return nil, fmt.Errorf("save preflight values: %w", err)
	}
	for k, v := range fresh {
		out[k] = v
	}
	return out, nil
}

// fill copies the named fields present in src into dst and returns the
// names it could not find.
func fill(dst, src map[string]string, fields []string) []string {
	var missing []string
	for _, f := range fields {
		if v, ok := src[f]; ok && v != "" {
			dst[f] = v
			continue
		}
		missing = append(missing, f)
	}
	return missing
}

func merge(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
