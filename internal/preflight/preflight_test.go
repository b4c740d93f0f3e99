package preflight

import (
	"context"
	"errors"
	"testing"

	"github.com/mind-engage/quizsync/internal/quiz"
)

type memStore struct {
	vals  map[string]string
	saved map[string]string
}

func (m *memStore) PreflightValues(context.Context, string, int64) (map[string]string, error) {
	return m.vals, nil
}

func (m *memStore) SavePreflightValues(_ context.Context, _ string, _ int64, v map[string]string) error {
	m.saved = v
	return nil
}

var pwInfo = quiz.AccessInfo{ActiveRules: []string{"quizaccess_password"}, PreflightFields: []string{"quizpassword"}}

func TestData_NoFieldsRequired(t *testing.T) {
	s := New(&memStore{}, nil)
	got, err := s.Data(context.Background(), "s", quiz.Quiz{ID: 1}, quiz.Attempt{}, quiz.AccessInfo{}, false)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestData_UsesStoredValues(t *testing.T) {
	s := New(&memStore{vals: map[string]string{"quizpassword": "secret", "other": "x"}}, nil)
	got, err := s.Data(context.Background(), "s", quiz.Quiz{ID: 1}, quiz.Attempt{}, pwInfo, false)
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if len(got) != 1 || got["quizpassword"] != "secret" {
		t.Fatalf("unexpected values %v", got)
	}
}

func TestData_MissingWithoutAsk(t *testing.T) {
	s := New(&memStore{}, nil)
	_, err := s.Data(context.Background(), "s", quiz.Quiz{ID: 1}, quiz.Attempt{}, pwInfo, false)
	if !errors.Is(err, ErrPreflightRequired) {
		t.Fatalf("expected ErrPreflightRequired, got %v", err)
	}
}

func TestData_AskUsesContextThenSaves(t *testing.T) {
	st := &memStore{}
	s := New(st, nil)
	ctx := WithValues(context.Background(), map[string]string{"quizpassword": "pw"})
	got, err := s.Data(ctx, "s", quiz.Quiz{ID: 1}, quiz.Attempt{}, pwInfo, true)
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if got["quizpassword"] != "pw" || st.saved["quizpassword"] != "pw" {
		t.Fatalf("expected value returned and saved, got %v saved %v", got, st.saved)
	}
}

func TestData_AskUsesPrompter(t *testing.T) {
	calls := 0
	s := New(&memStore{}, PrompterFunc(func(_ context.Context, _ string, _ quiz.Quiz, fields []string) (map[string]string, error) {
		calls++
		return map[string]string{fields[0]: "typed"}, nil
	}))
	got, err := s.Data(context.Background(), "s", quiz.Quiz{ID: 1}, quiz.Attempt{}, pwInfo, true)
	if err != nil || got["quizpassword"] != "typed" || calls != 1 {
		t.Fatalf("got %v, %v, calls=%d", got, err, calls)
	}
}
