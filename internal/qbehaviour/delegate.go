package qbehaviour

import (
	"context"
	"strconv"
	"strings"

	"github.com/mind-engage/quizsync/internal/quiz"
	"github.com/mind-engage/quizsync/internal/storage"
)

// Handler prepares the stored answer of one question type for submission.
type Handler interface {
	Prepare(ctx context.Context, q quiz.Question, fields map[string]string) error
}

// SequenceChecker lets a handler override the default sequence check comparison.
type SequenceChecker interface {
	SequenceCheckMatches(q quiz.Question, token string) bool
}

// OfflineDataDeleter is implemented by handlers that keep data outside the answer fields.
type OfflineDataDeleter interface {
	DeleteOfflineData(ctx context.Context, q quiz.Question, answers quiz.SlotAnswers, siteID string) error
}

// Delegate routes by question type to the matching Handler.
type Delegate struct {
	handlers map[string]Handler
}

type Option func(*config)

type config struct {
	blobs    storage.BlobStore
	handlers map[string]Handler
}

// WithBlobStore lets essay answers drop their offline attachments.
func WithBlobStore(b storage.BlobStore) Option { return func(c *config) { c.blobs = b } }

func WithHandler(qtype string, h Handler) Option {
	return func(c *config) { c.handlers[qtype] = h }
}

// NewDefaultDelegate installs the built-in handlers.
func NewDefaultDelegate(opts ...Option) *Delegate {
	cfg := &config{handlers: map[string]Handler{}}
	for _, o := range opts {
		o(cfg)
	}
	handlers := map[string]Handler{
		"numerical":        numericHandler{},
		"calculated":       numericHandler{},
		"calculatedsimple": numericHandler{},
		"calculatedmulti":  choiceHandler{},
		"multichoice":      choiceHandler{},
		"truefalse":        choiceHandler{},
		"shortanswer":      textHandler{},
		"essay":            essayHandler{blobs: cfg.blobs},
	}
	for k, h := range cfg.handlers {
		handlers[k] = h
	}
	return &Delegate{handlers: handlers}
}

func (d *Delegate) SequenceCheckMatches(q quiz.Question, token string) bool {
	if sc, ok := d.handlers[q.Type].(SequenceChecker); ok {
		return sc.SequenceCheckMatches(q, token)
	}
	return strconv.Itoa(q.SequenceCheck) == strings.TrimSpace(token)
}

// PrepareForSubmission rewrites fields in place into the form the site expects.
func (d *Delegate) PrepareForSubmission(ctx context.Context, q quiz.Question, fields map[string]string) error {
	h, ok := d.handlers[q.Type]
	if !ok {
		return nil
	}
	return h.Prepare(ctx, q, fields)
}

func (d *Delegate) DeleteOfflineData(ctx context.Context, q quiz.Question, answers quiz.SlotAnswers, siteID string) error {
	if del, ok := d.handlers[q.Type].(OfflineDataDeleter); ok {
		return del.DeleteOfflineData(ctx, q, answers, siteID)
	}
	return nil
}

// --- Handlers ---

type choiceHandler struct{}

// "-1" is the player's "no answer" sentinel; the site rejects it.
func (choiceHandler) Prepare(_ context.Context, _ quiz.Question, fields map[string]string) error {
	if v, ok := fields["answer"]; ok && (v == "-1" || strings.TrimSpace(v) == "") {
		delete(fields, "answer")
	}
	return nil
}

type textHandler struct{}

func (textHandler) Prepare(_ context.Context, _ quiz.Question, fields map[string]string) error {
	if v, ok := fields["answer"]; ok {
		fields["answer"] = strings.TrimSpace(v)
	}
	return nil
}

type essayHandler struct{ blobs storage.BlobStore }

func (essayHandler) Prepare(_ context.Context, _ quiz.Question, fields map[string]string) error {
	if fields["answerformat"] == "" {
		fields["answerformat"] = "1" // HTML
	}
	return nil
}

func (h essayHandler) DeleteOfflineData(ctx context.Context, _ quiz.Question, answers quiz.SlotAnswers, _ string) error {
	if h.blobs == nil {
		return nil
	}
	for _, key := range strings.Split(answers.Fields["attachments"], ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if err := h.blobs.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
