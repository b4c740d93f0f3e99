package qbehaviour

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/mind-engage/quizsync/internal/quiz"
	"github.com/mind-engage/quizsync/internal/storage"
)

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"3,5", "3.5"},
		{" 42 ", "42"},
		{"1,234.50", "1234.5"},
		{"-0.250", "-0.25"},
		{"12 m", "12 m"},
		{"", ""},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := normalizeNumber(tc.in); got != tc.want {
				t.Fatalf("normalizeNumber(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDelegate_SequenceCheck(t *testing.T) {
	d := NewDefaultDelegate()
	q := quiz.Question{Slot: 5, Type: "multichoice", SequenceCheck: 4}
	if d.SequenceCheckMatches(q, "3") {
		t.Fatalf("expected mismatch for stale token")
	}
	if !d.SequenceCheckMatches(q, " 4") {
		t.Fatalf("expected match for current token")
	}
}

func TestDelegate_PrepareByType(t *testing.T) {
	d := NewDefaultDelegate()
	ctx := context.Background()

	num := map[string]string{"answer": "2,75"}
	if err := d.PrepareForSubmission(ctx, quiz.Question{Type: "numerical"}, num); err != nil {
		t.Fatal(err)
	}
	if num["answer"] != "2.75" {
		t.Fatalf("numerical answer = %q", num["answer"])
	}

	mc := map[string]string{"answer": "-1"}
	if err := d.PrepareForSubmission(ctx, quiz.Question{Type: "multichoice"}, mc); err != nil {
		t.Fatal(err)
	}
	if _, ok := mc["answer"]; ok {
		t.Fatalf("expected no-answer sentinel to be dropped")
	}

	essay := map[string]string{"answer": "<p>hi</p>"}
	if err := d.PrepareForSubmission(ctx, quiz.Question{Type: "essay"}, essay); err != nil {
		t.Fatal(err)
	}
	if essay["answerformat"] != "1" {
		t.Fatalf("expected default answer format")
	}

	unknown := map[string]string{"answer": " x "}
	if err := d.PrepareForSubmission(ctx, quiz.Question{Type: "ddwtos"}, unknown); err != nil {
		t.Fatal(err)
	}
	if unknown["answer"] != " x " {
		t.Fatalf("unknown types must be left untouched")
	}
}

func TestDelegate_EssayDeletesAttachments(t *testing.T) {
	ctx := context.Background()
	fs, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Put(ctx, "offline/site-1/9/3/a.txt", bytes.NewBufferString("x"), 1, "text/plain"); err != nil {
		t.Fatal(err)
	}

	d := NewDefaultDelegate(WithBlobStore(fs))
	ans := quiz.SlotAnswers{Slot: 3, Fields: map[string]string{"attachments": "offline/site-1/9/3/a.txt"}}
	if err := d.DeleteOfflineData(ctx, quiz.Question{Slot: 3, Type: "essay"}, ans, "site-1"); err != nil {
		t.Fatal(err)
	}
	if rc, err := fs.Get(ctx, "offline/site-1/9/3/a.txt"); err == nil {
		_, _ = io.Copy(io.Discard, rc)
		rc.Close()
		t.Fatalf("expected attachment to be deleted")
	}
}
