package activitylog

import (
	"context"
	"errors"
	"testing"

	"github.com/mind-engage/quizsync/internal/offline"
	"github.com/mind-engage/quizsync/internal/remote"
)

type fakeStore struct {
	logs    []offline.LogEntry
	deleted []int64
}

func (f *fakeStore) PendingLogs(_ context.Context, _, component string, instanceID int64) ([]offline.LogEntry, error) {
	var out []offline.LogEntry
	for _, l := range f.logs {
		if l.Component == component && l.InstanceID == instanceID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteLogs(_ context.Context, _ string, ids []int64) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

type fakeRemote struct {
	got []remote.LogEntry
	err error
}

func (f *fakeRemote) SubmitLogs(_ context.Context, _ string, _ int64, entries []remote.LogEntry) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, entries...)
	return nil
}

func TestSyncActivity_SubmitsAndDeletes(t *testing.T) {
	st := &fakeStore{logs: []offline.LogEntry{
		{ID: 1, Component: "mod_quiz", InstanceID: 7, Action: "viewed", TimeCreated: 100},
		{ID: 2, Component: "mod_quiz", InstanceID: 8, Action: "viewed", TimeCreated: 100},
		{ID: 3, Component: "mod_quiz", InstanceID: 7, Action: "attempt_viewed", TimeCreated: 200},
	}}
	rc := &fakeRemote{}
	s := New(st, func(string) (Remote, error) { return rc, nil }, nil)

	if err := s.SyncActivity(context.Background(), "site-1", "mod_quiz", 7); err != nil {
		t.Fatalf("SyncActivity: %v", err)
	}
	if len(rc.got) != 2 || rc.got[1].Action != "attempt_viewed" {
		t.Fatalf("unexpected submitted entries: %+v", rc.got)
	}
	if len(st.deleted) != 2 || st.deleted[0] != 1 || st.deleted[1] != 3 {
		t.Fatalf("unexpected deleted ids: %v", st.deleted)
	}
}

func TestSyncActivity_KeepsLogsOnFailure(t *testing.T) {
	st := &fakeStore{logs: []offline.LogEntry{{ID: 1, Component: "mod_quiz", InstanceID: 7}}}
	rc := &fakeRemote{err: errors.New("boom")}
	s := New(st, func(string) (Remote, error) { return rc, nil }, nil)

	if err := s.SyncActivity(context.Background(), "site-1", "mod_quiz", 7); err == nil {
		t.Fatalf("expected error")
	}
	if len(st.deleted) != 0 {
		t.Fatalf("logs must stay queued after a failed submit")
	}
}

func TestSyncActivity_NothingQueued(t *testing.T) {
	s := New(&fakeStore{}, func(string) (Remote, error) {
		t.Fatalf("remote must not be resolved without pending logs")
		return nil, nil
	}, nil)
	if err := s.SyncActivity(context.Background(), "site-1", "mod_quiz", 7); err != nil {
		t.Fatalf("SyncActivity: %v", err)
	}
}
