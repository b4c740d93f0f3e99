package prefetch

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mind-engage/quizsync/internal/quiz"
	"github.com/mind-engage/quizsync/internal/remote"
)

type fakeStore struct {
	last time.Time
	set  time.Time
}

func (f *fakeStore) LastDownload(context.Context, string, int64) (time.Time, error) {
	return f.last, nil
}
func (f *fakeStore) SetLastDownload(_ context.Context, _ string, _ int64, t time.Time) error {
	f.set = t
	return nil
}

type fakeRemote struct {
	upd      remote.ContentUpdates
	since    time.Time
	quizHits int
	files    []remote.ModuleFile
}

func (f *fakeRemote) CheckUpdates(_ context.Context, _, _ int64, since time.Time) (remote.ContentUpdates, error) {
	f.since = since
	return f.upd, nil
}
func (f *fakeRemote) GetQuiz(_ context.Context, _, quizID int64, opts remote.ReadOpts) (quiz.Quiz, error) {
	if opts.Fresh {
		f.quizHits++
	}
	return quiz.Quiz{ID: quizID}, nil
}
func (f *fakeRemote) AccessInfo(context.Context, int64, remote.ReadOpts) (quiz.AccessInfo, error) {
	return quiz.AccessInfo{}, nil
}
func (f *fakeRemote) ModuleFiles(context.Context, int64, int64) ([]remote.ModuleFile, error) {
	return f.files, nil
}
func (f *fakeRemote) Download(_ context.Context, u string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("content of " + u)), nil
}

type memBlobs map[string][]byte

func (m memBlobs) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	b, err := io.ReadAll(r)
	m[key] = b
	return err
}
func (m memBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m[key])), nil
}
func (m memBlobs) Delete(_ context.Context, key string) error {
	delete(m, key)
	return nil
}

var q = quiz.Quiz{ID: 7, CourseID: 2, CMID: 30}

func newPrefetcher(st *fakeStore, rc *fakeRemote, blobs memBlobs, now time.Time) *Prefetcher {
	p := New(st, func(string) (Remote, error) { return rc, nil }, blobs, nil)
	p.Now = func() time.Time { return now }
	return p
}

func TestAfterSync_NotUpdated(t *testing.T) {
	st := &fakeStore{last: time.Unix(500, 0)}
	rc := &fakeRemote{}
	out, err := newPrefetcher(st, rc, memBlobs{}, time.Unix(1000, 0)).AfterSync(context.Background(), "s", q)
	require.NoError(t, err)
	require.Equal(t, OutcomeUpToDate, out)
	require.Equal(t, time.Unix(500, 0), rc.since)
	require.True(t, st.set.IsZero())
}

func TestAfterSync_SkipsWhenFilesChanged(t *testing.T) {
	for _, area := range []string{"files", "introfiles", "contentfiles"} {
		t.Run(area, func(t *testing.T) {
			st := &fakeStore{}
			rc := &fakeRemote{upd: remote.ContentUpdates{Updated: true, Areas: []string{"attempts", area}}}
			blobs := memBlobs{}
			out, err := newPrefetcher(st, rc, blobs, time.Unix(1000, 0)).AfterSync(context.Background(), "s", q)
			require.NoError(t, err)
			require.Equal(t, OutcomeFilesChanged, out)
			require.Zero(t, rc.quizHits)
			require.Empty(t, blobs)
		})
	}
}

func TestAfterSync_Downloads(t *testing.T) {
	st := &fakeStore{}
	rc := &fakeRemote{
		upd:   remote.ContentUpdates{Updated: true, Areas: []string{"attempts"}},
		files: []remote.ModuleFile{{Path: "img/a.png", URL: "/f/a.png"}},
	}
	blobs := memBlobs{}
	now := time.Unix(1000, 0)
	out, err := newPrefetcher(st, rc, blobs, now).AfterSync(context.Background(), "s", q)
	require.NoError(t, err)
	require.Equal(t, OutcomeDownloaded, out)
	require.Equal(t, 1, rc.quizHits)
	require.Equal(t, "content of /f/a.png", string(blobs["s/30/img/a.png"]))
	require.Equal(t, now, st.set)
}
