package prefetch

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mind-engage/quizsync/internal/quiz"
	"github.com/mind-engage/quizsync/internal/remote"
	"github.com/mind-engage/quizsync/internal/storage"
)

type Store interface {
	LastDownload(ctx context.Context, siteID string, cmID int64) (time.Time, error)
	SetLastDownload(ctx context.Context, siteID string, cmID int64, t time.Time) error
}

type Remote interface {
	CheckUpdates(ctx context.Context, courseID, cmID int64, since time.Time) (remote.ContentUpdates, error)
	GetQuiz(ctx context.Context, courseID, quizID int64, opts remote.ReadOpts) (quiz.Quiz, error)
	AccessInfo(ctx context.Context, quizID int64, opts remote.ReadOpts) (quiz.AccessInfo, error)
	ModuleFiles(ctx context.Context, courseID, cmID int64) ([]remote.ModuleFile, error)
	Download(ctx context.Context, fileURL string) (io.ReadCloser, error)
}

type RemoteFunc func(siteID string) (Remote, error)

// Outcome says what AfterSync did.
type Outcome string

const (
	OutcomeUpToDate     Outcome = "uptodate"
	OutcomeFilesChanged Outcome = "files_changed"
	OutcomeDownloaded   Outcome = "downloaded"
)

// Prefetcher keeps a quiz's downloadable content available offline.
type Prefetcher struct {
	Store   Store
	Remotes RemoteFunc
	Blobs   storage.BlobStore
	Now     func() time.Time
	Log     *zap.Logger
}

func New(store Store, remotes RemoteFunc, blobs storage.BlobStore, log *zap.Logger) *Prefetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prefetcher{Store: store, Remotes: remotes, Blobs: blobs, Now: time.Now, Log: log}
}

// AfterSync refreshes the quiz content after a sync changed it on the site.
// Changed file areas are left alone: the learner decides when to download
// those again.
func (p *Prefetcher) AfterSync(ctx context.Context, siteID string, q quiz.Quiz) (Outcome, error) {
	rc, err := p.Remotes(siteID)
	if err != nil {
		return "", err
	}
	since, err := p.Store.LastDownload(ctx, siteID, q.CMID)
	if err != nil {
		return "", fmt.Errorf("last download: %w", err)
	}
	upd, err := rc.CheckUpdates(ctx, q.CourseID, q.CMID, since)
	if err != nil {
		return "", fmt.Errorf("check updates: %w", err)
	}
	if !upd.Updated {
		return OutcomeUpToDate, nil
	}
	if upd.FilesChanged() {
		p.Log.Info("module files changed, skipping prefetch",
			zap.String("site", siteID), zap.Int64("cm", q.CMID), zap.Strings("areas", upd.Areas))
		return OutcomeFilesChanged, nil
	}

	fresh := remote.ReadOpts{Fresh: true}
	if _, err := rc.GetQuiz(ctx, q.CourseID, q.ID, fresh); err != nil {
		return "", fmt.Errorf("quiz: %w", err)
	}
	if _, err := rc.AccessInfo(ctx, q.ID, fresh); err != nil {
		return "", fmt.Errorf("access info: %w", err)
	}

	if p.Blobs != nil {
		files, err := rc.ModuleFiles(ctx, q.CourseID, q.CMID)
		if err != nil {
			return "", fmt.Errorf("module files: %w", err)
		}
		for _, f := range files {
			if err := p.download(ctx, rc, siteID, q.CMID, f); err != nil {
				return "", fmt.Errorf("download %s: %w", f.Path, err)
			}
		}
	}
	if err := p.Store.SetLastDownload(ctx, siteID, q.CMID, p.Now()); err != nil {
		return "", fmt.Errorf("set last download: %w", err)
	}
	return OutcomeDownloaded, nil
}

func (p *Prefetcher) download(ctx context.Context, rc Remote, siteID string, cmID int64, f remote.ModuleFile) error {
	body, err := rc.Download(ctx, f.URL)
	if err != nil {
		return err
	}
	defer body.Close()
	return p.Blobs.Put(ctx, BlobKey(siteID, cmID, f.Path), body, f.Size, f.MimeType)
}

// BlobKey is where a module file is kept in the blob store.
func BlobKey(siteID string, cmID int64, filePath string) string {
	return path.Join(siteID, strconv.FormatInt(cmID, 10), path.Clean("/"+filePath))
}
