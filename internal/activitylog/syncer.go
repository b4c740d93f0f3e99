package activitylog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mind-engage/quizsync/internal/offline"
	"github.com/mind-engage/quizsync/internal/remote"
)

type Store interface {
	PendingLogs(ctx context.Context, siteID, component string, instanceID int64) ([]offline.LogEntry, error)
	DeleteLogs(ctx context.Context, siteID string, ids []int64) error
}

type Remote interface {
	SubmitLogs(ctx context.Context, component string, instanceID int64, entries []remote.LogEntry) error
}

// RemoteFunc resolves the remote client of a site.
type RemoteFunc func(siteID string) (Remote, error)

// Syncer sends interaction logs recorded offline for one activity.
type Syncer struct {
	Store   Store
	Remotes RemoteFunc
	Log     *zap.Logger
}

func New(store Store, remotes RemoteFunc, log *zap.Logger) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{Store: store, Remotes: remotes, Log: log}
}

// SyncActivity submits every queued log of the activity in one request and
// deletes them once the site accepted them.
func (s *Syncer) SyncActivity(ctx context.Context, siteID, component string, instanceID int64) error {
	pending, err := s.Store.PendingLogs(ctx, siteID, component, instanceID)
	if err != nil {
		return fmt.Errorf("pending logs: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	rc, err := s.Remotes(siteID)
	if err != nil {
		return err
	}

	entries := make([]remote.LogEntry, 0, len(pending))
	ids := make([]int64, 0, len(pending))
	for _, e := range pending {
		entries = append(entries, remote.LogEntry{Action: e.Action, Data: e.Data, Time: time.Unix(e.TimeCreated, 0)})
		ids = append(ids, e.ID)
	}
	if err := rc.SubmitLogs(ctx, component, instanceID, entries); err != nil {
		return fmt.Errorf("submit logs: %w", err)
	}
	if err := s.Store.DeleteLogs(ctx, siteID, ids); err != nil {
		return fmt.Errorf("delete logs: %w", err)
	}
	s.Log.Debug("activity logs synced",
		zap.String("site", siteID), zap.String("component", component),
		zap.Int64("instance", instanceID), zap.Int("count", len(ids)))
	return nil
}
