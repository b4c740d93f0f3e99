package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Entry is a journaled event with its position in the log.
type Entry struct {
	Offset int64 `json:"offset"`
	Event
}

// Journal appends every emitted event to the event_log table so observers
// that were disconnected can catch up by offset.
type Journal struct {
	db  *sql.DB
	log *zap.Logger
}

func NewJournal(db *sql.DB, log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{db: db, log: log}
}

func (j *Journal) Emit(ctx context.Context, name string, payload any, siteID string) {
	if err := j.Append(ctx, newEvent(name, payload, siteID)); err != nil {
		j.log.Warn("journal event", zap.String("event", name), zap.Error(err))
	}
}

// Append stores ev.
func (j *Journal) Append(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO event_log (event_id, site_id, name, data, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		ev.ID.String(), ev.SiteID, ev.Name, string(data), ev.Time.UnixMilli())
	return err
}

// Since returns up to limit events of siteID with an offset greater than after,
// oldest first. An empty siteID matches every site.
func (j *Journal) Since(ctx context.Context, siteID string, after int64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT offset_id, event_id, site_id, name, data, created_at
		FROM event_log
		WHERE offset_id > $1 AND ($2 = '' OR site_id = $2)
		ORDER BY offset_id
		LIMIT $3`, after, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			id      string
			data    string
			created int64
		)
		if err := rows.Scan(&e.Offset, &id, &e.SiteID, &e.Name, &data, &created); err != nil {
			return nil, err
		}
		e.ID, _ = uuid.Parse(id)
		e.Time = time.UnixMilli(created).UTC()
		e.Payload = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes events older than before.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM event_log WHERE created_at < $1`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
