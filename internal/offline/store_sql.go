package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mind-engage/quizsync/internal/db"
	"github.com/mind-engage/quizsync/internal/quiz"
)

// SQLStore keeps offline attempts, answers and sync bookkeeping in the local database.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(h *sql.DB) *SQLStore {
	return &SQLStore{db: h, now: time.Now}
}

// SaveAttempt stores a, removing any older offline attempt for the same quiz.
func (s *SQLStore) SaveAttempt(ctx context.Context, siteID string, a quiz.OfflineAttempt) error {
	now := s.now().Unix()
	if a.TimeCreated == 0 {
		a.TimeCreated = now
	}
	if a.TimeModified == 0 {
		a.TimeModified = now
	}
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM offline_answers
			WHERE site_id=$1 AND quiz_id=$2 AND attempt_id<>$3`, siteID, a.QuizID, a.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM offline_attempts
			WHERE site_id=$1 AND quiz_id=$2 AND id<>$3`, siteID, a.QuizID, a.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO offline_attempts (site_id, id, quiz_id, course_id, user_id, current_page, finished, time_created, time_modified)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (site_id, id) DO UPDATE SET
				current_page=EXCLUDED.current_page,
				finished=EXCLUDED.finished,
				time_modified=EXCLUDED.time_modified`,
			siteID, a.ID, a.QuizID, a.CourseID, a.UserID, a.CurrentPage, boolInt(a.Finished), a.TimeCreated, a.TimeModified)
		return err
	})
}

// SaveAnswers upserts the answers of the given slots.
func (s *SQLStore) SaveAnswers(ctx context.Context, siteID string, attemptID, quizID int64, answers []quiz.SlotAnswers) error {
	now := s.now().Unix()
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, a := range answers {
			fj, err := json.Marshal(a.Fields)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO offline_answers (site_id, attempt_id, quiz_id, slot, sequence_check, fields_json, time_modified)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
				ON CONFLICT (site_id, attempt_id, slot) DO UPDATE SET
					sequence_check=EXCLUDED.sequence_check,
					fields_json=EXCLUDED.fields_json,
					time_modified=EXCLUDED.time_modified`,
				siteID, attemptID, quizID, a.Slot, a.SequenceCheck, string(fj), now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) ListAttempts(ctx context.Context, siteID string, quizID int64) ([]quiz.OfflineAttempt, error) {
	return s.queryAttempts(ctx, `
		SELECT id, quiz_id, course_id, user_id, current_page, finished, time_created, time_modified
		FROM offline_attempts WHERE site_id=$1 AND quiz_id=$2 ORDER BY time_created`, siteID, quizID)
}

func (s *SQLStore) ListAllAttempts(ctx context.Context, siteID string) ([]quiz.OfflineAttempt, error) {
	return s.queryAttempts(ctx, `
		SELECT id, quiz_id, course_id, user_id, current_page, finished, time_created, time_modified
		FROM offline_attempts WHERE site_id=$1 ORDER BY quiz_id, time_created`, siteID)
}

func (s *SQLStore) queryAttempts(ctx context.Context, q string, args ...any) ([]quiz.OfflineAttempt, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []quiz.OfflineAttempt
	for rows.Next() {
		var a quiz.OfflineAttempt
		var finished int
		if err := rows.Scan(&a.ID, &a.QuizID, &a.CourseID, &a.UserID, &a.CurrentPage, &finished, &a.TimeCreated, &a.TimeModified); err != nil {
			return nil, err
		}
		a.Finished = finished != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListAnswers(ctx context.Context, siteID string, attemptID int64) ([]quiz.SlotAnswers, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slot, sequence_check, fields_json
		FROM offline_answers WHERE site_id=$1 AND attempt_id=$2 ORDER BY slot`, siteID, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []quiz.SlotAnswers
	for rows.Next() {
		var a quiz.SlotAnswers
		var fj string
		if err := rows.Scan(&a.Slot, &a.SequenceCheck, &fj); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fj), &a.Fields); err != nil {
			return nil, fmt.Errorf("offline answers of attempt %d slot %d: %w", attemptID, a.Slot, err)
		}
		if a.Fields == nil {
			a.Fields = map[string]string{}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAttempt removes the attempt and all its answers.
func (s *SQLStore) DeleteAttempt(ctx context.Context, siteID string, attemptID int64) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM offline_answers WHERE site_id=$1 AND attempt_id=$2`, siteID, attemptID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM offline_attempts WHERE site_id=$1 AND id=$2`, siteID, attemptID)
		return err
	})
}

func (s *SQLStore) DeleteSlotAnswers(ctx context.Context, siteID string, attemptID int64, slot int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_answers WHERE site_id=$1 AND attempt_id=$2 AND slot=$3`,
		siteID, attemptID, slot)
	return err
}

// LastSync returns the zero time when the quiz was never synced.
func (s *SQLStore) LastSync(ctx context.Context, siteID string, quizID int64) (time.Time, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT last_sync FROM quiz_sync_state WHERE site_id=$1 AND quiz_id=$2`,
		siteID, quizID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && ts == 0) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(ts, 0), nil
}

func (s *SQLStore) SetLastSync(ctx context.Context, siteID string, quizID int64, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quiz_sync_state (site_id, quiz_id, last_sync) VALUES ($1,$2,$3)
		ON CONFLICT (site_id, quiz_id) DO UPDATE SET last_sync=EXCLUDED.last_sync`,
		siteID, quizID, t.Unix())
	return err
}

func (s *SQLStore) Warnings(ctx context.Context, siteID string, quizID int64) ([]string, error) {
	var wj string
	err := s.db.QueryRowContext(ctx, `SELECT warnings_json FROM quiz_sync_state WHERE site_id=$1 AND quiz_id=$2`,
		siteID, quizID).Scan(&wj)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal([]byte(wj), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) SetWarnings(ctx context.Context, siteID string, quizID int64, warnings []string) error {
	if warnings == nil {
		warnings = []string{}
	}
	wj, err := json.Marshal(warnings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quiz_sync_state (site_id, quiz_id, warnings_json) VALUES ($1,$2,$3)
		ON CONFLICT (site_id, quiz_id) DO UPDATE SET warnings_json=EXCLUDED.warnings_json`,
		siteID, quizID, string(wj))
	return err
}

func (s *SQLStore) ClearWarnings(ctx context.Context, siteID string, quizID int64) error {
	return s.SetWarnings(ctx, siteID, quizID, nil)
}

// QueueLog records an interaction log to be sent once online.
func (s *SQLStore) QueueLog(ctx context.Context, siteID string, e LogEntry) error {
	if e.TimeCreated == 0 {
		e.TimeCreated = s.now().Unix()
	}
	if e.Data == "" {
		e.Data = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offline_logs (site_id, component, instance_id, action, data, time_created)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		siteID, e.Component, e.InstanceID, e.Action, e.Data, e.TimeCreated)
	return err
}

func (s *SQLStore) PendingLogs(ctx context.Context, siteID, component string, instanceID int64) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, component, instance_id, action, data, time_created
		FROM offline_logs WHERE site_id=$1 AND component=$2 AND instance_id=$3 ORDER BY id`,
		siteID, component, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Component, &e.InstanceID, &e.Action, &e.Data, &e.TimeCreated); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteLogs(ctx context.Context, siteID string, ids []int64) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM offline_logs WHERE site_id=$1 AND id=$2`, siteID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) PreflightValues(ctx context.Context, siteID string, quizID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM preflight_values WHERE site_id=$1 AND quiz_id=$2`,
		siteID, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *SQLStore) SavePreflightValues(ctx context.Context, siteID string, quizID int64, values map[string]string) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for k, v := range values {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO preflight_values (site_id, quiz_id, name, value) VALUES ($1,$2,$3,$4)
				ON CONFLICT (site_id, quiz_id, name) DO UPDATE SET value=EXCLUDED.value`,
				siteID, quizID, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// LastDownload returns the zero time when the module was never downloaded.
func (s *SQLStore) LastDownload(ctx context.Context, siteID string, cmID int64) (time.Time, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT downloaded_at FROM module_downloads WHERE site_id=$1 AND cm_id=$2`,
		siteID, cmID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(ts, 0), nil
}

func (s *SQLStore) SetLastDownload(ctx context.Context, siteID string, cmID int64, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO module_downloads (site_id, cm_id, downloaded_at) VALUES ($1,$2,$3)
		ON CONFLICT (site_id, cm_id) DO UPDATE SET downloaded_at=EXCLUDED.downloaded_at`,
		siteID, cmID, t.Unix())
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
