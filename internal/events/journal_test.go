package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mind-engage/quizsync/internal/db"
)

func TestJournal_SinceFiltersBySiteAndOffset(t *testing.T) {
	ctx := context.Background()
	h, err := db.Open(ctx, db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	j := NewJournal(h, nil)
	j.Emit(ctx, AutoSynced, AutoSyncedPayload{QuizID: 1}, "site-1")
	j.Emit(ctx, AutoSynced, AutoSyncedPayload{QuizID: 2}, "site-2")
	j.Emit(ctx, AutoSynced, AutoSyncedPayload{QuizID: 3, AttemptFinished: true}, "site-1")

	all, err := j.Since(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	site1, err := j.Since(ctx, "site-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, site1, 2)

	rest, err := j.Since(ctx, "site-1", site1[0].Offset, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, AutoSynced, rest[0].Name)

	var p AutoSyncedPayload
	require.NoError(t, json.Unmarshal(rest[0].Payload.(json.RawMessage), &p))
	require.Equal(t, int64(3), p.QuizID)
	require.True(t, p.AttemptFinished)

	n, err := j.Prune(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}
