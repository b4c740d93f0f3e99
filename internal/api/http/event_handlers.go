package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/mind-engage/quizsync/internal/events"
)

type EventLog interface {
	Since(ctx context.Context, siteID string, after int64, limit int) ([]events.Entry, error)
}

// GET /events/log?site=&after=&limit=
func EventLogHandler(j EventLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs := r.URL.Query()
		after, _ := strconv.ParseInt(qs.Get("after"), 10, 64)
		limit, _ := strconv.Atoi(qs.Get("limit"))
		entries, err := j.Since(r.Context(), strings.TrimSpace(qs.Get("site")), after, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		next := after
		if n := len(entries); n > 0 {
			next = entries[n-1].Offset
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": entries, "next": next})
	}
}
