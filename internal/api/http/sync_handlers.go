package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/quizsync/internal/preflight"
	"github.com/mind-engage/quizsync/internal/quiz"
)

func quizParams(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	siteID := chi.URLParam(r, "siteID")
	quizID, err := strconv.ParseInt(chi.URLParam(r, "quizID"), 10, 64)
	if err != nil || quizID <= 0 {
		http.Error(w, "bad quiz id", http.StatusBadRequest)
		return "", 0, false
	}
	return siteID, quizID, true
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}

// GET /sites/{siteID}/quizzes/{quizID}/pending
func PendingHandler(svc Syncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		siteID, quizID, ok := quizParams(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"site_id": siteID,
			"quiz_id": quizID,
			"pending": svc.HasPendingWork(r.Context(), siteID, quizID),
		})
	}
}

// POST /sites/{siteID}/quizzes/{quizID}/sync?courseid=&force=&ask_preflight=
// Body (optional): { "preflight": { "quizpassword": "..." } }
// Without force the sync only runs when the quiz is stale; a skipped sync
// answers 204.
func SyncQuizHandler(svc Syncer, lookup QuizLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		siteID, quizID, ok := quizParams(w, r)
		if !ok {
			return
		}
		qs := r.URL.Query()
		courseID, _ := strconv.ParseInt(qs.Get("courseid"), 10, 64)

		var body struct {
			Preflight map[string]string `json:"preflight"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		if len(body.Preflight) > 0 {
			ctx = preflight.WithValues(ctx, body.Preflight)
		}

		q := quiz.Quiz{ID: quizID, CourseID: courseID}
		if lookup != nil {
			if fetched, err := lookup(ctx, siteID, courseID, quizID); err == nil {
				q = fetched
			}
		}

		ask := parseBool(qs.Get("ask_preflight"))
		if parseBool(qs.Get("force")) {
			res, err := svc.Sync(ctx, q, ask, siteID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
			return
		}
		res, err := svc.SyncIfStale(ctx, q, ask, siteID)
		if err != nil {
			writeError(w, err)
			return
		}
		if res == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// POST /sync?site=&force=
func SyncAllHandler(svc Syncer, sites Sites) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		siteID := strings.TrimSpace(r.URL.Query().Get("site"))
		if siteID != "" && !hasSite(sites, siteID) {
			http.Error(w, "unknown site", http.StatusNotFound)
			return
		}
		if err := svc.SyncAllPending(r.Context(), siteID, parseBool(r.URL.Query().Get("force"))); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// GET /sites/{siteID}/quizzes/{quizID}/warnings
func WarningsHandler(svc Syncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		siteID, quizID, ok := quizParams(w, r)
		if !ok {
			return
		}
		warnings, err := svc.Warnings(r.Context(), siteID, quizID)
		if err != nil {
			writeError(w, err)
			return
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
	}
}

// DELETE /sites/{siteID}/quizzes/{quizID}/warnings
func ClearWarningsHandler(svc Syncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		siteID, quizID, ok := quizParams(w, r)
		if !ok {
			return
		}
		if err := svc.ClearWarnings(r.Context(), siteID, quizID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
