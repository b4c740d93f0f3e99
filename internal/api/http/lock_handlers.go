package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mind-engage/quizsync/internal/lock"
	"github.com/mind-engage/quizsync/internal/reconcile"
)

// POST /sites/{siteID}/quizzes/{quizID}/lock   { "ttl_seconds": 600 }
// Blocks background sync of the quiz while the player edits it offline.
func BlockHandler(locks lock.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		siteID, quizID, ok := quizParams(w, r)
		if !ok {
			return
		}
		var body struct {
			TTLSeconds int `json:"ttl_seconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if body.TTLSeconds < 0 {
			http.Error(w, "ttl_seconds must not be negative", http.StatusBadRequest)
			return
		}
		ttl := time.Duration(body.TTLSeconds) * time.Second
		if err := locks.Block(r.Context(), reconcile.Component, strconv.FormatInt(quizID, 10), siteID, ttl); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DELETE /sites/{siteID}/quizzes/{quizID}/lock
func UnblockHandler(locks lock.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		siteID, quizID, ok := quizParams(w, r)
		if !ok {
			return
		}
		if err := locks.Unblock(r.Context(), reconcile.Component, strconv.FormatInt(quizID, 10), siteID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
