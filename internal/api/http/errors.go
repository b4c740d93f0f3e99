package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mind-engage/quizsync/internal/reconcile"
	"github.com/mind-engage/quizsync/internal/remote"
	"github.com/mind-engage/quizsync/internal/site"
)

func statusOf(err error) int {
	var re *remote.Error
	switch {
	case errors.Is(err, reconcile.ErrSyncBlocked):
		return http.StatusConflict
	case errors.Is(err, reconcile.ErrCannotConnect):
		return http.StatusServiceUnavailable
	case errors.Is(err, reconcile.ErrPreflightRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, site.ErrUnknownSite):
		return http.StatusNotFound
	case errors.As(err, &re):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	var re *remote.Error
	if errors.As(err, &re) && re.Code != "" {
		body["errorcode"] = re.Code
	}
	writeJSON(w, statusOf(err), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
