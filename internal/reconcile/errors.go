package reconcile

import (
	"errors"

	"github.com/mind-engage/quizsync/internal/preflight"
)

var (
	// ErrSyncBlocked means another operation holds the quiz lock.
	ErrSyncBlocked = errors.New("sync blocked: quiz is being used")
	// ErrCannotConnect means the site is not reachable.
	ErrCannotConnect = errors.New("cannot connect to site")
	// ErrPreflightRequired is returned when the quiz needs preflight data.
	ErrPreflightRequired = preflight.ErrPreflightRequired
)

const (
	WarnAttemptFinishedOnline = "Offline attempt discarded as it was finished on the site or not found."
	WarnDataDiscarded         = "Some offline answers were discarded because the questions were modified online."
	WarnDataDiscardedFinished = "Attempt not finished because some offline answers were discarded. Please review your answers and finish the attempt again."
)

func outcomeOf(err error, updated bool) string {
	switch {
	case err == nil && updated:
		return "updated"
	case err == nil:
		return "noop"
	case errors.Is(err, ErrSyncBlocked):
		return "blocked"
	case errors.Is(err, ErrCannotConnect):
		return "offline"
	case errors.Is(err, ErrPreflightRequired):
		return "preflight"
	default:
		return "error"
	}
}
