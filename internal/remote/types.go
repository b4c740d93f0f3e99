package remote

import (
	"fmt"
	"strings"
	"time"

	"github.com/mind-engage/quizsync/internal/quiz"
)

// Error is a non-2xx reply from the remote site, carried verbatim.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"errorcode"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code == "" && e.Message == "" {
		return fmt.Sprintf("remote: http %d", e.Status)
	}
	return fmt.Sprintf("remote: http %d: %s: %s", e.Status, e.Code, e.Message)
}

// ReadOpts controls how reads interact with the cache.
type ReadOpts struct {
	Fresh bool // bypass the cache and read from the network
}

type ContentUpdates struct {
	Updated bool     `json:"updated"`
	Areas   []string `json:"areas"`
}

// FilesChanged reports whether any file area of the module changed. File
// areas are the ones named "files" or ending in "files" (introfiles,
// contentfiles).
func (u ContentUpdates) FilesChanged() bool {
	for _, a := range u.Areas {
		if strings.HasSuffix(a, "files") {
			return true
		}
	}
	return false
}

type ModuleFile struct {
	Path         string `json:"path"`
	URL          string `json:"url"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimetype"`
	TimeModified int64  `json:"timemodified"`
}

type LogEntry struct {
	Action string    `json:"action"`
	Data   string    `json:"data"`
	Time   time.Time `json:"time"`
}

type attemptWire struct {
	ID           int64             `json:"id"`
	QuizID       int64             `json:"quiz"`
	UserID       int64             `json:"userid"`
	State        quiz.AttemptState `json:"state"`
	CurrentPage  int               `json:"currentpage"`
	Layout       string            `json:"layout"`
	TimeModified int64             `json:"timemodified"`
}

func (w attemptWire) toAttempt() quiz.Attempt {
	return quiz.Attempt{
		ID: w.ID, QuizID: w.QuizID, UserID: w.UserID, State: w.State,
		CurrentPage: w.CurrentPage, Layout: quiz.ParseLayout(w.Layout), TimeModified: w.TimeModified,
	}
}
