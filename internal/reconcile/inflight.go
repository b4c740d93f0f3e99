package reconcile

import (
	"sync"

	"github.com/mind-engage/quizsync/internal/quiz"
)

type call struct {
	done    chan struct{}
	res     quiz.SyncResult
	err     error
	waiters int
}

// inflight shares one running sync per key among every caller that arrives
// while it runs. The entry is removed once, when the sync completes.
type inflight struct {
	mu    sync.Mutex
	calls map[string]*call
}

func newInflight() *inflight { return &inflight{calls: map[string]*call{}} }

func (f *inflight) do(key string, fn func() (quiz.SyncResult, error)) (quiz.SyncResult, error) {
	f.mu.Lock()
	if c, ok := f.calls[key]; ok {
		c.waiters++
		f.mu.Unlock()
		<-c.done
		return c.res, c.err
	}
	c := &call{done: make(chan struct{}), waiters: 1}
	f.calls[key] = c
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.calls, key)
		f.mu.Unlock()
		close(c.done)
	}()
	c.res, c.err = fn()
	return c.res, c.err
}

// waiters returns how many callers share the running call for key.
func (f *inflight) waiters(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.calls[key]; ok {
		return c.waiters
	}
	return 0
}
