package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AutoSynced is emitted after a background sync changed a quiz's state.
const AutoSynced = "quiz.autosynced"

type Event struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	SiteID  string    `json:"site_id"`
	Payload any       `json:"payload"`
	Time    time.Time `json:"time"`
}

// AutoSyncedPayload is the payload of AutoSynced.
type AutoSyncedPayload struct {
	QuizID          int64    `json:"quiz_id"`
	AttemptFinished bool     `json:"attempt_finished"`
	Warnings        []string `json:"warnings"`
}

// Bus delivers events to observers. Emit never blocks on slow observers and
// never reports delivery.
type Bus interface {
	Emit(ctx context.Context, name string, payload any, siteID string)
}

func newEvent(name string, payload any, siteID string) Event {
	return Event{ID: uuid.New(), Name: name, SiteID: siteID, Payload: payload, Time: time.Now()}
}

// Memory fans events out to in-process subscribers.
type Memory struct {
	mu   sync.Mutex
	subs map[int]chan Event
	seq  int
}

func NewMemory() *Memory { return &Memory{subs: map[int]chan Event{}} }

// Subscribe returns a buffered channel of events and a cancel func.
// Events are dropped for a subscriber whose buffer is full.
func (m *Memory) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	m.mu.Lock()
	id := m.seq
	m.seq++
	m.subs[id] = ch
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
		m.mu.Unlock()
	}
}

func (m *Memory) Emit(_ context.Context, name string, payload any, siteID string) {
	ev := newEvent(name, payload, siteID)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Multi emits to every bus in order.
type Multi []Bus

func (m Multi) Emit(ctx context.Context, name string, payload any, siteID string) {
	for _, b := range m {
		if b != nil {
			b.Emit(ctx, name, payload, siteID)
		}
	}
}
