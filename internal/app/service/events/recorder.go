package events

import (
	"context"
	"sync"

	"github.com/stepun/botoracle/pkg/types"
)

// Recorded is one event captured by a Recorder.
type Recorded struct {
	UserID int64
	Type   types.EventType
	Meta   map[string]any
}

// Recorder is a synchronous in-memory Emitter for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func (r *Recorder) Emit(_ context.Context, userID int64, typ types.EventType, meta map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{UserID: userID, Type: typ, Meta: meta})
}

func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Count returns how many events of typ were emitted.
func (r *Recorder) Count(typ types.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}
