// Package memory is the in-process journal sink, used in tests and in
// deployments that run without a database.
package memory

import (
	"sync"

	"github.com/meridian-labs/emissions-engine/pkg/storage"
)

type Sink struct {
	mu     sync.Mutex
	events []*storage.Event
}

func NewSink() *Sink {
	return &Sink{events: make([]*storage.Event, 0)}
}

func (s *Sink) Write(event *storage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything written so far.
func (s *Sink) Events() []*storage.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventsOfKind filters the journal by kind.
func (s *Sink) EventsOfKind(kind storage.EventKind) []*storage.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.Event, 0)
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
