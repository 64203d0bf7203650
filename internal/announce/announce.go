// Package announce keeps the user informed that a recording is in progress,
// the desktop equivalent of a persistent foreground notification.
package announce

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Snapshot is what the announcer currently shows.
type Snapshot struct {
	Active bool      `json:"active"`
	Label  string    `json:"label"`
	Since  time.Time `json:"since"`
}

// Status records the announcement and logs every change. It also carries
// the stop action offered to the user while a session is announced.
type Status struct {
	log *zap.Logger
	now func() time.Time

	mu      sync.Mutex
	current Snapshot
	onStop  func()
	subs    map[int]chan Snapshot
	nextSub int
}

// New creates an inactive announcer.
func New(logger *zap.Logger) *Status {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Status{
		log:  logger,
		now:  time.Now,
		subs: make(map[int]chan Snapshot),
	}
}

// Announce shows or clears the recording announcement.
func (s *Status) Announce(active bool, label string) {
	s.mu.Lock()
	snap := Snapshot{Active: active, Label: label, Since: s.now()}
	s.current = snap
	subs := make([]chan Snapshot, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	if active {
		s.log.Info("announce", zap.String("label", label))
	} else {
		s.log.Info("announce cleared", zap.String("label", label))
	}

	for _, ch := range subs {
		// drop stale value; subscribers only care about the latest
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Current returns the latest announcement.
func (s *Status) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetStopAction registers the action run by RequestStop.
func (s *Status) SetStopAction(fn func()) {
	s.mu.Lock()
	s.onStop = fn
	s.mu.Unlock()
}

// RequestStop runs the stop action if a session is announced. It reports
// whether an action ran.
func (s *Status) RequestStop() bool {
	s.mu.Lock()
	fn := s.onStop
	active := s.current.Active
	s.mu.Unlock()

	if !active || fn == nil {
		return false
	}
	fn()
	return true
}

// Subscribe returns a channel receiving the latest announcement after each
// change, and a function to cancel the subscription.
func (s *Status) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
