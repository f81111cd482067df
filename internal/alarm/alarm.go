// Package alarm provides named, absolute-time deferred wake-ups. Delivery is
// at-least-once: a fire may race a Clear, so consumers must re-validate
// current state before acting on one.
package alarm

import (
	"log"
	"sync"
	"time"
)

// Fire is the intent produced when a named alarm goes off. It carries no
// payload beyond the name; handlers re-read persisted state instead of
// trusting the timer.
type Fire struct {
	Name string
	At   time.Time
}

type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	fires  chan Fire
	done   chan struct{}
	closed bool

	now func() time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		fires:  make(chan Fire, 32),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Fires returns the channel on which alarm intents are delivered.
func (s *Scheduler) Fires() <-chan Fire {
	return s.fires
}

// Schedule arms an alarm for the given instant. Scheduling an already-armed
// name replaces the pending alarm, so overlapping wake-ups for the same
// logical event collapse into one.
func (s *Scheduler) Schedule(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.timers[name]; ok {
		old.Stop()
		log.Printf("Alarm %q rescheduled for %s", name, at.Format(time.Kitchen))
	} else {
		log.Printf("Alarm %q set for %s", name, at.Format(time.Kitchen))
	}

	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.timers[name] = time.AfterFunc(delay, func() {
		s.fire(name, at)
	})
}

func (s *Scheduler) fire(name string, at time.Time) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, name)
	s.mu.Unlock()
	// The consumer may be gone at shutdown; never strand the timer
	// goroutine on a full buffer.
	select {
	case s.fires <- Fire{Name: name, At: at}:
	case <-s.done:
	}
}

// Clear disarms the named alarm if pending. A fire already in flight may
// still be delivered.
func (s *Scheduler) Clear(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
		log.Printf("Alarm %q cleared", name)
	}
}

// ClearAll disarms every pending alarm.
func (s *Scheduler) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
}

// Pending reports whether the named alarm is armed.
func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}

// Stop disarms everything and prevents further delivery.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
}
