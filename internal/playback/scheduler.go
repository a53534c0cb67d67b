// Package playback schedules decoded model speech back-to-back on a shared
// output clock and supports hard interruption (barge-in).
package playback

import (
	"sync"
	"time"

	"github.com/lexiqai/live-tutor/internal/audio"
)

// Unit is one scheduled buffer. Values handed out by the Scheduler are copies.
type Unit struct {
	ID       uint64
	StartAt  time.Duration // position on the output clock
	Duration time.Duration
	Buffer   *audio.Buffer
}

// End returns the output clock position at which the unit finishes
func (u Unit) End() time.Duration {
	return u.StartAt + u.Duration
}

// Sink renders scheduled units
type Sink interface {
	Play(unit Unit)
	Stop(unit Unit)
}

type dispatch int

const (
	reserved dispatch = iota
	playing
	played
)

type inflight struct {
	unit  Unit
	timer Timer
	state dispatch
	// stopped while the sink was still playing it; Play sends the Stop
	stopped bool
}

// Scheduler is the single owner of the playback cursor and the in-flight set
type Scheduler struct {
	clock      Clock
	sink       Sink
	onComplete func(Unit)

	mu       sync.Mutex
	cursor   time.Duration
	nextID   uint64
	inflight map[uint64]*inflight
}

// NewScheduler creates a scheduler. onComplete runs after a unit finishes
// naturally; it is not called for stopped units.
func NewScheduler(clock Clock, sink Sink, onComplete func(Unit)) *Scheduler {
	if clock == nil {
		clock = NewMonotonicClock()
	}
	return &Scheduler{
		clock:      clock,
		sink:       sink,
		onComplete: onComplete,
		inflight:   make(map[uint64]*inflight),
	}
}

// Schedule queues buf to start at max(cursor, now), advances the cursor
// by its duration and hands the unit to the sink
func (s *Scheduler) Schedule(buf *audio.Buffer) Unit {
	unit := s.Reserve(buf)
	s.Play(unit)
	return unit
}

// Reserve places buf on the timeline like Schedule without rendering it.
// The caller passes the unit to Play once it holds no locks the sink could
// wait on.
func (s *Scheduler) Reserve(buf *audio.Buffer) Unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	start := s.cursor
	if start < now {
		start = now
	}

	s.nextID++
	unit := Unit{
		ID:       s.nextID,
		StartAt:  start,
		Duration: buf.Duration(),
		Buffer:   buf,
	}
	s.cursor = unit.End()

	entry := &inflight{unit: unit}
	s.inflight[unit.ID] = entry
	entry.timer = s.clock.AfterFunc(unit.End()-now, func() {
		s.complete(unit.ID)
	})
	return unit
}

// Play hands a reserved unit to the sink. It reports false when the unit
// was already stopped, completed or played. A unit stopped while the sink is
// still playing it gets its Stop after Play returns.
func (s *Scheduler) Play(unit Unit) bool {
	s.mu.Lock()
	entry, ok := s.inflight[unit.ID]
	if !ok || entry.state != reserved {
		s.mu.Unlock()
		return false
	}
	entry.state = playing
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.Play(entry.unit)
	}

	s.mu.Lock()
	entry.state = played
	stopped := entry.stopped
	s.mu.Unlock()

	if stopped && s.sink != nil {
		s.sink.Stop(entry.unit)
	}
	return true
}

func (s *Scheduler) complete(id uint64) {
	s.mu.Lock()
	entry, ok := s.inflight[id]
	if ok {
		delete(s.inflight, id)
	}
	s.mu.Unlock()

	// Already stopped.
	if !ok {
		return
	}
	if s.onComplete != nil {
		s.onComplete(entry.unit)
	}
}

// StopAll halts every in-flight unit, clears the set and resets the cursor
// to zero. It returns the number of units stopped. Units reserved but not
// yet played never reach the sink.
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	var stopped []Unit
	count := len(s.inflight)
	for id, entry := range s.inflight {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		switch entry.state {
		case playing:
			entry.stopped = true
		case played:
			stopped = append(stopped, entry.unit)
		}
		delete(s.inflight, id)
	}
	s.cursor = 0
	s.mu.Unlock()

	if s.sink != nil {
		for _, unit := range stopped {
			s.sink.Stop(unit)
		}
	}
	return count
}

// InFlight returns the number of scheduled units that have neither
// completed nor been stopped
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Cursor returns the output clock position where the next unit would start
// if the clock has not passed it
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
