package tutor

import (
	"sync"

	"github.com/lexiqai/live-tutor/internal/transcript"
)

// Observer receives fire-and-forget notifications from a Controller.
// Callbacks run without any controller lock held and may call back into
// the controller.
type Observer interface {
	OnStatusChange(update StatusUpdate)
	OnTranscriptionUpdate(item transcript.Item)
	OnAudioLevel(level float64)
}

// ObserverFuncs adapts plain functions to Observer; nil fields are skipped
type ObserverFuncs struct {
	StatusChange        func(StatusUpdate)
	TranscriptionUpdate func(transcript.Item)
	AudioLevel          func(float64)
}

func (o ObserverFuncs) OnStatusChange(update StatusUpdate) {
	if o.StatusChange != nil {
		o.StatusChange(update)
	}
}

func (o ObserverFuncs) OnTranscriptionUpdate(item transcript.Item) {
	if o.TranscriptionUpdate != nil {
		o.TranscriptionUpdate(item)
	}
}

func (o ObserverFuncs) OnAudioLevel(level float64) {
	if o.AudioLevel != nil {
		o.AudioLevel(level)
	}
}

type observerSet struct {
	mu     sync.RWMutex
	nextID int
	items  map[int]Observer
}

func newObserverSet() *observerSet {
	return &observerSet{items: make(map[int]Observer)}
}

func (s *observerSet) add(o Observer) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.items[id] = o
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.items, id)
			s.mu.Unlock()
		})
	}
}

// snapshot returns observers in subscription order
func (s *observerSet) snapshot() []Observer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Observer, 0, len(s.items))
	for id := 0; id < s.nextID; id++ {
		if o, ok := s.items[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

func (s *observerSet) status(u StatusUpdate) {
	for _, o := range s.snapshot() {
		o.OnStatusChange(u)
	}
}

func (s *observerSet) transcript(item transcript.Item) {
	for _, o := range s.snapshot() {
		o.OnTranscriptionUpdate(item)
	}
}

func (s *observerSet) level(l float64) {
	for _, o := range s.snapshot() {
		o.OnAudioLevel(l)
	}
}
