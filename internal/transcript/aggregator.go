// Package transcript accumulates streamed transcription fragments per speaker
// and emits finished utterances at turn boundaries.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies which side of the conversation produced text
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Item is one finished utterance. Items are never modified after Flush returns them.
type Item struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Aggregator holds one accumulator per speaker
type Aggregator struct {
	mu    sync.Mutex
	user  strings.Builder
	model strings.Builder
	now   func() time.Time
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// Append concatenates a fragment onto the speaker's accumulator.
// Unknown speakers are ignored.
func (a *Aggregator) Append(speaker Speaker, fragment string) {
	if fragment == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch speaker {
	case SpeakerUser:
		a.user.WriteString(fragment)
	case SpeakerModel:
		a.model.WriteString(fragment)
	}
}

// Flush emits one item per speaker with non-blank text, user first, and
// clears both accumulators in the same critical section
func (a *Aggregator) Flush() []Item {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := a.now()
	var items []Item
	for _, acc := range []struct {
		speaker Speaker
		buf     *strings.Builder
	}{
		{SpeakerUser, &a.user},
		{SpeakerModel, &a.model},
	} {
		text := acc.buf.String()
		acc.buf.Reset()
		if strings.TrimSpace(text) == "" {
			continue
		}
		items = append(items, Item{
			ID:        uuid.NewString(),
			Speaker:   acc.speaker,
			Text:      text,
			Timestamp: ts,
		})
	}
	return items
}

// DiscardModel drops the unfinished model turn after an interruption
func (a *Aggregator) DiscardModel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model.Reset()
}

// Reset clears both accumulators
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.Reset()
	a.model.Reset()
}
