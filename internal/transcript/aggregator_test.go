package transcript

import (
	"testing"
	"time"
)

func TestAggregator_FlushConcatenatesFragments(t *testing.T) {
	a := NewAggregator()
	a.Append(SpeakerUser, "Hel")
	a.Append(SpeakerUser, "lo")

	items := a.Flush()
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	if items[0].Speaker != SpeakerUser {
		t.Errorf("Expected speaker user, got %s", items[0].Speaker)
	}
	if items[0].Text != "Hello" {
		t.Errorf("Expected text 'Hello', got '%s'", items[0].Text)
	}
	if items[0].ID == "" {
		t.Error("Expected item ID to be set")
	}
}

func TestAggregator_WhitespaceOnlyEmitsNothing(t *testing.T) {
	a := NewAggregator()
	a.Append(SpeakerUser, " ")
	a.Append(SpeakerUser, "\n\t")
	a.Append(SpeakerModel, "  ")

	if items := a.Flush(); len(items) != 0 {
		t.Errorf("Expected no items, got %d", len(items))
	}

	a.Append(SpeakerUser, "Hi")
	items := a.Flush()
	if len(items) != 1 || items[0].Text != "Hi" {
		t.Errorf("Expected whitespace accumulator to be cleared, got %+v", items)
	}
}

func TestAggregator_UserBeforeModel(t *testing.T) {
	a := NewAggregator()
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	a.Append(SpeakerModel, "¡Hola!")
	a.Append(SpeakerUser, "Hi")
	a.Append(SpeakerModel, " ¿Qué tal?")

	items := a.Flush()
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].Speaker != SpeakerUser || items[1].Speaker != SpeakerModel {
		t.Errorf("Expected user then model, got %s then %s", items[0].Speaker, items[1].Speaker)
	}
	if items[1].Text != "¡Hola! ¿Qué tal?" {
		t.Errorf("Unexpected model text '%s'", items[1].Text)
	}
	if !items[0].Timestamp.Equal(fixed) {
		t.Errorf("Expected timestamp %v, got %v", fixed, items[0].Timestamp)
	}
	if items[0].ID == items[1].ID {
		t.Error("Expected distinct item IDs")
	}
}

func TestAggregator_FlushClears(t *testing.T) {
	a := NewAggregator()
	a.Append(SpeakerUser, "one")
	a.Flush()

	a.Append(SpeakerUser, "two")
	items := a.Flush()
	if len(items) != 1 || items[0].Text != "two" {
		t.Errorf("Expected only 'two' after flush, got %+v", items)
	}
}

func TestAggregator_DiscardModel(t *testing.T) {
	a := NewAggregator()
	a.Append(SpeakerUser, "Wait")
	a.Append(SpeakerModel, "As I was say")

	a.DiscardModel()

	items := a.Flush()
	if len(items) != 1 || items[0].Speaker != SpeakerUser {
		t.Errorf("Expected only the user item, got %+v", items)
	}
}

func TestAggregator_Reset(t *testing.T) {
	a := NewAggregator()
	a.Append(SpeakerUser, "a")
	a.Append(SpeakerModel, "b")
	a.Reset()

	if items := a.Flush(); len(items) != 0 {
		t.Errorf("Expected no items after reset, got %d", len(items))
	}
}

func TestAggregator_UnknownSpeakerIgnored(t *testing.T) {
	a := NewAggregator()
	a.Append(Speaker("narrator"), "ignored")
	if items := a.Flush(); len(items) != 0 {
		t.Errorf("Expected no items, got %d", len(items))
	}
}
