package domain

import (
	"errors"
	"testing"
)

func TestTyping_NextCycles(t *testing.T) {
	got := []Typing{TypingNone}
	for range 3 {
		got = append(got, got[len(got)-1].Next())
	}
	want := []Typing{TypingNone, TypingUser, TypingAI, TypingNone}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseTyping(t *testing.T) {
	tests := []struct {
		in   string
		want Typing
		ok   bool
	}{
		{"", TypingNone, true},
		{"none", TypingNone, true},
		{"user", TypingUser, true},
		{"ai", TypingAI, true},
		{"staff", TypingNone, false},
	}
	for _, tt := range tests {
		got, err := ParseTyping(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseTyping(%q) err = %v", tt.in, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidValue) {
			t.Errorf("ParseTyping(%q) err = %v, want ErrInvalidValue", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseTyping(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeliveryStatus_Before(t *testing.T) {
	if !StatusSent.Before(StatusDelivered) || !StatusDelivered.Before(StatusRead) {
		t.Error("lifecycle should run sent -> delivered -> read")
	}
	if StatusDelivered.Before(StatusSent) || StatusRead.Before(StatusRead) {
		t.Error("status must not move backwards")
	}
}

func TestParseTag(t *testing.T) {
	for _, tag := range Tags() {
		if got, err := ParseTag(string(tag)); err != nil || got != tag {
			t.Errorf("ParseTag(%q) = %q, %v", tag, got, err)
		}
	}
	if _, err := ParseTag("archived"); !errors.Is(err, ErrUnknownTag) {
		t.Errorf("ParseTag(archived) err = %v, want ErrUnknownTag", err)
	}
}

func TestParseViewStatus(t *testing.T) {
	if s, err := ParseViewStatus("resolved"); err != nil || s != ViewResolved {
		t.Errorf("ParseViewStatus(resolved) = %q, %v", s, err)
	}
	if _, err := ParseViewStatus("urgent"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("urgent is a list status, not a view status: err = %v", err)
	}
}

func TestConversationStatus_Valid(t *testing.T) {
	for _, s := range []ConversationStatus{ConversationActive, ConversationWaiting, ConversationEscalated, ConversationUrgent} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if ConversationStatus("resolved").Valid() {
		t.Error("resolved is not a list status")
	}
}
