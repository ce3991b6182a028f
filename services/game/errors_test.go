package game

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatching(t *testing.T) {
	wrapped := fmt.Errorf("rfid start: %w", ErrNoActiveSession)

	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{name: "same sentinel", err: ErrTagInUse, target: ErrTagInUse, want: true},
		{name: "class by kind", err: ErrTagInUse, target: ErrConflict, want: true},
		{name: "wrapped class", err: wrapped, target: ErrNotFound, want: true},
		{name: "wrapped reason", err: wrapped, target: ErrNoActiveSession, want: true},
		{name: "sibling reason", err: ErrNoActiveSession, target: ErrNoSessionForTag, want: false},
		{name: "other class", err: ErrNotApproved, target: ErrNotFound, want: false},
		{name: "invalid argument", err: Invalid("bad"), target: ErrInvalidArgument, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Fatalf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.want)
			}
		})
	}
}

func TestKindAndReasonOf(t *testing.T) {
	err := fmt.Errorf("approve: %w", ErrTagInUse)
	if got := KindOf(err); got != KindConflict {
		t.Fatalf("KindOf() = %q, want %q", got, KindConflict)
	}
	if got := ReasonOf(err); got != "rfid_tag_in_use" {
		t.Fatalf("ReasonOf() = %q", got)
	}
	if got := ReasonOf(ErrContention); got != string(KindContention) {
		t.Fatalf("ReasonOf(class) = %q, want kind fallback", got)
	}
	if got := KindOf(errors.New("boom")); got != "" {
		t.Fatalf("KindOf(plain) = %q, want empty", got)
	}
}
