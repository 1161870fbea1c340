package store

import (
	"fmt"
	"testing"
)

// Compile-time checks that the interface is importable and usable.
func TestSlotStoreInterfaceExists(t *testing.T) {
	_ = ErrDuplicateTransaction
	_ = ErrSlotAlreadyClaimed
	_ = CreateSlotParams{}

	var _ SlotStore
}

func TestIsContention(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrConcurrentModification, true},
		{ErrSlotLocked, true},
		{fmt.Errorf("apply accrual: %w", ErrSlotLocked), true},
		{ErrSlotNotFound, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsContention(tt.err); got != tt.want {
			t.Errorf("IsContention(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
