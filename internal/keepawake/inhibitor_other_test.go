//go:build !darwin

package keepawake

import (
	"context"
	"errors"
	"testing"
)

// TestDefaultAdapterUnsupported verifies platforms without an inhibitor
// path report ErrUnsupported rather than failing some other way.
func TestDefaultAdapterUnsupported(t *testing.T) {
	_, err := NewDefaultAdapter().Acquire(context.Background())
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Acquire error = %v, want ErrUnsupported", err)
	}
}
