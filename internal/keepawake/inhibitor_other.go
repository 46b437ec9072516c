//go:build !darwin

package keepawake

import (
	"context"
	"fmt"
)

// NewDefaultAdapter returns an adapter that degrades cleanly on
// platforms without an inhibitor path.
func NewDefaultAdapter() Adapter {
	return unsupportedAdapter{}
}

type unsupportedAdapter struct{}

func (unsupportedAdapter) Acquire(ctx context.Context) (Handle, error) {
	return nil, fmt.Errorf("%w on this platform", ErrUnsupported)
}
