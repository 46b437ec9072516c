//go:build !darwin

package keepawake

// NewDefaultPowerProvider returns a provider that reports an unknown
// power state on platforms without a pmset equivalent wired up.
func NewDefaultPowerProvider() PowerProvider {
	return unknownPowerProvider{}
}

type unknownPowerProvider struct{}

func (unknownPowerProvider) Snapshot() PowerSnapshot {
	return PowerSnapshot{}
}
