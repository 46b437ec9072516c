//go:build darwin

package keepawake

import (
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

var batteryPercentRe = regexp.MustCompile(`(\d+)%`)

// NewDefaultPowerProvider returns the macOS power provider, which reads
// pmset. The daemon uses it to warn when keep-awake will drain a
// battery.
func NewDefaultPowerProvider() PowerProvider {
	return darwinPowerProvider{}
}

type darwinPowerProvider struct{}

func (darwinPowerProvider) Snapshot() PowerSnapshot {
	out, err := exec.Command("pmset", "-g", "batt").Output()
	if err != nil {
		return PowerSnapshot{}
	}
	return parsePowerOutput(string(out))
}

// parsePowerOutput reads the power source and charge out of
// `pmset -g batt` output. Unrecognized output yields unknowns.
func parsePowerOutput(output string) PowerSnapshot {
	var snap PowerSnapshot

	switch {
	case strings.Contains(output, "'Battery Power'"):
		snap.OnBattery = boolPtr(true)
		snap.ExternalPower = boolPtr(false)
	case strings.Contains(output, "'AC Power'"):
		snap.OnBattery = boolPtr(false)
		snap.ExternalPower = boolPtr(true)
	}

	if m := batteryPercentRe.FindStringSubmatch(output); len(m) == 2 {
		if pct, err := strconv.Atoi(m[1]); err == nil && pct <= 100 {
			snap.BatteryPercent = &pct
		}
	}

	return snap
}

func boolPtr(v bool) *bool {
	return &v
}
