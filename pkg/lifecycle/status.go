// Package lifecycle tracks the onboarding phase of each device.
//
// A device moves from NEWBORN through the SRP handshake and an optional
// platform test to DONE. From DONE it may fall to NO_CONFIG or CONFIGURING
// when its provisioning configuration drifts, or to DED when it stops
// answering keepalive probes. A new handshake restarts the cycle from any
// phase.
package lifecycle

import (
	"fmt"
	"strings"
)

// Status is the lifecycle phase of a device.
type Status uint8

const (
	// StatusNewborn is a registered device that never completed a handshake.
	StatusNewborn Status = iota

	// StatusSRP is a device in the middle of an SRP handshake.
	StatusSRP

	// StatusTesting is a device whose platform connection is being tested.
	StatusTesting

	// StatusConfiguring is a device waiting for a new configuration.
	StatusConfiguring

	// StatusDone is a fully onboarded device.
	StatusDone

	// StatusNoConfig is an onboarded device without any configuration.
	StatusNoConfig

	// StatusDed is a device that stopped answering keepalive probes.
	StatusDed
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{
	StatusNewborn,
	StatusSRP,
	StatusTesting,
	StatusConfiguring,
	StatusDone,
	StatusNoConfig,
	StatusDed,
}

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusNewborn:
		return "NEWBORN"
	case StatusSRP:
		return "SRP"
	case StatusTesting:
		return "TESTING"
	case StatusConfiguring:
		return "CONFIGURING"
	case StatusDone:
		return "DONE"
	case StatusNoConfig:
		return "NO_CONFIG"
	case StatusDed:
		return "DED"
	default:
		return "UNKNOWN"
	}
}

// Code returns the persisted form, e.g. "STATUS_DONE".
func (s Status) Code() string {
	return "STATUS_" + s.String()
}

// ParseStatus accepts both the name and the persisted code.
func ParseStatus(s string) (Status, error) {
	name := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "STATUS_")
	for _, st := range AllStatuses {
		if st.String() == name {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// Description is the operator-facing summary of a status.
type Description struct {
	Provision string
	Network   string
	Security  string
}

// Describe returns the operator-facing summary of the status.
func (s Status) Describe() Description {
	switch s {
	case StatusConfiguring, StatusTesting:
		return Description{"Provisioning", "Online", "D2C protected"}
	case StatusSRP:
		return Description{"Provisioning", "Connecting", "Securing connection"}
	case StatusDone:
		return Description{"Working", "Online", "D2C protected"}
	case StatusNoConfig:
		return Description{"Disabled", "Online", "D2C protected"}
	default:
		return Description{"Disabled", "Offline", "Not protected"}
	}
}

// Monitored reports whether the keepalive sweep probes devices in this status.
func (s Status) Monitored() bool {
	return s == StatusDone || s == StatusNoConfig
}

var transitions = map[Status][]Status{
	StatusNewborn:     {StatusSRP},
	StatusSRP:         {StatusSRP, StatusTesting, StatusDone},
	StatusTesting:     {StatusSRP, StatusTesting, StatusDone},
	StatusConfiguring: {StatusSRP, StatusConfiguring, StatusDone, StatusNoConfig},
	StatusDone:        {StatusSRP, StatusDone, StatusConfiguring, StatusNoConfig, StatusDed},
	StatusNoConfig:    {StatusSRP, StatusNoConfig, StatusDone, StatusConfiguring, StatusDed},
	StatusDed:         {StatusSRP},
}

// CanTransition reports whether a device may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MarshalText encodes the status as its persisted code.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.Code()), nil
}

// UnmarshalText accepts anything ParseStatus accepts.
func (s *Status) UnmarshalText(b []byte) error {
	st, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}
