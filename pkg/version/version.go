// Package version provides gateway protocol version parsing and comparison.
//
// The protocol major version selects the crypto envelope suite: major 1 is
// the suite deployed firmware speaks, major 2 is its SHA-256 successor.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the protocol version devices speak by default.
const Current = "1.0"

// Latest is the newest protocol version this gateway implements.
const Latest = "2.0"

// ProtocolVersion represents a parsed "major.minor" protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (ProtocolVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return ProtocolVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ProtocolVersion {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Supported reports whether this gateway implements the major version.
func (v ProtocolVersion) Supported() bool {
	for _, major := range SupportedMajors() {
		if v.Major == major {
			return true
		}
	}
	return false
}

// SupportedMajors returns every major version from Current to Latest.
func SupportedMajors() []uint16 {
	lo := MustParse(Current).Major
	hi := MustParse(Latest).Major
	majors := make([]uint16, 0, hi-lo+1)
	for m := lo; m <= hi; m++ {
		majors = append(majors, m)
	}
	return majors
}
