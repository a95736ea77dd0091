package drivemaps

import (
	"regexp"
	"strconv"
)

// DefaultVersion is the initial counter value (user half 1, machine half 1)
// published when the policy carries no readable version yet.
const DefaultVersion uint32 = 0x00010001

var versionPattern = regexp.MustCompile(`(?i)version=(\d+)`)

// ParseVersion extracts the current counter value from GPT.INI text. The
// second result is false when no parseable Version assignment is present.
func ParseVersion(metadataText string) (uint32, bool) {
	m := versionPattern.FindStringSubmatch(metadataText)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// NextVersion computes the value to publish. Without existing metadata the
// default is published as-is; otherwise the user-facing half of the packed
// counter is incremented and the machine half carried over unchanged. The
// user half wraps at 16 bits so the packed layout stays stable; endpoints
// compare versions for inequality, so a wrap still triggers reapplication.
func NextVersion(metadataText string) uint32 {
	current, ok := ParseVersion(metadataText)
	if !ok {
		return DefaultVersion
	}
	machine := current >> 16
	user := (current&0xFFFF + 1) & 0xFFFF
	return machine<<16 | user
}
