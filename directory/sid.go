package directory

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// SIDFromBytes converts a binary objectSid attribute value into its
// S-<revision>-<authority>-<subauthorities...> string form.
func SIDFromBytes(b []byte) (string, error) {
	if len(b) < 8 {
		return "", fmt.Errorf("sid too short: %d bytes", len(b))
	}
	revision := b[0]
	count := int(b[1])
	if len(b) != 8+4*count {
		return "", fmt.Errorf("sid length %d does not match %d subauthorities", len(b), count)
	}
	// 48-bit big-endian identifier authority.
	var authority uint64
	for _, octet := range b[2:8] {
		authority = authority<<8 | uint64(octet)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "S-%d-%d", revision, authority)
	for i := 0; i < count; i++ {
		fmt.Fprintf(&sb, "-%d", binary.LittleEndian.Uint32(b[8+4*i:]))
	}
	return sb.String(), nil
}
