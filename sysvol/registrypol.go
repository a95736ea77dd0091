package sysvol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf16"
)

// Registry.pol carries a single machine setting: EnableLinkedConnections,
// without which mapped drives of elevated processes do not see the user's
// mappings.
const (
	linkedConnectionsKey   = `SOFTWARE\Microsoft\Windows\CurrentVersion\Policies\System`
	linkedConnectionsValue = "EnableLinkedConnections"

	regDWORD = 4
)

var pregHeader = []byte{'P', 'R', 'e', 'g', 1, 0, 0, 0}

// EnsureLinkedConnections makes sure the policy's Registry.pol sets
// EnableLinkedConnections to 1. It reports whether the file was written, so
// the caller knows to announce the machine extension on the policy object.
func (s *Store) EnsureLinkedConnections(guid string) (bool, error) {
	path := s.registryPolPath(guid)
	if !s.isWithin(path) {
		return false, fmt.Errorf("path %s escapes the store root", path)
	}

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("could not read %s: %w", path, err)
	}
	if len(existing) >= len(pregHeader) {
		if !bytes.Equal(existing[:4], pregHeader[:4]) {
			return false, fmt.Errorf("file %s is not a registry policy file", path)
		}
		for _, name := range registryValueNames(existing) {
			if strings.EqualFold(name, linkedConnectionsValue) {
				return false, nil
			}
		}
	} else {
		existing = append([]byte(nil), pregHeader...)
	}

	content := append(existing, pregRecord(linkedConnectionsKey, linkedConnectionsValue, regDWORD, []byte{1, 0, 0, 0})...)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("could not create folder for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return false, fmt.Errorf("could not write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, fmt.Errorf("could not write %s: %w", path, err)
	}
	return true, nil
}

// pregRecord encodes one [key;value;type;size;data] record. Brackets,
// semicolons, and both strings are UTF-16LE; type and size are raw little
// endian dwords.
func pregRecord(key, value string, valueType uint32, data []byte) []byte {
	var b bytes.Buffer
	writeUTF16 := func(s string) {
		for _, unit := range utf16.Encode([]rune(s)) {
			binary.Write(&b, binary.LittleEndian, unit)
		}
	}
	writeUTF16("[")
	writeUTF16(key)
	writeUTF16("\x00;")
	writeUTF16(value)
	writeUTF16("\x00;")
	binary.Write(&b, binary.LittleEndian, valueType)
	writeUTF16(";")
	binary.Write(&b, binary.LittleEndian, uint32(len(data)))
	writeUTF16(";")
	b.Write(data)
	writeUTF16("]")
	return b.Bytes()
}

// registryValueNames walks the records of a registry policy file and
// returns the value names. Truncated trailing records are ignored.
func registryValueNames(content []byte) []string {
	var names []string
	i := len(pregHeader)
	unit := func() (uint16, bool) {
		if i+2 > len(content) {
			return 0, false
		}
		u := binary.LittleEndian.Uint16(content[i:])
		i += 2
		return u, true
	}
	readString := func() (string, bool) {
		var units []uint16
		for {
			u, ok := unit()
			if !ok {
				return "", false
			}
			if u == 0 {
				return string(utf16.Decode(units)), true
			}
			units = append(units, u)
		}
	}
	expect := func(r rune) bool {
		u, ok := unit()
		return ok && u == uint16(r)
	}
	for i < len(content) {
		if !expect('[') {
			return names
		}
		if _, ok := readString(); !ok {
			return names
		}
		if !expect(';') {
			return names
		}
		name, ok := readString()
		if !ok {
			return names
		}
		if !expect(';') || i+4 > len(content) {
			return names
		}
		i += 4
		if !expect(';') || i+4 > len(content) {
			return names
		}
		size := int(binary.LittleEndian.Uint32(content[i:]))
		i += 4
		if !expect(';') || i+size > len(content) {
			return names
		}
		i += size
		if !expect(']') {
			return names
		}
		names = append(names, name)
	}
	return names
}
