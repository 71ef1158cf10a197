// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Manifest holds the attributes of a jar manifest.
type Manifest struct {
	// Main holds the main section's attributes.
	Main map[string]string
	// Sections holds the per-entry sections, keyed by their Name attribute.
	Sections map[string]map[string]string
}

// MainClass returns the internal name of the Main-Class attribute,
// or "" if there is none.
func (m *Manifest) MainClass() string {
	if m == nil {
		return ""
	}
	return strings.ReplaceAll(strings.TrimSpace(m.Main["Main-Class"]), ".", "/")
}

// ParseManifest parses a manifest. Lines may end in CRLF, LF or CR, and a
// line starting with a single space continues the previous one.
func ParseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{
		Main:     make(map[string]string),
		Sections: make(map[string]map[string]string),
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	data = bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, " ") && len(lines) > 0 && lines[len(lines)-1] != "" {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}

	section := m.Main
	inMain := true
	for i, line := range lines {
		if line == "" {
			section = nil
			inMain = false
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || key == "" {
			return nil, fmt.Errorf("line %d: invalid attribute %q", i+1, line)
		}
		value = strings.TrimPrefix(value, " ")
		if section == nil {
			if key != "Name" {
				return nil, fmt.Errorf("line %d: section does not start with Name", i+1)
			}
			section = make(map[string]string)
			m.Sections[value] = section
		}
		if !inMain && key == "Name" {
			continue
		}
		section[key] = value
	}
	return m, nil
}
