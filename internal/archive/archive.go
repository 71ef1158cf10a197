// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

// Package archive reads and writes jar files.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"
)

// ManifestName is the path of the manifest inside a jar.
const ManifestName = "META-INF/MANIFEST.MF"

// Archive is an open jar file.
type Archive struct {
	rc *zip.ReadCloser
	// Files lists the entries in their original order.
	Files []*zip.File
}

// Open opens the jar at path.
func Open(path string) (*Archive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	return &Archive{rc: rc, Files: rc.File}, nil
}

func (a *Archive) Close() error { return a.rc.Close() }

// Lookup returns the entry with the given path, or nil.
func (a *Archive) Lookup(name string) *zip.File {
	for _, f := range a.Files {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Manifest parses the jar's manifest. It returns nil without error if the
// jar has none.
func (a *Archive) Manifest() (*Manifest, error) {
	f := a.Lookup(ManifestName)
	if f == nil {
		return nil, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ManifestName, err)
	}
	defer rc.Close()
	m, err := ParseManifest(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ManifestName, err)
	}
	return m, nil
}

// ReadFile returns the uncompressed contents of an entry.
func ReadFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	return data, nil
}

// IsClass reports whether an entry holds a class, judging by its path.
func IsClass(f *zip.File) bool {
	return !f.FileInfo().IsDir() && strings.HasSuffix(f.Name, ".class")
}

// ClassEntryName returns the path of the entry holding the class with the
// given internal name.
func ClassEntryName(internalName string) string {
	return internalName + ".class"
}
