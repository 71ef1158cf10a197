// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-quicktest/qt"
)

type testEntry struct {
	name   string
	data   string
	method uint16
}

func writeJar(t *testing.T, path string, entries []testEntry) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.name,
			Method:   e.method,
			Modified: time.Date(2020, 1, 2, 3, 4, 6, 0, time.UTC),
		})
		qt.Assert(t, qt.IsNil(err))
		_, err = io.WriteString(fw, e.data)
		qt.Assert(t, qt.IsNil(err))
	}
	qt.Assert(t, qt.IsNil(zw.Close()))
	qt.Assert(t, qt.IsNil(os.WriteFile(path, buf.Bytes(), 0o666)))
}

func TestParseManifest(t *testing.T) {
	const manifest = "Manifest-Version: 1.0\r\n" +
		"Main-Class: a.b.Ma\r\n" +
		" in\r\n" +
		"Created-By: test\r\n" +
		"\r\n" +
		"Name: a/b/Main.class\r\n" +
		"Sealed: true\r\n" +
		"\r\n"
	m, err := ParseManifest(strings.NewReader(manifest))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(m.MainClass(), "a/b/Main"))
	qt.Assert(t, qt.DeepEquals(m.Main, map[string]string{
		"Manifest-Version": "1.0",
		"Main-Class":       "a.b.Main",
		"Created-By":       "test",
	}))
	qt.Assert(t, qt.DeepEquals(m.Sections, map[string]map[string]string{
		"a/b/Main.class": {"Sealed": "true"},
	}))

	m, err = ParseManifest(strings.NewReader("Manifest-Version: 1.0\n"))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(m.MainClass(), ""))

	_, err = ParseManifest(strings.NewReader("Manifest-Version: 1.0\nnot an attribute\n"))
	qt.Assert(t, qt.ErrorMatches(err, `line 2: invalid attribute "not an attribute"`))

	_, err = ParseManifest(strings.NewReader("Manifest-Version: 1.0\n\nSealed: true\n"))
	qt.Assert(t, qt.ErrorMatches(err, `line 3: section does not start with Name`))

	var missing *Manifest
	qt.Assert(t, qt.Equals(missing.MainClass(), ""))
}

func TestFilter(t *testing.T) {
	tests := []struct {
		patterns []string
		path     string
		want     bool
	}{
		{nil, "c/D.class", true},
		{[]string{"a.b.*"}, "a/b/E.class", true},
		{[]string{"a.b.*"}, "c/D.class", false},
		{[]string{"a.b.*"}, "a/bE.class", false},
		{[]string{"a.b.*"}, "x/a/b/E.class", false},
		{[]string{"*.Main.class"}, "a/b/Main.class", true},
		{[]string{"c.*", "a.b.*"}, "c/D.class", true},
		{[]string{"a+b.*"}, "a+b/C.class", true},
		{[]string{"a+b.*"}, "aab/C.class", false},
	}
	for _, test := range tests {
		f, err := NewFilter(test.patterns)
		qt.Assert(t, qt.IsNil(err))
		qt.Check(t, qt.Equals(f.Match(test.path), test.want), qt.Commentf("%q on %s", test.patterns, test.path))
	}
	_, err := NewFilter([]string{""})
	qt.Assert(t, qt.ErrorMatches(err, `empty include pattern`))
}

func TestCopyAndReplace(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.jar")
	writeJar(t, in, []testEntry{
		{ManifestName, "Manifest-Version: 1.0\nMain-Class: a.b.Main\n\n", zip.Deflate},
		{"a/", "", zip.Store},
		{"a/b/Main.class", "original class", zip.Store},
		{"c/D.class", strings.Repeat("compressible ", 100), zip.Deflate},
		{"readme.txt", "hello", zip.Deflate},
	})

	a, err := Open(in)
	qt.Assert(t, qt.IsNil(err))
	defer a.Close()
	m, err := a.Manifest()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(m.MainClass(), "a/b/Main"))
	qt.Assert(t, qt.IsNotNil(a.Lookup(ClassEntryName("c/D"))))
	qt.Assert(t, qt.IsNil(a.Lookup("c/E.class")))

	var classes []string
	for _, f := range a.Files {
		if IsClass(f) {
			classes = append(classes, f.Name)
		}
	}
	qt.Assert(t, qt.DeepEquals(classes, []string{"a/b/Main.class", "c/D.class"}))

	out := filepath.Join(dir, "out.jar")
	modified := time.Date(2021, 5, 6, 7, 8, 10, 0, time.UTC)
	err = WriteFile(out, 0o644, func(w io.Writer) error {
		jw := NewWriter(w)
		for _, f := range a.Files {
			if f.Name == "a/b/Main.class" {
				if err := jw.Replace(f, []byte("rewritten class")); err != nil {
					return err
				}
				continue
			}
			if err := jw.Copy(f); err != nil {
				return err
			}
		}
		if err := jw.Add("x/Owner.class", []byte("new class"), modified); err != nil {
			return err
		}
		return jw.Close()
	})
	qt.Assert(t, qt.IsNil(err))

	b, err := Open(out)
	qt.Assert(t, qt.IsNil(err))
	defer b.Close()
	qt.Assert(t, qt.HasLen(b.Files, len(a.Files)+1))
	for i, f := range a.Files {
		g := b.Files[i]
		qt.Assert(t, qt.Equals(g.Name, f.Name))
		qt.Assert(t, qt.Equals(g.Method, f.Method))
		data, err := ReadFile(g)
		qt.Assert(t, qt.IsNil(err))
		if f.Name == "a/b/Main.class" {
			qt.Assert(t, qt.Equals(string(data), "rewritten class"))
			continue
		}
		qt.Assert(t, qt.Equals(g.CRC32, f.CRC32))
		qt.Assert(t, qt.Equals(g.CompressedSize64, f.CompressedSize64))
		want, err := ReadFile(f)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.DeepEquals(data, want))
	}
	added := b.Files[len(a.Files)]
	qt.Assert(t, qt.Equals(added.Name, "x/Owner.class"))
	qt.Assert(t, qt.IsTrue(added.Modified.Equal(modified)))
}

func TestManifestMissing(t *testing.T) {
	in := filepath.Join(t.TempDir(), "in.jar")
	writeJar(t, in, []testEntry{{"a/B.class", "x", zip.Store}})
	a, err := Open(in)
	qt.Assert(t, qt.IsNil(err))
	defer a.Close()
	m, err := a.Manifest()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsNil(m))
	qt.Assert(t, qt.Equals(m.MainClass(), ""))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.class")
	qt.Assert(t, qt.IsNil(os.WriteFile(path, []byte("old"), 0o644)))

	errFail := errors.New("stage failed")
	err := WriteFile(path, 0o644, func(w io.Writer) error {
		io.WriteString(w, "partial")
		return errFail
	})
	qt.Assert(t, qt.ErrorIs(err, errFail))
	data, err := os.ReadFile(path)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(string(data), "old"))
	entries, err := os.ReadDir(dir)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.HasLen(entries, 1))

	err = WriteFile(path, 0o644, func(w io.Writer) error {
		_, err := io.WriteString(w, "new")
		return err
	})
	qt.Assert(t, qt.IsNil(err))
	data, err = os.ReadFile(path)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(string(data), "new"))
	entries, err = os.ReadDir(dir)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.HasLen(entries, 1))
}
