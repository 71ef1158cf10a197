// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package archive

import (
	"archive/zip"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Writer writes a jar entry by entry.
type Writer struct {
	zw *zip.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{zw: zip.NewWriter(w)}
}

// Copy writes an entry exactly as it is stored in its source archive,
// without recompressing it.
func (w *Writer) Copy(f *zip.File) error {
	if err := w.zw.Copy(f); err != nil {
		return fmt.Errorf("copying %s: %w", f.Name, err)
	}
	return nil
}

// Replace writes new contents for an entry, keeping its name, compression
// method, modification time and attributes.
func (w *Writer) Replace(f *zip.File, data []byte) error {
	return w.create(&zip.FileHeader{
		Name:           f.Name,
		Comment:        f.Comment,
		Method:         f.Method,
		Modified:       f.Modified,
		ModifiedTime:   f.ModifiedTime,
		ModifiedDate:   f.ModifiedDate,
		CreatorVersion: f.CreatorVersion,
		ExternalAttrs:  f.ExternalAttrs,
	}, data)
}

// Add writes a new deflated entry.
func (w *Writer) Add(name string, data []byte, modified time.Time) error {
	return w.create(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified}, data)
}

// create writes stored entries raw, as some jar readers refuse stored
// entries followed by a data descriptor.
func (w *Writer) create(fh *zip.FileHeader, data []byte) error {
	var fw io.Writer
	var err error
	if fh.Method == zip.Store {
		fh.CRC32 = crc32.ChecksumIEEE(data)
		fh.CompressedSize64 = uint64(len(data))
		fh.UncompressedSize64 = uint64(len(data))
		fw, err = w.zw.CreateRaw(fh)
	} else {
		fw, err = w.zw.CreateHeader(fh)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", fh.Name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", fh.Name, err)
	}
	return nil
}

// Close finishes the central directory. It does not close the underlying
// writer.
func (w *Writer) Close() error { return w.zw.Close() }

// WriteFile writes a file through fn, so that path is only replaced once fn
// and every write succeeded. On failure, any existing file at path is left
// untouched.
func WriteFile(path string, perm os.FileMode, fn func(w io.Writer) error) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()
	if err := fn(f); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
