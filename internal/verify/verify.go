// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

// Package verify re-reads written classes with a second class file reader,
// separate from the one the passes use, catching encoder bugs before they
// reach a JVM.
package verify

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MalformedError reports a class that failed verification.
type MalformedError struct {
	Class string
	Err   error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed output class %s: %v", e.Class, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Class parses data and checks that it declares the class wantName, given
// in internal form, and that every method which needs a body has one.
func Class(data []byte, wantName string) error {
	if err := check(data, wantName); err != nil {
		return &MalformedError{Class: wantName, Err: err}
	}
	return nil
}

const (
	accNative   = 0x0100
	accAbstract = 0x0400
)

// entry is a constant pool slot. Only the parts checked here are kept.
type entry struct {
	tag  uint8
	utf8 string
	ref  uint16 // name_index of a CONSTANT_Class
}

type reader struct {
	r    *bytes.Reader
	pool []entry
}

func (r *reader) read(v any) error {
	return binary.Read(r.r, binary.BigEndian, v)
}

func (r *reader) u2() (uint16, error) {
	var v uint16
	err := r.read(&v)
	return v, err
}

func (r *reader) skip(n int64) error {
	if int64(r.r.Len()) < n {
		return io.ErrUnexpectedEOF
	}
	_, err := r.r.Seek(n, io.SeekCurrent)
	return err
}

func (r *reader) utf8(index uint16) (string, error) {
	if int(index) >= len(r.pool) || r.pool[index].tag != 1 {
		return "", fmt.Errorf("constant %d is not a Utf8", index)
	}
	return r.pool[index].utf8, nil
}

func (r *reader) className(index uint16) (string, error) {
	if int(index) >= len(r.pool) || r.pool[index].tag != 7 {
		return "", fmt.Errorf("constant %d is not a Class", index)
	}
	return r.utf8(r.pool[index].ref)
}

// constantSizes is the payload size of every fixed-size constant tag.
var constantSizes = map[uint8]int64{
	3: 4, 4: 4, 5: 8, 6: 8, // Integer, Float, Long, Double
	8: 2, 16: 2, 19: 2, 20: 2, // String, MethodType, Module, Package
	9: 4, 10: 4, 11: 4, 12: 4, 17: 4, 18: 4, // refs, NameAndType, Dynamic, InvokeDynamic
	15: 3, // MethodHandle
}

func (r *reader) readPool() error {
	count, err := r.u2()
	if err != nil {
		return fmt.Errorf("reading constant pool count: %w", err)
	}
	r.pool = make([]entry, count)
	for i := 1; i < int(count); i++ {
		var tag uint8
		if err := r.read(&tag); err != nil {
			return fmt.Errorf("reading constant %d: %w", i, err)
		}
		r.pool[i].tag = tag
		switch tag {
		case 1:
			n, err := r.u2()
			if err != nil {
				return fmt.Errorf("reading constant %d: %w", i, err)
			}
			buf := make([]byte, n)
			if _, err := io.ReadFull(r.r, buf); err != nil {
				return fmt.Errorf("reading constant %d: %w", i, err)
			}
			r.pool[i].utf8 = string(buf)
		case 7:
			if r.pool[i].ref, err = r.u2(); err != nil {
				return fmt.Errorf("reading constant %d: %w", i, err)
			}
		default:
			size, ok := constantSizes[tag]
			if !ok {
				return fmt.Errorf("constant %d has unknown tag %d", i, tag)
			}
			if err := r.skip(size); err != nil {
				return fmt.Errorf("reading constant %d: %w", i, err)
			}
			if tag == 5 || tag == 6 {
				i++ // longs and doubles take two slots
			}
		}
	}
	return nil
}

// skipAttributes skips an attribute table, returning the body of the Code
// attribute if there is one.
func (r *reader) skipAttributes() (code []byte, err error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	for range count {
		nameIndex, err := r.u2()
		if err != nil {
			return nil, err
		}
		var length uint32
		if err := r.read(&length); err != nil {
			return nil, err
		}
		name, err := r.utf8(nameIndex)
		if err != nil {
			return nil, err
		}
		if int64(r.r.Len()) < int64(length) {
			return nil, fmt.Errorf("attribute %s: %w", name, io.ErrUnexpectedEOF)
		}
		body := make([]byte, length)
		io.ReadFull(r.r, body)
		if name == "Code" {
			if code != nil {
				return nil, fmt.Errorf("two Code attributes")
			}
			code = body
		}
	}
	return code, nil
}

// checkCode checks that a Code attribute body is exactly as long as its
// parts say, and returns its code length.
func checkCode(body []byte) (uint32, error) {
	r := &reader{r: bytes.NewReader(body)}
	var header struct {
		MaxStack, MaxLocals uint16
		CodeLength          uint32
	}
	if err := r.read(&header); err != nil {
		return 0, err
	}
	if err := r.skip(int64(header.CodeLength)); err != nil {
		return 0, err
	}
	handlers, err := r.u2()
	if err != nil {
		return 0, err
	}
	if err := r.skip(8 * int64(handlers)); err != nil {
		return 0, err
	}
	attrs, err := r.u2()
	if err != nil {
		return 0, err
	}
	for range attrs {
		var attr struct {
			NameIndex uint16
			Length    uint32
		}
		if err := r.read(&attr); err != nil {
			return 0, err
		}
		if err := r.skip(int64(attr.Length)); err != nil {
			return 0, err
		}
	}
	if r.r.Len() != 0 {
		return 0, fmt.Errorf("%d stray bytes after Code attribute", r.r.Len())
	}
	return header.CodeLength, nil
}

func check(data []byte, wantName string) error {
	r := &reader{r: bytes.NewReader(data)}
	var header struct {
		Magic        uint32
		Minor, Major uint16
	}
	if err := r.read(&header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if header.Magic != 0xCAFEBABE {
		return fmt.Errorf("invalid magic number 0x%X", header.Magic)
	}
	if err := r.readPool(); err != nil {
		return err
	}

	var class struct {
		AccessFlags, ThisClass, SuperClass, Interfaces uint16
	}
	if err := r.read(&class); err != nil {
		return fmt.Errorf("reading class header: %w", err)
	}
	name, err := r.className(class.ThisClass)
	if err != nil {
		return err
	}
	if name != wantName {
		return fmt.Errorf("declares class %s", name)
	}
	if err := r.skip(2 * int64(class.Interfaces)); err != nil {
		return fmt.Errorf("reading interfaces: %w", err)
	}

	fields, err := r.u2()
	if err != nil {
		return fmt.Errorf("reading fields count: %w", err)
	}
	for i := range fields {
		if err := r.skip(6); err != nil {
			return fmt.Errorf("reading field %d: %w", i, err)
		}
		if _, err := r.skipAttributes(); err != nil {
			return fmt.Errorf("reading field %d: %w", i, err)
		}
	}

	methods, err := r.u2()
	if err != nil {
		return fmt.Errorf("reading methods count: %w", err)
	}
	for i := range methods {
		var m struct {
			AccessFlags, NameIndex, DescriptorIndex uint16
		}
		if err := r.read(&m); err != nil {
			return fmt.Errorf("reading method %d: %w", i, err)
		}
		mname, err := r.utf8(m.NameIndex)
		if err != nil {
			return fmt.Errorf("method %d: %w", i, err)
		}
		desc, err := r.utf8(m.DescriptorIndex)
		if err != nil {
			return fmt.Errorf("method %s: %w", mname, err)
		}
		code, err := r.skipAttributes()
		if err != nil {
			return fmt.Errorf("method %s%s: %w", mname, desc, err)
		}
		bodiless := m.AccessFlags&(accNative|accAbstract) != 0
		switch {
		case bodiless && code != nil:
			return fmt.Errorf("method %s%s: unexpected Code attribute", mname, desc)
		case !bodiless && code == nil:
			return fmt.Errorf("method %s%s: missing Code attribute", mname, desc)
		case code != nil:
			length, err := checkCode(code)
			if err != nil {
				return fmt.Errorf("method %s%s: %w", mname, desc, err)
			}
			if length == 0 {
				return fmt.Errorf("method %s%s: empty code", mname, desc)
			}
		}
	}

	if _, err := r.skipAttributes(); err != nil {
		return fmt.Errorf("reading class attributes: %w", err)
	}
	if r.r.Len() != 0 {
		return fmt.Errorf("%d stray bytes after the class", r.r.Len())
	}
	return nil
}
