// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package classfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the first four bytes of every class file.
const Magic = 0xCAFEBABE

// IsClass reports whether data starts with the class file magic number.
func IsClass(data []byte) bool {
	return len(data) >= 4 && binary.BigEndian.Uint32(data) == Magic
}

// ParseBytes decodes a class file held in memory.
func ParseBytes(data []byte) (*ClassFile, error) {
	return Parse(bytes.NewReader(data))
}

// Parse reads a .class file from the given reader and returns a ClassFile.
func Parse(r io.Reader) (*ClassFile, error) {
	if _, ok := r.(io.ByteReader); !ok {
		r = bufio.NewReader(r)
	}
	cf := &ClassFile{}

	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("reading magic number: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	if err := binary.Read(r, binary.BigEndian, &cf.MinorVersion); err != nil {
		return nil, fmt.Errorf("reading minor version: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cf.MajorVersion); err != nil {
		return nil, fmt.Errorf("reading major version: %w", err)
	}

	var cpCount uint16
	if err := binary.Read(r, binary.BigEndian, &cpCount); err != nil {
		return nil, fmt.Errorf("reading constant pool count: %w", err)
	}
	pool, err := parseConstantPool(r, cpCount)
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	cf.Pool = pool

	if err := binary.Read(r, binary.BigEndian, &cf.AccessFlags); err != nil {
		return nil, fmt.Errorf("reading access flags: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cf.ThisClass); err != nil {
		return nil, fmt.Errorf("reading this_class: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cf.SuperClass); err != nil {
		return nil, fmt.Errorf("reading super_class: %w", err)
	}

	var interfacesCount uint16
	if err := binary.Read(r, binary.BigEndian, &interfacesCount); err != nil {
		return nil, fmt.Errorf("reading interfaces count: %w", err)
	}
	cf.Interfaces = make([]uint16, interfacesCount)
	if err := binary.Read(r, binary.BigEndian, cf.Interfaces); err != nil {
		return nil, fmt.Errorf("reading interfaces: %w", err)
	}

	if cf.Fields, err = parseMembers(r, pool, "field"); err != nil {
		return nil, fmt.Errorf("parsing fields: %w", err)
	}
	if cf.Methods, err = parseMembers(r, pool, "method"); err != nil {
		return nil, fmt.Errorf("parsing methods: %w", err)
	}

	var attrCount uint16
	if err := binary.Read(r, binary.BigEndian, &attrCount); err != nil {
		return nil, fmt.Errorf("reading class attributes count: %w", err)
	}
	if cf.Attributes, err = parseAttributes(r, pool, attrCount); err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}
	return cf, nil
}

func parseMembers(r io.Reader, pool *ConstantPool, kind string) ([]*Member, error) {
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("reading %ss count: %w", kind, err)
	}
	members := make([]*Member, count)
	for i := range members {
		var header struct {
			AccessFlags, NameIndex, DescIndex, AttrCount uint16
		}
		if err := binary.Read(r, binary.BigEndian, &header); err != nil {
			return nil, fmt.Errorf("reading %s %d header: %w", kind, i, err)
		}
		name, err := pool.Utf8(header.NameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving %s %d name: %w", kind, i, err)
		}
		desc, err := pool.Utf8(header.DescIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving %s %d descriptor: %w", kind, i, err)
		}
		attrs, err := parseAttributes(r, pool, header.AttrCount)
		if err != nil {
			return nil, fmt.Errorf("parsing %s %s attributes: %w", kind, name, err)
		}
		members[i] = &Member{
			AccessFlags: header.AccessFlags,
			Name:        name,
			Descriptor:  desc,
			Attributes:  attrs,
		}
	}
	return members, nil
}

func parseAttributes(r io.Reader, pool *ConstantPool, count uint16) ([]Attribute, error) {
	attrs := make([]Attribute, count)
	for i := range attrs {
		var header struct {
			NameIndex uint16
			Length    uint32
		}
		if err := binary.Read(r, binary.BigEndian, &header); err != nil {
			return nil, fmt.Errorf("reading attribute %d header: %w", i, err)
		}
		name, err := pool.Utf8(header.NameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}
		data := make([]byte, header.Length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("reading attribute %s data: %w", name, err)
		}
		attrs[i] = Attribute{Name: name, Data: data}
	}
	return attrs, nil
}

// Encode serializes the class file.
// Attribute names and member names are interned into the pool as needed.
func (cf *ClassFile) Encode() ([]byte, error) {
	// Intern every name first, so that the pool is final before it is written.
	type memberIndices struct{ name, desc uint16 }
	fieldIdx := make([]memberIndices, len(cf.Fields))
	for i, f := range cf.Fields {
		fieldIdx[i] = memberIndices{cf.Pool.AddUtf8(f.Name), cf.Pool.AddUtf8(f.Descriptor)}
		internAttributeNames(cf.Pool, f.Attributes)
	}
	methodIdx := make([]memberIndices, len(cf.Methods))
	for i, m := range cf.Methods {
		methodIdx[i] = memberIndices{cf.Pool.AddUtf8(m.Name), cf.Pool.AddUtf8(m.Descriptor)}
		internAttributeNames(cf.Pool, m.Attributes)
	}
	internAttributeNames(cf.Pool, cf.Attributes)

	w := &writer{}
	w.u4(Magic)
	w.u2(cf.MinorVersion)
	w.u2(cf.MajorVersion)
	if err := cf.Pool.encode(w); err != nil {
		return nil, err
	}
	w.u2(cf.AccessFlags)
	w.u2(cf.ThisClass)
	w.u2(cf.SuperClass)
	w.u2(uint16(len(cf.Interfaces)))
	for _, iface := range cf.Interfaces {
		w.u2(iface)
	}

	for _, members := range []struct {
		list []*Member
		idx  []memberIndices
	}{{cf.Fields, fieldIdx}, {cf.Methods, methodIdx}} {
		w.u2(uint16(len(members.list)))
		for i, m := range members.list {
			w.u2(m.AccessFlags)
			w.u2(members.idx[i].name)
			w.u2(members.idx[i].desc)
			encodeAttributes(w, cf.Pool, m.Attributes)
		}
	}
	encodeAttributes(w, cf.Pool, cf.Attributes)
	return w.buf, nil
}

func internAttributeNames(pool *ConstantPool, attrs []Attribute) {
	for _, a := range attrs {
		pool.AddUtf8(a.Name)
	}
}

// encodeAttributes expects every attribute name to be interned already.
func encodeAttributes(w *writer, pool *ConstantPool, attrs []Attribute) {
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		w.u2(pool.AddUtf8(a.Name))
		w.u4(uint32(len(a.Data)))
		w.bytes(a.Data)
	}
}
