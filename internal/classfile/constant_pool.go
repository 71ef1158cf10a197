// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// Method handle reference kinds.
const (
	RefGetField         = 1
	RefGetStatic        = 2
	RefPutField         = 3
	RefPutStatic        = 4
	RefInvokeVirtual    = 5
	RefInvokeStatic     = 6
	RefInvokeSpecial    = 7
	RefNewInvokeSpecial = 8
	RefInvokeInterface  = 9
)

// Constant is implemented by every constant pool entry.
type Constant interface {
	Tag() uint8
}

type ConstantUtf8 struct {
	// Value holds the modified UTF-8 bytes as they appear in the class file.
	Value string
}

func (c *ConstantUtf8) Tag() uint8 { return TagUtf8 }

type ConstantInteger struct {
	Value int32
}

func (c *ConstantInteger) Tag() uint8 { return TagInteger }

// ConstantFloat keeps the raw IEEE bits so that NaN payloads survive a
// round trip.
type ConstantFloat struct {
	Bits uint32
}

func (c *ConstantFloat) Tag() uint8     { return TagFloat }
func (c *ConstantFloat) Value() float32 { return math.Float32frombits(c.Bits) }

type ConstantLong struct {
	Value int64
}

func (c *ConstantLong) Tag() uint8 { return TagLong }

type ConstantDouble struct {
	Bits uint64
}

func (c *ConstantDouble) Tag() uint8     { return TagDouble }
func (c *ConstantDouble) Value() float64 { return math.Float64frombits(c.Bits) }

type ConstantClass struct {
	NameIndex uint16
}

func (c *ConstantClass) Tag() uint8 { return TagClass }

type ConstantString struct {
	StringIndex uint16
}

func (c *ConstantString) Tag() uint8 { return TagString }

// ConstantRef is a Fieldref, Methodref or InterfaceMethodref.
type ConstantRef struct {
	Kind             uint8
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantRef) Tag() uint8 { return c.Kind }

type ConstantNameAndType struct {
	NameIndex       uint16
	DescriptorIndex uint16
}

func (c *ConstantNameAndType) Tag() uint8 { return TagNameAndType }

type ConstantMethodHandle struct {
	ReferenceKind  uint8
	ReferenceIndex uint16
}

func (c *ConstantMethodHandle) Tag() uint8 { return TagMethodHandle }

type ConstantMethodType struct {
	DescriptorIndex uint16
}

func (c *ConstantMethodType) Tag() uint8 { return TagMethodType }

// ConstantDynamic is a Dynamic or InvokeDynamic entry.
type ConstantDynamic struct {
	Kind             uint8
	BootstrapIndex   uint16
	NameAndTypeIndex uint16
}

func (c *ConstantDynamic) Tag() uint8 { return c.Kind }

// ConstantNamed is a Module or Package entry.
type ConstantNamed struct {
	Kind      uint8
	NameIndex uint16
}

func (c *ConstantNamed) Tag() uint8 { return c.Kind }

// errPoolOverflow is reported by Encode when interning pushed the pool past
// the 65535 entries a class file can address.
var errPoolOverflow = errors.New("constant pool exceeds 65535 entries")

// ConstantPool is the 1-indexed constant pool of a class.
// Index 0 and the slot following each long or double entry are nil.
//
// Entries are only ever appended, so indices held by untouched bytecode stay
// valid while passes intern new constants.
type ConstantPool struct {
	entries  []Constant
	lookup   map[string]uint16
	overflow bool
}

// NewConstantPool returns an empty pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{entries: []Constant{nil}}
}

// Count is the constant_pool_count value: one more than the highest index.
func (p *ConstantPool) Count() int { return len(p.entries) }

// Get returns the entry at index i.
func (p *ConstantPool) Get(i uint16) (Constant, error) {
	if i == 0 || int(i) >= len(p.entries) || p.entries[i] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", i)
	}
	return p.entries[i], nil
}

// Utf8 resolves a CONSTANT_Utf8 entry.
func (p *ConstantPool) Utf8(i uint16) (string, error) {
	c, err := p.Get(i)
	if err != nil {
		return "", err
	}
	u, ok := c.(*ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("constant pool index %d: expected Utf8, got tag %d", i, c.Tag())
	}
	return u.Value, nil
}

// ClassName resolves a CONSTANT_Class entry to its internal name.
func (p *ConstantPool) ClassName(i uint16) (string, error) {
	c, err := p.Get(i)
	if err != nil {
		return "", err
	}
	cls, ok := c.(*ConstantClass)
	if !ok {
		return "", fmt.Errorf("constant pool index %d: expected Class, got tag %d", i, c.Tag())
	}
	return p.Utf8(cls.NameIndex)
}

// NameAndType resolves a CONSTANT_NameAndType entry.
func (p *ConstantPool) NameAndType(i uint16) (name, desc string, err error) {
	c, err := p.Get(i)
	if err != nil {
		return "", "", err
	}
	nat, ok := c.(*ConstantNameAndType)
	if !ok {
		return "", "", fmt.Errorf("constant pool index %d: expected NameAndType, got tag %d", i, c.Tag())
	}
	if name, err = p.Utf8(nat.NameIndex); err != nil {
		return "", "", err
	}
	if desc, err = p.Utf8(nat.DescriptorIndex); err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// MemberRef resolves a Fieldref, Methodref or InterfaceMethodref entry.
func (p *ConstantPool) MemberRef(i uint16) (ref MemberRef, err error) {
	c, err := p.Get(i)
	if err != nil {
		return ref, err
	}
	r, ok := c.(*ConstantRef)
	if !ok {
		return ref, fmt.Errorf("constant pool index %d: expected member reference, got tag %d", i, c.Tag())
	}
	ref.Interface = r.Kind == TagInterfaceMethodref
	if ref.Owner, err = p.ClassName(r.ClassIndex); err != nil {
		return ref, err
	}
	if ref.Name, ref.Descriptor, err = p.NameAndType(r.NameAndTypeIndex); err != nil {
		return ref, err
	}
	return ref, nil
}

// MemberRef is a resolved field or method reference.
type MemberRef struct {
	Owner      string
	Name       string
	Descriptor string
	Interface  bool
}

func constantKey(c Constant) string {
	switch c := c.(type) {
	case *ConstantUtf8:
		return "\x01" + c.Value
	case *ConstantInteger:
		return fmt.Sprintf("\x03%d", c.Value)
	case *ConstantFloat:
		return fmt.Sprintf("\x04%d", c.Bits)
	case *ConstantLong:
		return fmt.Sprintf("\x05%d", c.Value)
	case *ConstantDouble:
		return fmt.Sprintf("\x06%d", c.Bits)
	case *ConstantClass:
		return fmt.Sprintf("\x07%d", c.NameIndex)
	case *ConstantString:
		return fmt.Sprintf("\x08%d", c.StringIndex)
	case *ConstantRef:
		return fmt.Sprintf("%c%d.%d", c.Kind, c.ClassIndex, c.NameAndTypeIndex)
	case *ConstantNameAndType:
		return fmt.Sprintf("\x0c%d.%d", c.NameIndex, c.DescriptorIndex)
	case *ConstantMethodHandle:
		return fmt.Sprintf("\x0f%d.%d", c.ReferenceKind, c.ReferenceIndex)
	case *ConstantMethodType:
		return fmt.Sprintf("\x10%d", c.DescriptorIndex)
	case *ConstantDynamic:
		return fmt.Sprintf("%c%d.%d", c.Kind, c.BootstrapIndex, c.NameAndTypeIndex)
	case *ConstantNamed:
		return fmt.Sprintf("%c%d", c.Kind, c.NameIndex)
	}
	panic(fmt.Sprintf("unexpected constant %T", c))
}

// intern returns the index of an entry equal to c, appending c if none exists.
func (p *ConstantPool) intern(c Constant) uint16 {
	if p.lookup == nil {
		p.lookup = make(map[string]uint16, len(p.entries))
		for i, e := range p.entries {
			if e == nil {
				continue
			}
			key := constantKey(e)
			if _, ok := p.lookup[key]; !ok {
				p.lookup[key] = uint16(i)
			}
		}
	}
	key := constantKey(c)
	if i, ok := p.lookup[key]; ok {
		return i
	}
	i := len(p.entries)
	p.entries = append(p.entries, c)
	if c.Tag() == TagLong || c.Tag() == TagDouble {
		p.entries = append(p.entries, nil)
	}
	if len(p.entries) > math.MaxUint16 {
		p.overflow = true
		return 0
	}
	p.lookup[key] = uint16(i)
	return uint16(i)
}

func (p *ConstantPool) AddUtf8(s string) uint16 {
	return p.intern(&ConstantUtf8{Value: s})
}

func (p *ConstantPool) AddClass(name string) uint16 {
	return p.intern(&ConstantClass{NameIndex: p.AddUtf8(name)})
}

func (p *ConstantPool) AddString(s string) uint16 {
	return p.intern(&ConstantString{StringIndex: p.AddUtf8(s)})
}

func (p *ConstantPool) AddNameAndType(name, desc string) uint16 {
	return p.intern(&ConstantNameAndType{
		NameIndex:       p.AddUtf8(name),
		DescriptorIndex: p.AddUtf8(desc),
	})
}

// AddRef interns a member reference of the given kind
// (TagFieldref, TagMethodref or TagInterfaceMethodref).
func (p *ConstantPool) AddRef(kind uint8, owner, name, desc string) uint16 {
	return p.intern(&ConstantRef{
		Kind:             kind,
		ClassIndex:       p.AddClass(owner),
		NameAndTypeIndex: p.AddNameAndType(name, desc),
	})
}

func (p *ConstantPool) AddMethodHandle(refKind uint8, refIndex uint16) uint16 {
	return p.intern(&ConstantMethodHandle{ReferenceKind: refKind, ReferenceIndex: refIndex})
}

func (p *ConstantPool) AddInvokeDynamic(bootstrapIndex uint16, name, desc string) uint16 {
	return p.intern(&ConstantDynamic{
		Kind:             TagInvokeDynamic,
		BootstrapIndex:   bootstrapIndex,
		NameAndTypeIndex: p.AddNameAndType(name, desc),
	})
}

// parseConstantPool reads constant_pool_count-1 entries from the reader.
func parseConstantPool(r io.Reader, count uint16) (*ConstantPool, error) {
	if count == 0 {
		return nil, fmt.Errorf("constant pool count is zero")
	}
	pool := &ConstantPool{entries: make([]Constant, count)}

	var buf [8]byte
	u1 := func() (uint8, error) {
		_, err := io.ReadFull(r, buf[:1])
		return buf[0], err
	}
	u2 := func() (uint16, error) {
		_, err := io.ReadFull(r, buf[:2])
		return binary.BigEndian.Uint16(buf[:2]), err
	}
	u4 := func() (uint32, error) {
		_, err := io.ReadFull(r, buf[:4])
		return binary.BigEndian.Uint32(buf[:4]), err
	}
	u8 := func() (uint64, error) {
		_, err := io.ReadFull(r, buf[:8])
		return binary.BigEndian.Uint64(buf[:8]), err
	}
	twoU2 := func() (a, b uint16, err error) {
		if a, err = u2(); err != nil {
			return 0, 0, err
		}
		b, err = u2()
		return a, b, err
	}

	for i := uint16(1); i < count; i++ {
		tag, err := u1()
		if err != nil {
			return nil, fmt.Errorf("reading constant pool tag at index %d: %w", i, err)
		}

		var c Constant
		switch tag {
		case TagUtf8:
			var length uint16
			if length, err = u2(); err == nil {
				data := make([]byte, length)
				_, err = io.ReadFull(r, data)
				c = &ConstantUtf8{Value: string(data)}
			}
		case TagInteger:
			var v uint32
			v, err = u4()
			c = &ConstantInteger{Value: int32(v)}
		case TagFloat:
			var v uint32
			v, err = u4()
			c = &ConstantFloat{Bits: v}
		case TagLong:
			var v uint64
			v, err = u8()
			c = &ConstantLong{Value: int64(v)}
		case TagDouble:
			var v uint64
			v, err = u8()
			c = &ConstantDouble{Bits: v}
		case TagClass:
			var v uint16
			v, err = u2()
			c = &ConstantClass{NameIndex: v}
		case TagString:
			var v uint16
			v, err = u2()
			c = &ConstantString{StringIndex: v}
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			var a, b uint16
			a, b, err = twoU2()
			c = &ConstantRef{Kind: tag, ClassIndex: a, NameAndTypeIndex: b}
		case TagNameAndType:
			var a, b uint16
			a, b, err = twoU2()
			c = &ConstantNameAndType{NameIndex: a, DescriptorIndex: b}
		case TagMethodHandle:
			var kind uint8
			var ref uint16
			if kind, err = u1(); err == nil {
				ref, err = u2()
			}
			c = &ConstantMethodHandle{ReferenceKind: kind, ReferenceIndex: ref}
		case TagMethodType:
			var v uint16
			v, err = u2()
			c = &ConstantMethodType{DescriptorIndex: v}
		case TagDynamic, TagInvokeDynamic:
			var a, b uint16
			a, b, err = twoU2()
			c = &ConstantDynamic{Kind: tag, BootstrapIndex: a, NameAndTypeIndex: b}
		case TagModule, TagPackage:
			var v uint16
			v, err = u2()
			c = &ConstantNamed{Kind: tag, NameIndex: v}
		default:
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
		if err != nil {
			return nil, fmt.Errorf("reading constant pool entry at index %d: %w", i, err)
		}
		pool.entries[i] = c
		if tag == TagLong || tag == TagDouble {
			i++ // takes two slots
		}
	}
	return pool, nil
}

// encode writes constant_pool_count followed by every entry.
func (p *ConstantPool) encode(w *writer) error {
	if p.overflow {
		return errPoolOverflow
	}
	w.u2(uint16(len(p.entries)))
	for _, c := range p.entries {
		if c == nil {
			continue
		}
		w.u1(c.Tag())
		switch c := c.(type) {
		case *ConstantUtf8:
			if len(c.Value) > math.MaxUint16 {
				return fmt.Errorf("Utf8 constant too long: %d bytes", len(c.Value))
			}
			w.u2(uint16(len(c.Value)))
			w.bytes([]byte(c.Value))
		case *ConstantInteger:
			w.u4(uint32(c.Value))
		case *ConstantFloat:
			w.u4(c.Bits)
		case *ConstantLong:
			w.u8(uint64(c.Value))
		case *ConstantDouble:
			w.u8(c.Bits)
		case *ConstantClass:
			w.u2(c.NameIndex)
		case *ConstantString:
			w.u2(c.StringIndex)
		case *ConstantRef:
			w.u2(c.ClassIndex)
			w.u2(c.NameAndTypeIndex)
		case *ConstantNameAndType:
			w.u2(c.NameIndex)
			w.u2(c.DescriptorIndex)
		case *ConstantMethodHandle:
			w.u1(c.ReferenceKind)
			w.u2(c.ReferenceIndex)
		case *ConstantMethodType:
			w.u2(c.DescriptorIndex)
		case *ConstantDynamic:
			w.u2(c.BootstrapIndex)
			w.u2(c.NameAndTypeIndex)
		case *ConstantNamed:
			w.u2(c.NameIndex)
		}
	}
	return nil
}
