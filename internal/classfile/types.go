// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package classfile

import "encoding/binary"

// Access flags
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSuper        = 0x0020
	AccSynchronized = 0x0020
	AccVolatile     = 0x0040
	AccBridge       = 0x0040
	AccTransient    = 0x0080
	AccVarargs      = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
	AccStrict       = 0x0800
	AccSynthetic    = 0x1000
	AccAnnotation   = 0x2000
	AccEnum         = 0x4000
)

// Class file major versions.
const (
	// V1_7 is the first version able to carry invokedynamic.
	V1_7 = 51
	V1_8 = 52
)

// Well-known member names.
const (
	ConstructorName       = "<init>"
	StaticInitializerName = "<clinit>"
)

// ClassFile is a decoded .class file. Structures that no pass needs to
// understand are kept as raw attributes and written back untouched.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	Pool         *ConstantPool
	AccessFlags  uint16
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []*Member
	Methods      []*Member
	Attributes   []Attribute
}

// Member is a field or method declaration.
type Member struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []Attribute
}

// Is reports whether all of the given access flags are set.
func (m *Member) Is(flags uint16) bool { return m.AccessFlags&flags == flags }

// Attribute is a raw attribute_info structure.
type Attribute struct {
	Name string
	Data []byte
}

// Attribute names handled by this package.
const (
	AttrCode                            = "Code"
	AttrStackMapTable                   = "StackMapTable"
	AttrLineNumberTable                 = "LineNumberTable"
	AttrLocalVariableTable              = "LocalVariableTable"
	AttrLocalVariableTypeTable          = "LocalVariableTypeTable"
	AttrBootstrapMethods                = "BootstrapMethods"
	AttrRuntimeVisibleAnnotations       = "RuntimeVisibleAnnotations"
	AttrRuntimeInvisibleAnnotations     = "RuntimeInvisibleAnnotations"
	AttrRuntimeVisibleTypeAnnotations   = "RuntimeVisibleTypeAnnotations"
	AttrRuntimeInvisibleTypeAnnotations = "RuntimeInvisibleTypeAnnotations"
)

// Attribute returns the first attribute with the given name.
func (m *Member) Attribute(name string) *Attribute {
	return findAttribute(m.Attributes, name)
}

// SetAttribute replaces the named attribute, or appends it if absent.
func (m *Member) SetAttribute(name string, data []byte) {
	m.Attributes = setAttribute(m.Attributes, name, data)
}

func findAttribute(attrs []Attribute, name string) *Attribute {
	for i := range attrs {
		if attrs[i].Name == name {
			return &attrs[i]
		}
	}
	return nil
}

func setAttribute(attrs []Attribute, name string, data []byte) []Attribute {
	if a := findAttribute(attrs, name); a != nil {
		a.Data = data
		return attrs
	}
	return append(attrs, Attribute{Name: name, Data: data})
}

// ClassName returns the internal name of this class.
func (cf *ClassFile) ClassName() (string, error) {
	return cf.Pool.ClassName(cf.ThisClass)
}

// SuperClassName returns the internal name of the super class,
// or "" for java/lang/Object and module-info.
func (cf *ClassFile) SuperClassName() string {
	if cf.SuperClass == 0 {
		return ""
	}
	name, err := cf.Pool.ClassName(cf.SuperClass)
	if err != nil {
		return ""
	}
	return name
}

// FindMethod finds a method by name and descriptor.
func (cf *ClassFile) FindMethod(name, descriptor string) *Member {
	for _, m := range cf.Methods {
		if m.Name == name && m.Descriptor == descriptor {
			return m
		}
	}
	return nil
}

// Attribute returns the first class-level attribute with the given name.
func (cf *ClassFile) Attribute(name string) *Attribute {
	return findAttribute(cf.Attributes, name)
}

// RaiseVersion bumps the major version to at least major.
// It reports whether the version changed.
func (cf *ClassFile) RaiseVersion(major uint16) bool {
	if cf.MajorVersion >= major {
		return false
	}
	cf.MajorVersion = major
	cf.MinorVersion = 0
	return true
}

// NewClass returns an empty class with the given internal name and super class.
func NewClass(major uint16, access uint16, name, super string) *ClassFile {
	cf := &ClassFile{
		MajorVersion: major,
		Pool:         NewConstantPool(),
		AccessFlags:  access,
	}
	cf.ThisClass = cf.Pool.AddClass(name)
	if super != "" {
		cf.SuperClass = cf.Pool.AddClass(super)
	}
	return cf
}

// writer accumulates big-endian class file data.
type writer struct {
	buf []byte
}

func (w *writer) u1(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) u2(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *writer) u4(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *writer) u8(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) len() int { return len(w.buf) }

func (w *writer) put2(at int, v uint16) { binary.BigEndian.PutUint16(w.buf[at:], v) }

func (w *writer) put4(at int, v uint32) { binary.BigEndian.PutUint32(w.buf[at:], v) }

// AddField appends a field declaration.
func (cf *ClassFile) AddField(access uint16, name, desc string) *Member {
	f := &Member{AccessFlags: access, Name: name, Descriptor: desc}
	cf.Fields = append(cf.Fields, f)
	return f
}

// AddMethod appends a method. A nil code leaves the method without a body,
// as abstract and native methods are.
func (cf *ClassFile) AddMethod(access uint16, name, desc string, code *Code) (*Member, error) {
	m := &Member{AccessFlags: access, Name: name, Descriptor: desc}
	if code != nil {
		if err := m.SetCode(cf.Pool, code); err != nil {
			return nil, err
		}
	}
	cf.Methods = append(cf.Methods, m)
	return m, nil
}
