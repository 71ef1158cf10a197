// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package classfile

import (
	"fmt"
	"slices"
)

// HasAnnotation reports whether the member carries a visible or invisible
// annotation of the given type descriptor, such as "Lcom/example/Obfuscate;".
func (m *Member) HasAnnotation(pool *ConstantPool, desc string) (bool, error) {
	for _, name := range []string{AttrRuntimeVisibleAnnotations, AttrRuntimeInvisibleAnnotations} {
		attr := m.Attribute(name)
		if attr == nil {
			continue
		}
		r := &reader{data: attr.Data}
		for range int(r.u2()) {
			typeIndex := r.u2()
			skipAnnotationPairs(r)
			if r.err != nil {
				return false, fmt.Errorf("%s of %s: %w", name, m.Name, r.err)
			}
			typeDesc, err := pool.Utf8(typeIndex)
			if err != nil {
				return false, fmt.Errorf("%s of %s: %w", name, m.Name, err)
			}
			if typeDesc == desc {
				return true, nil
			}
		}
	}
	return false, nil
}

func skipAnnotationPairs(r *reader) {
	for range int(r.u2()) {
		r.u2() // element_name_index
		skipElementValue(r)
	}
}

func skipElementValue(r *reader) {
	switch tag := r.u1(); tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		r.u2()
	case 'e':
		r.u2()
		r.u2()
	case '@':
		r.u2()
		skipAnnotationPairs(r)
	case '[':
		for range int(r.u2()) {
			skipElementValue(r)
			if r.err != nil {
				return
			}
		}
	default:
		if r.err == nil {
			r.err = fmt.Errorf("unknown element value tag %q", tag)
		}
	}
}

// Handle is a CONSTANT_MethodHandle target.
type Handle struct {
	Kind       uint8
	Owner      string
	Name       string
	Descriptor string
	Interface  bool
}

// BootstrapMethod is one entry of the BootstrapMethods attribute.
type BootstrapMethod struct {
	MethodHandle uint16
	Arguments    []uint16
}

// BootstrapMethods decodes the class's BootstrapMethods attribute.
func (cf *ClassFile) BootstrapMethods() ([]BootstrapMethod, error) {
	attr := cf.Attribute(AttrBootstrapMethods)
	if attr == nil {
		return nil, nil
	}
	r := &reader{data: attr.Data}
	count := int(r.u2())
	methods := make([]BootstrapMethod, 0, count)
	for range count {
		bm := BootstrapMethod{MethodHandle: r.u2()}
		for range int(r.u2()) {
			bm.Arguments = append(bm.Arguments, r.u2())
		}
		methods = append(methods, bm)
	}
	if r.err != nil {
		return nil, fmt.Errorf("decoding %s: %w", AttrBootstrapMethods, r.err)
	}
	return methods, nil
}

// AddBootstrapMethod returns the BootstrapMethods index of an argument-less
// entry for h, appending one if the class has none yet.
func (cf *ClassFile) AddBootstrapMethod(h Handle) (uint16, error) {
	methods, err := cf.BootstrapMethods()
	if err != nil {
		return 0, err
	}
	kind := uint8(TagMethodref)
	if h.Interface {
		kind = TagInterfaceMethodref
	}
	mh := cf.Pool.AddMethodHandle(h.Kind, cf.Pool.AddRef(kind, h.Owner, h.Name, h.Descriptor))
	if i := slices.IndexFunc(methods, func(bm BootstrapMethod) bool {
		return bm.MethodHandle == mh && len(bm.Arguments) == 0
	}); i >= 0 {
		return uint16(i), nil
	}
	methods = append(methods, BootstrapMethod{MethodHandle: mh})

	w := &writer{}
	w.u2(uint16(len(methods)))
	for _, bm := range methods {
		w.u2(bm.MethodHandle)
		w.u2(uint16(len(bm.Arguments)))
		for _, arg := range bm.Arguments {
			w.u2(arg)
		}
	}
	cf.Attributes = setAttribute(cf.Attributes, AttrBootstrapMethods, w.buf)
	return uint16(len(methods) - 1), nil
}
