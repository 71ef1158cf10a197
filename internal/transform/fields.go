// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package transform

import (
	"fmt"
	"log"

	"github.com/burrowers/indy/internal/classfile"
	"github.com/burrowers/indy/internal/mapping"
	"github.com/burrowers/indy/internal/name"
)

// FieldKey identifies a field declaration.
type FieldKey struct {
	Owner      string
	Name       string
	Descriptor string
}

// FieldOptions configures [WrapFields].
type FieldOptions struct {
	Mode   FieldMode
	Filter MethodFilter

	// Names picks accessor names in FieldSyntheticAccessor mode.
	Names name.Generator

	// Mapping and Handle are used in FieldMethodHandle mode.
	Mapping *mapping.SymbolMapping
	Handle  BootstrapHandle
}

// WrapFields runs the field pass over one class and returns the number of
// field instructions it replaced.
//
// Writes to the class's own final fields are never replaced: outside of an
// initializer of the declaring class they would not verify.
func WrapFields(cf *classfile.ClassFile, opts FieldOptions) (int, error) {
	if opts.Mode == FieldNone {
		return 0, nil
	}
	className, err := cf.ClassName()
	if err != nil {
		return 0, err
	}
	if opts.Mode == FieldSyntheticAccessor && cf.AccessFlags&classfile.AccInterface != 0 {
		log.Printf("%s is an interface; not adding field accessors", className)
		return 0, nil
	}

	w := &fieldWrapper{
		cf:        cf,
		className: className,
		opts:      opts,
		finals:    make(map[FieldKey]bool),
		accessors: make(map[accessorKey]*accessor),
		used:      make(map[string]bool),
		bsm:       bootstrapIndex{cf: cf, handle: opts.Handle},
	}
	for _, f := range cf.Fields {
		if f.Is(classfile.AccFinal) {
			w.finals[FieldKey{className, f.Name, f.Descriptor}] = true
		}
	}

	if _, err := rewriteCode(cf, w.method); err != nil {
		return w.replaced, fmt.Errorf("%s: %w", className, err)
	}
	for _, a := range w.order {
		if err := w.addAccessor(a); err != nil {
			return w.replaced, fmt.Errorf("%s: %w", className, err)
		}
	}
	if opts.Mode == FieldMethodHandle && w.replaced > 0 {
		promote(cf, className)
	}
	return w.replaced, nil
}

type accessorKey struct {
	field FieldKey
	op    byte
}

type accessor struct {
	name       string
	descriptor string
	field      classfile.FieldInsn
}

type fieldWrapper struct {
	cf        *classfile.ClassFile
	className string
	opts      FieldOptions
	finals    map[FieldKey]bool

	// accessors are added once every method body has been visited,
	// in the order they were first needed.
	accessors map[accessorKey]*accessor
	order     []*accessor
	used      map[string]bool

	bsm      bootstrapIndex
	replaced int
}

func (w *fieldWrapper) method(m *classfile.Member, code *classfile.Code) (bool, error) {
	if ok, err := w.opts.Filter.include(w.cf.Pool, m); err != nil || !ok {
		return false, err
	}
	changed := false
	for i, insn := range code.Insns {
		fi, ok := insn.(*classfile.FieldInsn)
		if !ok {
			continue
		}
		if (fi.Op == classfile.Putfield || fi.Op == classfile.Putstatic) && w.finals[FieldKey{fi.Owner, fi.Name, fi.Descriptor}] {
			log.Printf("%s.%s: keeping %s of final field %s", w.className, m.Name, classfile.OpcodeName(fi.Op), fi.Name)
			continue
		}
		var replacement classfile.Insn
		var err error
		switch w.opts.Mode {
		case FieldSyntheticAccessor:
			replacement, err = w.accessorCall(fi)
		case FieldMethodHandle:
			replacement, err = w.callSite(fi)
		default:
			panic(fmt.Sprintf("unexpected field mode %v", w.opts.Mode))
		}
		if err != nil {
			return false, err
		}
		code.Insns[i] = replacement
		changed = true
		w.replaced++
	}
	return changed, nil
}

func (w *fieldWrapper) taken(newName string) bool {
	if w.used[newName] {
		return true
	}
	for _, m := range w.cf.Methods {
		if m.Name == newName {
			return true
		}
	}
	return false
}

// accessorCall returns the call replacing fi, creating its accessor on first
// use.
func (w *fieldWrapper) accessorCall(fi *classfile.FieldInsn) (classfile.Insn, error) {
	key := accessorKey{FieldKey{fi.Owner, fi.Name, fi.Descriptor}, fi.Op}
	a := w.accessors[key]
	if a == nil {
		shape := mapping.CallShape{Op: fi.Op, Owner: fi.Owner, Name: fi.Name, Descriptor: fi.Descriptor}
		desc, err := shape.CallSiteDescriptor()
		if err != nil {
			return nil, err
		}
		newName := w.opts.Names.AccessorName(&name.AccessorInfo{
			Class:      w.className,
			Field:      fi.Name,
			Descriptor: fi.Descriptor,
			Op:         fi.Op,
		}, w.taken)
		w.used[newName] = true
		a = &accessor{
			name:       newName,
			descriptor: desc,
			field:      classfile.FieldInsn{Op: fi.Op, Owner: fi.Owner, Name: fi.Name, Descriptor: fi.Descriptor},
		}
		w.accessors[key] = a
		w.order = append(w.order, a)
	}
	return &classfile.MethodInsn{
		Op:         classfile.Invokestatic,
		Owner:      w.className,
		Name:       a.name,
		Descriptor: a.descriptor,
	}, nil
}

// callSite returns the dynamic call site replacing fi.
func (w *fieldWrapper) callSite(fi *classfile.FieldInsn) (classfile.Insn, error) {
	shape := mapping.CallShape{
		Op:         fi.Op,
		Owner:      fi.Owner,
		Name:       fi.Name,
		Descriptor: fi.Descriptor,
		Caller:     w.className,
	}
	desc, err := shape.CallSiteDescriptor()
	if err != nil {
		return nil, err
	}
	index, err := w.bsm.get()
	if err != nil {
		return nil, err
	}
	return &classfile.InvokeDynamicInsn{
		Name:       w.opts.Mapping.Register(shape),
		Descriptor: desc,
		Bootstrap:  index,
	}, nil
}

// addAccessor appends a private static method whose body is the wrapped
// field instruction between its argument loads and the return.
func (w *fieldWrapper) addAccessor(a *accessor) error {
	params, ret, err := classfile.ParseMethodDescriptor(a.descriptor)
	if err != nil {
		return err
	}
	var insns []classfile.Insn
	slot := 0
	for _, p := range params {
		insns = append(insns, &classfile.PlainInsn{Op: classfile.LoadOpcode(p), Operands: []byte{byte(slot)}})
		slot += classfile.SlotSize(p)
	}
	field := a.field
	insns = append(insns, &field, &classfile.PlainInsn{Op: classfile.ReturnOpcode(ret)})

	code := &classfile.Code{
		MaxStack:  uint16(max(slot, classfile.SlotSize(ret))),
		MaxLocals: uint16(slot),
		Insns:     insns,
	}
	_, err = w.cf.AddMethod(classfile.AccPrivate|classfile.AccStatic|classfile.AccSynthetic, a.name, a.descriptor, code)
	return err
}
