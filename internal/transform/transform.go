// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

// Package transform implements the rewriting passes: field wrapping,
// call-site rewriting and bootstrap synthesis.
//
// Every pass mutates a parsed class in place. Only methods whose
// instructions changed are encoded again, so untouched methods keep their
// exact bytes.
package transform

import (
	"fmt"
	"log"
	"strings"

	"github.com/burrowers/indy/internal/classfile"
)

// BootstrapDescriptor is the descriptor every bootstrap method has.
const BootstrapDescriptor = "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/CallSite;"

// BootstrapHandle names the method every dynamic call site links through.
// It is resolved once per run and never changes afterwards.
type BootstrapHandle struct {
	// Owner is the internal name of the class declaring the bootstrap method.
	Owner string
	Name  string
}

// Descriptor returns [BootstrapDescriptor].
func (h BootstrapHandle) Descriptor() string { return BootstrapDescriptor }

func (h BootstrapHandle) handle() classfile.Handle {
	return classfile.Handle{
		Kind:       classfile.RefInvokeStatic,
		Owner:      h.Owner,
		Name:       h.Name,
		Descriptor: BootstrapDescriptor,
	}
}

// FieldMode selects how field instructions are obfuscated.
type FieldMode int

const (
	// FieldNone leaves field instructions alone.
	FieldNone FieldMode = iota
	// FieldMethodHandle turns field instructions into dynamic call sites.
	FieldMethodHandle
	// FieldSyntheticAccessor routes field instructions through generated
	// static methods, which the call-site pass then obfuscates.
	FieldSyntheticAccessor
)

var fieldModeNames = [...]string{
	FieldNone:              "NONE",
	FieldMethodHandle:      "METHOD_HANDLE",
	FieldSyntheticAccessor: "SYNTHETIC_ACCESSOR",
}

func (m FieldMode) String() string {
	if m < 0 || int(m) >= len(fieldModeNames) {
		return fmt.Sprintf("FieldMode(%d)", int(m))
	}
	return fieldModeNames[m]
}

// ParseFieldMode parses a mode name, ignoring case.
// The plural spellings METHOD_HANDLES and SYNTHETIC_ACCESSORS are accepted too.
func ParseFieldMode(s string) (FieldMode, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for m, name := range fieldModeNames {
		if upper == name || upper == name+"S" {
			return FieldMode(m), nil
		}
	}
	return FieldNone, fmt.Errorf("unknown field obfuscation mode %q; want one of %s", s, strings.Join(fieldModeNames[:], ", "))
}

// Set implements [flag.Value].
func (m *FieldMode) Set(s string) error {
	mode, err := ParseFieldMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// rewriteCode decodes every method body, hands it to fn, and stores it back
// when fn reports a change. It returns the number of changed methods.
func rewriteCode(cf *classfile.ClassFile, fn func(m *classfile.Member, code *classfile.Code) (bool, error)) (int, error) {
	changed := 0
	for _, m := range cf.Methods {
		code, err := m.Code(cf.Pool)
		if err != nil {
			return changed, err
		}
		if code == nil {
			continue
		}
		ok, err := fn(m, code)
		if err != nil {
			return changed, fmt.Errorf("%s%s: %w", m.Name, m.Descriptor, err)
		}
		if !ok {
			continue
		}
		if err := m.SetCode(cf.Pool, code); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// bootstrapIndex lazily adds the bootstrap method entry for h to a class.
type bootstrapIndex struct {
	cf     *classfile.ClassFile
	handle BootstrapHandle
	index  uint16
	added  bool
}

func (b *bootstrapIndex) get() (uint16, error) {
	if !b.added {
		index, err := b.cf.AddBootstrapMethod(b.handle.handle())
		if err != nil {
			return 0, err
		}
		b.index, b.added = index, true
	}
	return b.index, nil
}

// promote raises a class with dynamic call sites to the first version
// supporting them.
func promote(cf *classfile.ClassFile, className string) {
	from := cf.MajorVersion
	if cf.RaiseVersion(classfile.V1_7) {
		// No stack map frames are computed for the older methods.
		log.Printf("raised %s from class version %d to %d; branching methods lack stack map frames", className, from, cf.MajorVersion)
	}
}

// DefaultAnnotation is the marker annotation looked for in annotated-only mode.
const DefaultAnnotation = "Lindy/Obfuscate;"

// MethodFilter restricts a pass to the methods carrying a marker annotation.
// The zero value includes every method.
type MethodFilter struct {
	AnnotatedOnly bool
	// Annotation is the marker's type descriptor; it defaults to
	// DefaultAnnotation.
	Annotation string
}

func (f MethodFilter) include(pool *classfile.ConstantPool, m *classfile.Member) (bool, error) {
	if !f.AnnotatedOnly {
		return true, nil
	}
	annotation := f.Annotation
	if annotation == "" {
		annotation = DefaultAnnotation
	}
	return m.HasAnnotation(pool, annotation)
}
