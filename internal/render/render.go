// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

// Package render turns the symbol mapping of a run into native source code
// implementing the bootstrap method.
package render

import (
	_ "embed"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/burrowers/indy/internal/classfile"
	"github.com/burrowers/indy/internal/mapping"
	"github.com/burrowers/indy/internal/transform"
)

// DefaultTemplate is a C implementation of the bootstrap method, resolving
// every call site through java.lang.invoke.MethodHandles.Lookup.
//
//go:embed bootstrap.c.tmpl
var DefaultTemplate string

// Entry is one call site kind as seen by templates.
type Entry struct {
	// ID is the call sites' name and the entry's index, in decimal.
	ID    string
	Shape mapping.CallShape
	// Op is the mnemonic of the replaced instruction.
	Op string
	// CallSiteDescriptor is the descriptor the call sites were given.
	CallSiteDescriptor string
	// Finder is the MethodHandles.Lookup method resolving the target, such
	// as "findVirtual" or "findStaticGetter".
	Finder string
}

// DataModel is the value templates are executed with.
type DataModel struct {
	Handle    transform.BootstrapHandle
	Entries   []Entry
	FieldMode transform.FieldMode
	// BootstrapFunctionHeader declares the JNI function implementing the
	// bootstrap method, without a trailing semicolon or body.
	BootstrapFunctionHeader string
}

var finders = map[byte]string{
	classfile.Invokevirtual:   "findVirtual",
	classfile.Invokeinterface: "findVirtual",
	classfile.Invokestatic:    "findStatic",
	classfile.Invokespecial:   "findSpecial",
	classfile.Getfield:        "findGetter",
	classfile.Putfield:        "findSetter",
	classfile.Getstatic:       "findStaticGetter",
	classfile.Putstatic:       "findStaticSetter",
}

// NewDataModel snapshots the mapping in registration order.
func NewDataModel(h transform.BootstrapHandle, m *mapping.SymbolMapping, mode transform.FieldMode) (*DataModel, error) {
	model := &DataModel{
		Handle:                  h,
		FieldMode:               mode,
		BootstrapFunctionHeader: BootstrapFunctionHeader(h),
	}
	for shape, id := range m.All() {
		desc, err := shape.CallSiteDescriptor()
		if err != nil {
			return nil, fmt.Errorf("call site %s: %w", id, err)
		}
		model.Entries = append(model.Entries, Entry{
			ID:                 id,
			Shape:              shape,
			Op:                 shape.OpName(),
			CallSiteDescriptor: desc,
			Finder:             finders[shape.Op],
		})
	}
	return model, nil
}

// BootstrapFunctionHeader returns the JNI declaration of the native
// bootstrap method.
func BootstrapFunctionHeader(h transform.BootstrapHandle) string {
	return "JNIEXPORT jobject JNICALL Java_" + MangleJNI(h.Owner) + "_" + MangleJNI(h.Name) +
		"\n    (JNIEnv *env, jclass thisClass, jobject lookup, jstring invokedName, jobject invokedType)"
}

// MangleJNI escapes a class or method name the way JNI native method names
// are mangled. Slashes separating packages become underscores.
func MangleJNI(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == '/' || r == '.':
			sb.WriteByte('_')
		case r == '_':
			sb.WriteString("_1")
		case r == ';':
			sb.WriteString("_2")
		case r == '[':
			sb.WriteString("_3")
		case r < 0x80 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'):
			sb.WriteRune(r)
		default:
			// JNI mangling only knows 16-bit units; encode supplementary
			// characters as their UTF-16 surrogate pair.
			if r > 0xffff {
				r -= 0x10000
				fmt.Fprintf(&sb, "_0%04x_0%04x", 0xd800+(r>>10), 0xdc00+(r&0x3ff))
			} else {
				fmt.Fprintf(&sb, "_0%04x", r)
			}
		}
	}
	return sb.String()
}

// cString quotes s as a C string literal.
func cString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c < 0x20 || c >= 0x7f:
			fmt.Fprintf(&sb, "\\%03o", c)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

var funcs = template.FuncMap{
	"jni":     MangleJNI,
	"cstring": cString,
	"dotted":  func(s string) string { return strings.ReplaceAll(s, "/", ".") },
}

// Render executes the template text with model and writes the result to w.
// An empty text uses DefaultTemplate.
func Render(w io.Writer, name, text string, model *DataModel) error {
	if text == "" {
		name, text = "bootstrap.c.tmpl", DefaultTemplate
	}
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, model)
}
