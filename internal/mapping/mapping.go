// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

// Package mapping assigns surrogate identifiers to the call shapes replaced
// by dynamic call sites.
package mapping

import (
	"fmt"
	"iter"
	"strconv"
	"sync"

	"github.com/burrowers/indy/internal/classfile"
)

// CallShape identifies one kind of obfuscated access.
//
// Op is the instruction the call site replaces: one of the four invoke
// opcodes, or a field opcode when field instructions are turned into call
// sites directly. Caller is only part of the identity for invokespecial,
// whose resolution depends on the calling class.
type CallShape struct {
	Op         byte
	Owner      string
	Name       string
	Descriptor string
	Caller     string
}

func (s CallShape) key() CallShape {
	if s.Op != classfile.Invokespecial {
		s.Caller = ""
	}
	return s
}

// Equal reports whether two shapes map to the same identifier.
func (s CallShape) Equal(other CallShape) bool {
	return s.key() == other.key()
}

// OpName is the mnemonic of the replaced instruction, such as "invokevirtual".
func (s CallShape) OpName() string { return classfile.OpcodeName(s.Op) }

// CallSiteDescriptor is the descriptor of the dynamic call site replacing
// an instruction of this shape. Call sites have no implicit receiver, so the
// receiver becomes the first parameter: the caller for invokespecial and the
// owner otherwise.
func (s CallShape) CallSiteDescriptor() (string, error) {
	switch s.Op {
	case classfile.Invokestatic:
		return s.Descriptor, nil
	case classfile.Invokevirtual, classfile.Invokeinterface:
		return prependParam(classfile.ObjectDescriptor(s.Owner), s.Descriptor)
	case classfile.Invokespecial:
		return prependParam(classfile.ObjectDescriptor(s.Caller), s.Descriptor)
	case classfile.Getfield:
		return "(" + classfile.ObjectDescriptor(s.Owner) + ")" + s.Descriptor, nil
	case classfile.Putfield:
		return "(" + classfile.ObjectDescriptor(s.Owner) + s.Descriptor + ")V", nil
	case classfile.Getstatic:
		return "()" + s.Descriptor, nil
	case classfile.Putstatic:
		return "(" + s.Descriptor + ")V", nil
	}
	return "", fmt.Errorf("no call site descriptor for opcode 0x%02x", s.Op)
}

func prependParam(param, desc string) (string, error) {
	if len(desc) == 0 || desc[0] != '(' {
		return "", fmt.Errorf("invalid method descriptor %q", desc)
	}
	return "(" + param + desc[1:], nil
}

// Entry pairs a registered shape with its identifier.
type Entry struct {
	Shape CallShape
	ID    string
}

// SymbolMapping is a concurrency-safe registry of call shapes.
// Identifiers are decimal strings of a counter starting at zero, handed out
// in registration order.
type SymbolMapping struct {
	mu      sync.Mutex
	ids     map[CallShape]int
	entries []Entry
}

// New returns an empty mapping.
func New() *SymbolMapping {
	return &SymbolMapping{ids: make(map[CallShape]int)}
}

// Register returns the identifier for s, allocating the next one if no equal
// shape has been registered yet. The stored shape only keeps the caller for
// invokespecial.
func (m *SymbolMapping) Register(s CallShape) string {
	key := s.key()

	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.ids[key]; ok {
		return m.entries[i].ID
	}
	i := len(m.entries)
	m.ids[key] = i
	m.entries = append(m.entries, Entry{Shape: key, ID: strconv.Itoa(i)})
	return m.entries[i].ID
}

// Lookup returns the identifier of s without registering it.
func (m *SymbolMapping) Lookup(s CallShape) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.ids[s.key()]
	if !ok {
		return "", false
	}
	return m.entries[i].ID, true
}

// Shape returns the shape registered under id.
func (m *SymbolMapping) Shape(id string) (CallShape, bool) {
	i, err := strconv.Atoi(id)
	if err != nil || strconv.Itoa(i) != id {
		return CallShape{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.entries) {
		return CallShape{}, false
	}
	return m.entries[i].Shape, true
}

// Len returns the number of registered shapes.
func (m *SymbolMapping) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Entries returns a snapshot of every entry in registration order.
func (m *SymbolMapping) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// All iterates over a snapshot of the mapping in registration order.
func (m *SymbolMapping) All() iter.Seq2[CallShape, string] {
	entries := m.Entries()
	return func(yield func(CallShape, string) bool) {
		for _, e := range entries {
			if !yield(e.Shape, e.ID) {
				return
			}
		}
	}
}
