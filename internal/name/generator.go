// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

// Package name picks names for the synthetic accessor methods which replace
// field instructions.
package name

import (
	"strings"
	"sync"

	"github.com/burrowers/indy/internal/classfile"
)

// AccessorInfo describes one wrapped field access.
type AccessorInfo struct {
	// Class is the internal name of the class the accessor is added to.
	Class      string
	Field      string
	Descriptor string
	Op         byte
}

func (info *AccessorInfo) key() string {
	return info.Class + "\x00" + info.Field + "\x00" + info.Descriptor + "\x00" + classfile.OpcodeName(info.Op)
}

// Generator names accessor methods. The taken func reports whether a method
// name is already used by the class, in which case another name is picked.
//
// Names always start with the field name followed by a '$' separator, so
// stack traces still hint at the field being accessed.
type Generator interface {
	AccessorName(info *AccessorInfo, taken func(string) bool) string
}

// Strategies lists the names accepted by [NewGenerator].
var Strategies = []string{"hash", "short"}

// NewGenerator returns the generator for a strategy listed in [Strategies].
// The seed only affects the "hash" strategy.
func NewGenerator(strategy string, seed []byte) (Generator, bool) {
	switch strategy {
	case "hash", "":
		return NewHashGenerator(seed), true
	case "short":
		return NewShortGenerator(), true
	}
	return nil, false
}

type shortGenerator struct {
	m       sync.Mutex
	names   map[string]string
	counter map[string]int
}

func (s *shortGenerator) baseEncodeInt(prefix, charset string, num int) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	for num > 0 {
		r := num % len(charset)
		num /= len(charset)

		sb.WriteByte(charset[r])
	}
	return sb.String()
}

const (
	lowCharset  = "abcdefghijklmnopqrstuvwxyz0123456789"
	fullCharset = lowCharset + "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// AccessorName numbers the accessors of each class in the order they are
// requested.
func (s *shortGenerator) AccessorName(info *AccessorInfo, taken func(string) bool) string {
	s.m.Lock()
	defer s.m.Unlock()

	key := info.key()
	if newName, ok := s.names[key]; ok {
		return newName
	}
	for {
		s.counter[info.Class]++
		newName := s.baseEncodeInt(info.Field+"$", fullCharset, s.counter[info.Class])
		if taken == nil || !taken(newName) {
			s.names[key] = newName
			return newName
		}
	}
}

// NewShortGenerator returns a generator producing the shortest names which
// are unique within each class.
func NewShortGenerator() Generator {
	return &shortGenerator{
		names:   make(map[string]string),
		counter: make(map[string]int),
	}
}
