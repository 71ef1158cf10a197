// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package classfile

import (
	"fmt"
	"strings"
)

// ParseMethodDescriptor splits a method descriptor such as
// "(ILjava/lang/String;[J)V" into its parameter and return field types.
func ParseMethodDescriptor(desc string) (params []string, ret string, err error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, "", fmt.Errorf("invalid method descriptor %q", desc)
	}
	rest := desc[1:]
	for !strings.HasPrefix(rest, ")") {
		n, err := fieldTypeLen(rest)
		if err != nil {
			return nil, "", fmt.Errorf("invalid method descriptor %q: %w", desc, err)
		}
		params = append(params, rest[:n])
		rest = rest[n:]
	}
	ret = rest[1:]
	if ret != "V" {
		n, err := fieldTypeLen(ret)
		if err != nil || n != len(ret) {
			return nil, "", fmt.Errorf("invalid method descriptor %q: bad return type", desc)
		}
	}
	return params, ret, nil
}

// fieldTypeLen returns the length of the field type at the start of s.
func fieldTypeLen(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0, fmt.Errorf("truncated type")
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end < 0 {
			return 0, fmt.Errorf("unterminated class type")
		}
		return i + end + 1, nil
	}
	return 0, fmt.Errorf("unexpected type character %q", s[i])
}

// SlotSize is the number of local variable or operand stack slots a value of
// the given field type occupies.
func SlotSize(fieldType string) int {
	switch fieldType {
	case "V":
		return 0
	case "J", "D":
		return 2
	}
	return 1
}

// LoadOpcode returns the local variable load instruction for a field type.
func LoadOpcode(fieldType string) byte {
	switch fieldType[0] {
	case 'Z', 'B', 'C', 'S', 'I':
		return Iload
	case 'J':
		return Lload
	case 'F':
		return Fload
	case 'D':
		return Dload
	}
	return Aload
}

// ReturnOpcode returns the return instruction for a field type or "V".
func ReturnOpcode(fieldType string) byte {
	switch fieldType[0] {
	case 'V':
		return Return
	case 'Z', 'B', 'C', 'S', 'I':
		return Ireturn
	case 'J':
		return Lreturn
	case 'F':
		return Freturn
	case 'D':
		return Dreturn
	}
	return Areturn
}

// ObjectDescriptor turns an internal class name into a field descriptor.
// Array names are already descriptors and are returned unchanged.
func ObjectDescriptor(internalName string) string {
	if strings.HasPrefix(internalName, "[") {
		return internalName
	}
	return "L" + internalName + ";"
}
