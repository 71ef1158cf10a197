// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package transform

import (
	"strings"

	"github.com/burrowers/indy/internal/classfile"
)

// AddOwnerLoading makes the class's static initializer load the bootstrap
// owner first, so that the native library is in place before any of the
// class's call sites link. It is needed when the owner is not an entry
// point which would be initialized first anyway.
func AddOwnerLoading(cf *classfile.ClassFile, owner string) error {
	insns := []classfile.Insn{
		&classfile.LdcInsn{Op: classfile.Ldc, Index: cf.Pool.AddString(strings.ReplaceAll(owner, "/", "."))},
		&classfile.MethodInsn{Op: classfile.Invokestatic, Owner: "java/lang/Class", Name: "forName", Descriptor: "(Ljava/lang/String;)Ljava/lang/Class;"},
		&classfile.PlainInsn{Op: classfile.Pop},
	}
	return prependStaticInit(cf, insns, 1)
}

// NewOwnerClass returns an empty class to declare the bootstrap method in.
func NewOwnerClass(owner string) *classfile.ClassFile {
	return classfile.NewClass(classfile.V1_8, classfile.AccPublic|classfile.AccSuper, owner, "java/lang/Object")
}
