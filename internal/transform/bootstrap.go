// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package transform

import (
	"fmt"
	"slices"

	"github.com/burrowers/indy/internal/classfile"
)

// DefaultLibraryName is the base name of the native library holding the
// bootstrap implementation.
const DefaultLibraryName = "bootstrap"

// ConflictError is returned when the bootstrap owner already declares a
// method with the bootstrap method's name and descriptor.
type ConflictError struct {
	Owner      string
	Name       string
	Descriptor string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("bootstrap method %s%s already exists in %s", e.Name, e.Descriptor, e.Owner)
}

// AddBootstrap declares the native bootstrap method in its owner class and
// makes the owner's static initializer load the native library before
// anything else runs.
//
// It must only run once every other class has been through the call-site
// pass; otherwise the library loading code would itself be rewritten into
// call sites needing the bootstrap method to link.
func AddBootstrap(cf *classfile.ClassFile, h BootstrapHandle, libraryName string) error {
	if cf.FindMethod(h.Name, BootstrapDescriptor) != nil {
		return &ConflictError{Owner: h.Owner, Name: h.Name, Descriptor: BootstrapDescriptor}
	}
	if cf.AccessFlags&classfile.AccInterface != 0 {
		return fmt.Errorf("bootstrap owner %s is an interface, which cannot declare native methods", h.Owner)
	}
	if libraryName == "" {
		libraryName = DefaultLibraryName
	}
	if err := prependStaticInit(cf, loadLibrary(cf.Pool, libraryName), 2); err != nil {
		return fmt.Errorf("%s: %w", h.Owner, err)
	}
	_, err := cf.AddMethod(classfile.AccPublic|classfile.AccStatic|classfile.AccNative|classfile.AccSynthetic,
		h.Name, BootstrapDescriptor, nil)
	return err
}

// loadLibrary returns the instructions for
//
//	System.load(System.getProperty("user.dir") + File.separatorChar + System.mapLibraryName(libraryName));
func loadLibrary(pool *classfile.ConstantPool, libraryName string) []classfile.Insn {
	const sb = "java/lang/StringBuilder"
	appendString := &classfile.MethodInsn{Op: classfile.Invokevirtual, Owner: sb, Name: "append", Descriptor: "(Ljava/lang/String;)Ljava/lang/StringBuilder;"}
	return []classfile.Insn{
		&classfile.TypeInsn{Op: classfile.New, Index: pool.AddClass(sb)},
		&classfile.PlainInsn{Op: classfile.Dup},
		&classfile.MethodInsn{Op: classfile.Invokespecial, Owner: sb, Name: classfile.ConstructorName, Descriptor: "()V"},
		&classfile.LdcInsn{Op: classfile.Ldc, Index: pool.AddString("user.dir")},
		&classfile.MethodInsn{Op: classfile.Invokestatic, Owner: "java/lang/System", Name: "getProperty", Descriptor: "(Ljava/lang/String;)Ljava/lang/String;"},
		appendString,
		&classfile.FieldInsn{Op: classfile.Getstatic, Owner: "java/io/File", Name: "separatorChar", Descriptor: "C"},
		&classfile.MethodInsn{Op: classfile.Invokevirtual, Owner: sb, Name: "append", Descriptor: "(C)Ljava/lang/StringBuilder;"},
		&classfile.LdcInsn{Op: classfile.Ldc, Index: pool.AddString(libraryName)},
		&classfile.MethodInsn{Op: classfile.Invokestatic, Owner: "java/lang/System", Name: "mapLibraryName", Descriptor: "(Ljava/lang/String;)Ljava/lang/String;"},
		appendString,
		&classfile.MethodInsn{Op: classfile.Invokevirtual, Owner: sb, Name: "toString", Descriptor: "()Ljava/lang/String;"},
		&classfile.MethodInsn{Op: classfile.Invokestatic, Owner: "java/lang/System", Name: "load", Descriptor: "(Ljava/lang/String;)V"},
	}
}

// prependStaticInit puts insns at the very start of the class's static
// initializer, creating one if needed. The instructions must leave the
// operand stack empty and need at most maxStack slots of it.
func prependStaticInit(cf *classfile.ClassFile, insns []classfile.Insn, maxStack uint16) error {
	clinit := cf.FindMethod(classfile.StaticInitializerName, "()V")
	if clinit == nil {
		code := &classfile.Code{
			MaxStack: maxStack,
			Insns:    slices.Concat(insns, []classfile.Insn{&classfile.PlainInsn{Op: classfile.Return}}),
		}
		_, err := cf.AddMethod(classfile.AccStatic, classfile.StaticInitializerName, "()V", code)
		return err
	}
	code, err := clinit.Code(cf.Pool)
	if err != nil {
		return err
	}
	if code == nil {
		return fmt.Errorf("%s has no code", classfile.StaticInitializerName)
	}
	code.Insns = slices.Concat(insns, code.Insns)
	code.MaxStack = max(code.MaxStack, maxStack)
	return clinit.SetCode(cf.Pool, code)
}
