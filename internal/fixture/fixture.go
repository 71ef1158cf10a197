// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

// Package fixture builds small class files for tests, so that no Java
// compiler is needed to produce inputs.
package fixture

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/burrowers/indy/internal/classfile"
)

// Opcodes without a named constant in classfile.
const (
	iconstM1 = 0x02
	iconst1  = 0x04
	lconst0  = 0x09
	dconst1  = 0x0f
	iload1   = 0x1b
	lload1   = 0x1f
	aload0   = 0x2a
	aload1   = 0x2b
	ladd     = 0x61

	newarrayInt = 10
)

const (
	printStream = "java/io/PrintStream"
	stringDesc  = "Ljava/lang/String;"
)

// Catalog maps the names accepted by the genclass test command to their
// builders.
var Catalog = map[string]func(name string) *classfile.ClassFile{
	"hello":       Hello,
	"initialized": Initialized,
	"conflict":    Conflict,
	"fields":      Fields,
	"calls":       Calls,
	"annotated":   Annotated,
}

// Names returns the sorted keys of Catalog.
func Names() []string {
	var names []string
	for n := range Catalog {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Bytes encodes cf, panicking on failure.
func Bytes(cf *classfile.ClassFile) []byte {
	data, err := cf.Encode()
	if err != nil {
		panic(err)
	}
	return data
}

func plain(op byte, operands ...byte) classfile.Insn {
	return &classfile.PlainInsn{Op: op, Operands: operands}
}

func mustAdd(cf *classfile.ClassFile, access uint16, name, desc string, code *classfile.Code) *classfile.Member {
	m, err := cf.AddMethod(access, name, desc, code)
	if err != nil {
		panic(fmt.Sprintf("adding %s%s: %v", name, desc, err))
	}
	return m
}

func newClass(name string) *classfile.ClassFile {
	cf := classfile.NewClass(classfile.V1_8, classfile.AccPublic|classfile.AccSuper, name, "java/lang/Object")
	mustAdd(cf, classfile.AccPublic, classfile.ConstructorName, "()V", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []classfile.Insn{
			plain(aload0),
			&classfile.MethodInsn{Op: classfile.Invokespecial, Owner: "java/lang/Object", Name: classfile.ConstructorName, Descriptor: "()V"},
			plain(classfile.Return),
		},
	})
	return cf
}

// printInsns is System.out.print(s).
func printInsns(cf *classfile.ClassFile, method, s string) []classfile.Insn {
	return []classfile.Insn{
		&classfile.FieldInsn{Op: classfile.Getstatic, Owner: "java/lang/System", Name: "out", Descriptor: "L" + printStream + ";"},
		&classfile.LdcInsn{Op: classfile.Ldc, Index: cf.Pool.AddString(s)},
		&classfile.MethodInsn{Op: classfile.Invokevirtual, Owner: printStream, Name: method, Descriptor: "(" + stringDesc + ")V"},
	}
}

// Hello is
//
//	public class Hello {
//		public static void main(String[] args) { System.out.print("x"); }
//	}
func Hello(name string) *classfile.ClassFile {
	cf := newClass(name)
	mustAdd(cf, classfile.AccPublic|classfile.AccStatic, "main", "([Ljava/lang/String;)V", &classfile.Code{
		MaxStack:  2,
		MaxLocals: 1,
		Insns:     append(printInsns(cf, "print", "x"), plain(classfile.Return)),
	})
	return cf
}

// Initialized is Hello with a static initializer assigning a static field.
func Initialized(name string) *classfile.ClassFile {
	cf := Hello(name)
	cf.AddField(classfile.AccStatic, "greeting", stringDesc)
	mustAdd(cf, classfile.AccStatic, classfile.StaticInitializerName, "()V", &classfile.Code{
		MaxStack: 1,
		Insns: []classfile.Insn{
			&classfile.LdcInsn{Op: classfile.Ldc, Index: cf.Pool.AddString("hi")},
			&classfile.FieldInsn{Op: classfile.Putstatic, Owner: name, Name: "greeting", Descriptor: stringDesc},
			plain(classfile.Return),
		},
	})
	return cf
}

// Conflict is Hello already declaring a static method named "bootstrap"
// with the bootstrap method descriptor.
func Conflict(name string) *classfile.ClassFile {
	cf := Hello(name)
	mustAdd(cf, classfile.AccPublic|classfile.AccStatic, "bootstrap",
		"(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/CallSite;",
		&classfile.Code{
			MaxStack:  1,
			MaxLocals: 3,
			Insns:     []classfile.Insn{plain(classfile.AconstNull), plain(classfile.Areturn)},
		})
	return cf
}

// Fields is
//
//	public class Fields {
//		private final int id;
//		private long total;
//		static String label;
//		static final double RATE;
//
//		Fields(int id) { this.id = id; this.total = 0; }
//		void add(long n) { total += n; }
//		static String describe() { return label; }
//		int id() { return id; }
//		static { label = "fields"; RATE = 1; }
//	}
//
// Its field instructions are two writes to final fields, which are never
// wrapped, plus six others using five distinct field and opcode pairs.
func Fields(name string) *classfile.ClassFile {
	cf := classfile.NewClass(classfile.V1_8, classfile.AccPublic|classfile.AccSuper, name, "java/lang/Object")
	cf.AddField(classfile.AccPrivate|classfile.AccFinal, "id", "I")
	cf.AddField(classfile.AccPrivate, "total", "J")
	cf.AddField(classfile.AccStatic, "label", stringDesc)
	cf.AddField(classfile.AccStatic|classfile.AccFinal, "RATE", "D")
	field := func(op byte, fieldName, desc string) classfile.Insn {
		return &classfile.FieldInsn{Op: op, Owner: name, Name: fieldName, Descriptor: desc}
	}

	mustAdd(cf, 0, classfile.ConstructorName, "(I)V", &classfile.Code{
		MaxStack:  3,
		MaxLocals: 2,
		Insns: []classfile.Insn{
			plain(aload0),
			&classfile.MethodInsn{Op: classfile.Invokespecial, Owner: "java/lang/Object", Name: classfile.ConstructorName, Descriptor: "()V"},
			plain(aload0), plain(iload1), field(classfile.Putfield, "id", "I"),
			plain(aload0), plain(lconst0), field(classfile.Putfield, "total", "J"),
			plain(classfile.Return),
		},
	})
	mustAdd(cf, 0, "add", "(J)V", &classfile.Code{
		MaxStack:  5,
		MaxLocals: 3,
		Insns: []classfile.Insn{
			plain(aload0), plain(classfile.Dup), field(classfile.Getfield, "total", "J"),
			plain(lload1), plain(ladd), field(classfile.Putfield, "total", "J"),
			plain(classfile.Return),
		},
	})
	mustAdd(cf, classfile.AccStatic, "describe", "()"+stringDesc, &classfile.Code{
		MaxStack: 1,
		Insns:    []classfile.Insn{field(classfile.Getstatic, "label", stringDesc), plain(classfile.Areturn)},
	})
	mustAdd(cf, 0, "id", "()I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns:     []classfile.Insn{plain(aload0), field(classfile.Getfield, "id", "I"), plain(classfile.Ireturn)},
	})
	mustAdd(cf, classfile.AccStatic, classfile.StaticInitializerName, "()V", &classfile.Code{
		MaxStack: 2,
		Insns: []classfile.Insn{
			&classfile.LdcInsn{Op: classfile.Ldc, Index: cf.Pool.AddString("fields")},
			field(classfile.Putstatic, "label", stringDesc),
			plain(dconst1), field(classfile.Putstatic, "RATE", "D"),
			plain(classfile.Return),
		},
	})
	return cf
}

// Calls has one invocation of each kind, plus the ones which are never
// rewritten:
//
//	int size(List l) { return l.size(); }
//	public String toString() { return super.toString(); }
//	static void twice() {
//		System.out.print("x");
//		System.out.print("y");
//		Math.abs(-1);
//		new int[1].clone();
//	}
//
// together with the constructor calling Object's.
func Calls(name string) *classfile.ClassFile {
	cf := newClass(name)
	mustAdd(cf, 0, "size", "(Ljava/util/List;)I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 2,
		Insns: []classfile.Insn{
			plain(aload1),
			&classfile.MethodInsn{Op: classfile.Invokeinterface, Owner: "java/util/List", Name: "size", Descriptor: "()I", Interface: true},
			plain(classfile.Ireturn),
		},
	})
	mustAdd(cf, classfile.AccPublic, "toString", "()"+stringDesc, &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []classfile.Insn{
			plain(aload0),
			&classfile.MethodInsn{Op: classfile.Invokespecial, Owner: "java/lang/Object", Name: "toString", Descriptor: "()" + stringDesc},
			plain(classfile.Areturn),
		},
	})
	insns := slices.Concat(printInsns(cf, "print", "x"), printInsns(cf, "print", "y"))
	insns = append(insns,
		plain(iconstM1),
		&classfile.MethodInsn{Op: classfile.Invokestatic, Owner: "java/lang/Math", Name: "abs", Descriptor: "(I)I"},
		plain(classfile.Pop),
		plain(iconst1), plain(classfile.Newarray, newarrayInt),
		&classfile.MethodInsn{Op: classfile.Invokevirtual, Owner: "[I", Name: "clone", Descriptor: "()Ljava/lang/Object;"},
		plain(classfile.Pop),
		plain(classfile.Return),
	)
	mustAdd(cf, classfile.AccStatic, "twice", "()V", &classfile.Code{MaxStack: 2, Insns: insns})
	return cf
}

// Annotated has two methods printing "x", of which only "marked" carries
// the invisible annotation Lindy/Obfuscate;.
func Annotated(name string) *classfile.ClassFile {
	cf := newClass(name)
	for _, method := range []string{"marked", "unmarked"} {
		m := mustAdd(cf, classfile.AccStatic, method, "()V", &classfile.Code{
			MaxStack: 2,
			Insns:    append(printInsns(cf, "println", "x"), plain(classfile.Return)),
		})
		if method == "marked" {
			m.SetAttribute(classfile.AttrRuntimeInvisibleAnnotations, annotation(cf.Pool, "Lindy/Obfuscate;"))
		}
	}
	return cf
}

// annotation encodes a single element-less annotation of the given type.
func annotation(pool *classfile.ConstantPool, desc string) []byte {
	var b []byte
	b = binary.BigEndian.AppendUint16(b, 1)
	b = binary.BigEndian.AppendUint16(b, pool.AddUtf8(desc))
	b = binary.BigEndian.AppendUint16(b, 0)
	return b
}
