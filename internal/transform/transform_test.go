// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package transform

import (
	"errors"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/burrowers/indy/internal/classfile"
	"github.com/burrowers/indy/internal/fixture"
	"github.com/burrowers/indy/internal/mapping"
	"github.com/burrowers/indy/internal/name"
)

func reparse(t *testing.T, cf *classfile.ClassFile) *classfile.ClassFile {
	t.Helper()
	data, err := cf.Encode()
	qt.Assert(t, qt.IsNil(err))
	cf, err = classfile.ParseBytes(data)
	qt.Assert(t, qt.IsNil(err))
	return cf
}

func methodCode(t *testing.T, cf *classfile.ClassFile, name, desc string) *classfile.Code {
	t.Helper()
	m := cf.FindMethod(name, desc)
	qt.Assert(t, qt.IsNotNil(m), qt.Commentf("method %s%s", name, desc))
	code, err := m.Code(cf.Pool)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsNotNil(code))
	return code
}

func opcodes(code *classfile.Code) []int {
	var ops []int
	for _, insn := range code.Insns {
		if op := classfile.Op(insn); op >= 0 {
			ops = append(ops, op)
		}
	}
	return ops
}

func count[T classfile.Insn](code *classfile.Code, match func(T) bool) int {
	n := 0
	for _, insn := range code.Insns {
		if insn, ok := insn.(T); ok && (match == nil || match(insn)) {
			n++
		}
	}
	return n
}

func callSites(code *classfile.Code) []*classfile.InvokeDynamicInsn {
	var sites []*classfile.InvokeDynamicInsn
	for _, insn := range code.Insns {
		if indy, ok := insn.(*classfile.InvokeDynamicInsn); ok {
			sites = append(sites, indy)
		}
	}
	return sites
}

func TestRewriteSingleCall(t *testing.T) {
	cf := fixture.Hello("a/Hello")
	m := mapping.New()
	h := BootstrapHandle{Owner: "a/Hello", Name: "bootstrap"}
	n, err := RewriteCalls(cf, CallOptions{Mapping: m, Handle: h})
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(n, 1))

	cf = reparse(t, cf)
	code := methodCode(t, cf, "main", "([Ljava/lang/String;)V")
	qt.Assert(t, qt.Equals(count[*classfile.MethodInsn](code, nil), 0))
	sites := callSites(code)
	qt.Assert(t, qt.HasLen(sites, 1))
	qt.Assert(t, qt.Equals(sites[0].Name, "0"))
	qt.Assert(t, qt.Equals(sites[0].Descriptor, "(Ljava/io/PrintStream;Ljava/lang/String;)V"))

	methods, err := cf.BootstrapMethods()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.HasLen(methods, 1))
	qt.Assert(t, qt.Equals(sites[0].Bootstrap, uint16(0)))
	c, err := cf.Pool.Get(methods[0].MethodHandle)
	qt.Assert(t, qt.IsNil(err))
	mh := c.(*classfile.ConstantMethodHandle)
	qt.Assert(t, qt.Equals(mh.ReferenceKind, uint8(classfile.RefInvokeStatic)))
	ref, err := cf.Pool.MemberRef(mh.ReferenceIndex)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(ref, classfile.MemberRef{Owner: "a/Hello", Name: "bootstrap", Descriptor: BootstrapDescriptor}))

	// The constructor's super call is left alone.
	ctor := methodCode(t, cf, classfile.ConstructorName, "()V")
	qt.Assert(t, qt.DeepEquals(opcodes(ctor), []int{0x2a, classfile.Invokespecial, classfile.Return}))
	qt.Assert(t, qt.Equals(cf.MajorVersion, uint16(classfile.V1_8)))

	shape, ok := m.Shape("0")
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(shape.Name, "print"))
}

func TestRewriteCallKinds(t *testing.T) {
	cf := fixture.Calls("a/Calls")
	m := mapping.New()
	n, err := RewriteCalls(cf, CallOptions{Mapping: m, Handle: BootstrapHandle{Owner: "a/Main", Name: "bsm"}})
	qt.Assert(t, qt.IsNil(err))
	// Five invocations, of which the second print repeats the first.
	qt.Assert(t, qt.Equals(n, 5))
	qt.Assert(t, qt.Equals(m.Len(), 4))

	cf = reparse(t, cf)
	size := callSites(methodCode(t, cf, "size", "(Ljava/util/List;)I"))
	qt.Assert(t, qt.HasLen(size, 1))
	qt.Assert(t, qt.Equals(size[0].Descriptor, "(Ljava/util/List;)I"))

	str := callSites(methodCode(t, cf, "toString", "()Ljava/lang/String;"))
	qt.Assert(t, qt.HasLen(str, 1))
	qt.Assert(t, qt.Equals(str[0].Descriptor, "(La/Calls;)Ljava/lang/String;"))

	twice := methodCode(t, cf, "twice", "()V")
	sites := callSites(twice)
	qt.Assert(t, qt.HasLen(sites, 3))
	qt.Assert(t, qt.Equals(sites[0].Name, sites[1].Name))
	qt.Assert(t, qt.Equals(sites[2].Descriptor, "(I)I"))
	// The call on an array type stays.
	qt.Assert(t, qt.Equals(count(twice, func(mi *classfile.MethodInsn) bool { return mi.Owner == "[I" }), 1))

	ctor := methodCode(t, cf, classfile.ConstructorName, "()V")
	qt.Assert(t, qt.HasLen(callSites(ctor), 0))
}

func TestRewriteAnnotatedOnly(t *testing.T) {
	for _, test := range []struct {
		name   string
		filter MethodFilter
		want   int
	}{
		{"all", MethodFilter{}, 2},
		{"annotated", MethodFilter{AnnotatedOnly: true}, 1},
		{"other-annotation", MethodFilter{AnnotatedOnly: true, Annotation: "Lother/Marker;"}, 0},
	} {
		t.Run(test.name, func(t *testing.T) {
			cf := fixture.Annotated("a/Annotated")
			n, err := RewriteCalls(cf, CallOptions{Mapping: mapping.New(), Handle: BootstrapHandle{Owner: "a/Annotated", Name: "bootstrap"}, Filter: test.filter})
			qt.Assert(t, qt.IsNil(err))
			qt.Assert(t, qt.Equals(n, test.want))
			if test.want == 1 {
				cf = reparse(t, cf)
				qt.Assert(t, qt.HasLen(callSites(methodCode(t, cf, "marked", "()V")), 1))
				qt.Assert(t, qt.HasLen(callSites(methodCode(t, cf, "unmarked", "()V")), 0))
			}
		})
	}
}

func TestRewritePromotesVersion(t *testing.T) {
	cf := fixture.Hello("a/Old")
	cf.MajorVersion = 49
	_, err := RewriteCalls(cf, CallOptions{Mapping: mapping.New(), Handle: BootstrapHandle{Owner: "a/Old", Name: "bootstrap"}})
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(cf.MajorVersion, uint16(classfile.V1_7)))

	// Nothing to rewrite leaves the version alone.
	cf = classfile.NewClass(49, classfile.AccPublic, "a/Empty", "java/lang/Object")
	n, err := RewriteCalls(cf, CallOptions{Mapping: mapping.New(), Handle: BootstrapHandle{Owner: "a/Empty", Name: "bootstrap"}})
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(n, 0))
	qt.Assert(t, qt.Equals(cf.MajorVersion, uint16(49)))
	qt.Assert(t, qt.IsNil(cf.Attribute(classfile.AttrBootstrapMethods)))
}

// finalWrites counts the writes to the final fields of fixture.Fields.
func finalWrites(t *testing.T, cf *classfile.ClassFile) int {
	n := 0
	for _, m := range cf.Methods {
		code, err := m.Code(cf.Pool)
		qt.Assert(t, qt.IsNil(err))
		if code == nil {
			continue
		}
		n += count(code, func(fi *classfile.FieldInsn) bool {
			return fi.Op == classfile.Putfield && fi.Name == "id" || fi.Op == classfile.Putstatic && fi.Name == "RATE"
		})
	}
	return n
}

func TestWrapFieldsSyntheticAccessor(t *testing.T) {
	cf := fixture.Fields("a/Fields")
	before := len(cf.Methods)
	n, err := WrapFields(cf, FieldOptions{Mode: FieldSyntheticAccessor, Names: name.NewShortGenerator()})
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(n, 6))
	qt.Assert(t, qt.HasLen(cf.Methods, before+5))

	cf = reparse(t, cf)
	qt.Assert(t, qt.Equals(finalWrites(t, cf), 2))
	for _, m := range cf.Methods[before:] {
		qt.Assert(t, qt.IsTrue(m.Is(classfile.AccPrivate|classfile.AccStatic|classfile.AccSynthetic)), qt.Commentf("%s", m.Name))
	}

	// Accessors are named in the order their fields were first used.
	var accessorNames []string
	for _, m := range cf.Methods[before:] {
		accessorNames = append(accessorNames, m.Name+m.Descriptor)
	}
	qt.Assert(t, qt.DeepEquals(accessorNames, []string{
		"total$b(La/Fields;J)V",
		"total$c(La/Fields;)J",
		"label$d()Ljava/lang/String;",
		"id$e(La/Fields;)I",
		"label$f(Ljava/lang/String;)V",
	}))

	put := methodCode(t, cf, "total$b", "(La/Fields;J)V")
	qt.Assert(t, qt.DeepEquals(opcodes(put), []int{classfile.Aload, classfile.Lload, classfile.Putfield, classfile.Return}))
	qt.Assert(t, qt.Equals(put.MaxStack, uint16(3)))
	qt.Assert(t, qt.Equals(put.MaxLocals, uint16(3)))
	get := methodCode(t, cf, "total$c", "(La/Fields;)J")
	qt.Assert(t, qt.DeepEquals(opcodes(get), []int{classfile.Aload, classfile.Getfield, classfile.Lreturn}))
	qt.Assert(t, qt.Equals(get.MaxStack, uint16(2)))
	qt.Assert(t, qt.Equals(get.MaxLocals, uint16(1)))
	static := methodCode(t, cf, "label$d", "()Ljava/lang/String;")
	qt.Assert(t, qt.DeepEquals(opcodes(static), []int{classfile.Getstatic, classfile.Areturn}))
	qt.Assert(t, qt.Equals(static.MaxLocals, uint16(0)))

	add := methodCode(t, cf, "add", "(J)V")
	qt.Assert(t, qt.Equals(count(add, func(mi *classfile.MethodInsn) bool {
		return mi.Op == classfile.Invokestatic && mi.Owner == "a/Fields"
	}), 2))
	qt.Assert(t, qt.Equals(count[*classfile.FieldInsn](add, nil), 0))

	// The accessor calls are method calls like any other for the next pass,
	// while the final field writes stay untouched by both passes.
	m := mapping.New()
	_, err = RewriteCalls(cf, CallOptions{Mapping: m, Handle: BootstrapHandle{Owner: "a/Main", Name: "bootstrap"}})
	qt.Assert(t, qt.IsNil(err))
	cf = reparse(t, cf)
	qt.Assert(t, qt.Equals(finalWrites(t, cf), 2))
	qt.Assert(t, qt.HasLen(callSites(methodCode(t, cf, "add", "(J)V")), 2))
	_, ok := m.Lookup(mapping.CallShape{Op: classfile.Invokestatic, Owner: "a/Fields", Name: "id$e", Descriptor: "(La/Fields;)I"})
	qt.Assert(t, qt.IsTrue(ok))
}

func TestWrapFieldsMethodHandle(t *testing.T) {
	cf := fixture.Fields("a/Fields")
	before := len(cf.Methods)
	m := mapping.New()
	n, err := WrapFields(cf, FieldOptions{
		Mode:    FieldMethodHandle,
		Mapping: m,
		Handle:  BootstrapHandle{Owner: "a/Fields", Name: "bootstrap"},
	})
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(n, 6))
	qt.Assert(t, qt.Equals(m.Len(), 5))
	qt.Assert(t, qt.HasLen(cf.Methods, before))

	cf = reparse(t, cf)
	qt.Assert(t, qt.Equals(finalWrites(t, cf), 2))
	sites := callSites(methodCode(t, cf, "add", "(J)V"))
	qt.Assert(t, qt.HasLen(sites, 2))
	qt.Assert(t, qt.Equals(sites[0].Descriptor, "(La/Fields;)J"))
	qt.Assert(t, qt.Equals(sites[1].Descriptor, "(La/Fields;J)V"))

	shape, ok := m.Shape(sites[0].Name)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(shape.Op, byte(classfile.Getfield)))
	qt.Assert(t, qt.Equals(shape.Name, "total"))
}

func TestWrapFieldsNone(t *testing.T) {
	cf := fixture.Fields("a/Fields")
	before, err := cf.Encode()
	qt.Assert(t, qt.IsNil(err))
	n, err := WrapFields(cf, FieldOptions{Mode: FieldNone})
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(n, 0))
	after, err := cf.Encode()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(after, before))
}

var loadLibraryOps = []int{
	classfile.New, classfile.Dup, classfile.Invokespecial,
	classfile.Ldc, classfile.Invokestatic, classfile.Invokevirtual,
	classfile.Getstatic, classfile.Invokevirtual,
	classfile.Ldc, classfile.Invokestatic, classfile.Invokevirtual,
	classfile.Invokevirtual, classfile.Invokestatic,
}

func TestAddBootstrapCreatesInitializer(t *testing.T) {
	cf := fixture.Hello("a/Hello")
	h := BootstrapHandle{Owner: "a/Hello", Name: "bootstrap"}
	qt.Assert(t, qt.IsNil(AddBootstrap(cf, h, "")))
	cf = reparse(t, cf)

	inits := 0
	for _, m := range cf.Methods {
		if m.Name == classfile.StaticInitializerName {
			inits++
		}
	}
	qt.Assert(t, qt.Equals(inits, 1))
	clinit := methodCode(t, cf, classfile.StaticInitializerName, "()V")
	qt.Assert(t, qt.DeepEquals(opcodes(clinit), append(loadLibraryOps, classfile.Return)))
	qt.Assert(t, qt.Equals(clinit.MaxStack, uint16(2)))
	qt.Assert(t, qt.HasLen(callSites(clinit), 0))
	lib := clinit.Insns[8].(*classfile.LdcInsn)
	c, err := cf.Pool.Get(lib.Index)
	qt.Assert(t, qt.IsNil(err))
	s, err := cf.Pool.Utf8(c.(*classfile.ConstantString).StringIndex)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(s, DefaultLibraryName))

	stub := cf.FindMethod("bootstrap", BootstrapDescriptor)
	qt.Assert(t, qt.IsNotNil(stub))
	qt.Assert(t, qt.Equals(stub.AccessFlags, uint16(classfile.AccPublic|classfile.AccStatic|classfile.AccNative|classfile.AccSynthetic)))
	qt.Assert(t, qt.IsNil(stub.Attribute(classfile.AttrCode)))
}

func TestAddBootstrapPrependsToInitializer(t *testing.T) {
	cf := fixture.Initialized("a/Init")
	qt.Assert(t, qt.IsNil(AddBootstrap(cf, BootstrapHandle{Owner: "a/Init", Name: "bsm"}, "native")))
	cf = reparse(t, cf)
	clinit := methodCode(t, cf, classfile.StaticInitializerName, "()V")
	qt.Assert(t, qt.DeepEquals(opcodes(clinit), append(loadLibraryOps, classfile.Ldc, classfile.Putstatic, classfile.Return)))
	qt.Assert(t, qt.IsNotNil(cf.FindMethod("bsm", BootstrapDescriptor)))
}

func TestAddBootstrapConflict(t *testing.T) {
	cf := fixture.Conflict("a/Conflict")
	before := len(cf.Methods)
	err := AddBootstrap(cf, BootstrapHandle{Owner: "a/Conflict", Name: "bootstrap"}, "")
	var conflict *ConflictError
	qt.Assert(t, qt.IsTrue(errors.As(err, &conflict)))
	qt.Assert(t, qt.DeepEquals(conflict, &ConflictError{Owner: "a/Conflict", Name: "bootstrap", Descriptor: BootstrapDescriptor}))
	qt.Assert(t, qt.HasLen(cf.Methods, before))
	qt.Assert(t, qt.IsNil(cf.FindMethod(classfile.StaticInitializerName, "()V")))

	// A different name does not conflict.
	qt.Assert(t, qt.IsNil(AddBootstrap(cf, BootstrapHandle{Owner: "a/Conflict", Name: "bootstrap2"}, "")))
}

func TestAddBootstrapInterface(t *testing.T) {
	cf := classfile.NewClass(classfile.V1_8, classfile.AccPublic|classfile.AccInterface|classfile.AccAbstract, "a/Iface", "java/lang/Object")
	err := AddBootstrap(cf, BootstrapHandle{Owner: "a/Iface", Name: "bootstrap"}, "")
	qt.Assert(t, qt.ErrorMatches(err, `bootstrap owner a/Iface is an interface.*`))
}

func TestOwnerLoading(t *testing.T) {
	cf := fixture.Initialized("c/D")
	qt.Assert(t, qt.IsNil(AddOwnerLoading(cf, "x/y/Owner")))
	cf = reparse(t, cf)
	clinit := methodCode(t, cf, classfile.StaticInitializerName, "()V")
	qt.Assert(t, qt.DeepEquals(opcodes(clinit), []int{
		classfile.Ldc, classfile.Invokestatic, classfile.Pop,
		classfile.Ldc, classfile.Putstatic, classfile.Return,
	}))
	forName := clinit.Insns[1].(*classfile.MethodInsn)
	qt.Assert(t, qt.Equals(forName.Owner+"."+forName.Name, "java/lang/Class.forName"))
	c, err := cf.Pool.Get(clinit.Insns[0].(*classfile.LdcInsn).Index)
	qt.Assert(t, qt.IsNil(err))
	s, err := cf.Pool.Utf8(c.(*classfile.ConstantString).StringIndex)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(s, "x.y.Owner"))

	owner := NewOwnerClass("x/y/Owner")
	qt.Assert(t, qt.IsNil(AddBootstrap(owner, BootstrapHandle{Owner: "x/y/Owner", Name: "bootstrap"}, "")))
	owner = reparse(t, owner)
	ownerName, err := owner.ClassName()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(ownerName, "x/y/Owner"))
	qt.Assert(t, qt.Equals(owner.MajorVersion, uint16(classfile.V1_8)))
	qt.Assert(t, qt.HasLen(owner.Methods, 2))
}

func TestParseFieldMode(t *testing.T) {
	tests := []struct {
		in      string
		want    FieldMode
		wantErr string
	}{
		{in: "NONE", want: FieldNone},
		{in: "none", want: FieldNone},
		{in: "METHOD_HANDLE", want: FieldMethodHandle},
		{in: "method_handles", want: FieldMethodHandle},
		{in: "Synthetic_Accessor", want: FieldSyntheticAccessor},
		{in: "SYNTHETIC_ACCESSORS", want: FieldSyntheticAccessor},
		{in: "reflection", wantErr: `unknown field obfuscation mode "reflection"; want one of NONE, METHOD_HANDLE, SYNTHETIC_ACCESSOR`},
	}
	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			var mode FieldMode
			err := mode.Set(test.in)
			if test.wantErr != "" {
				qt.Assert(t, qt.ErrorMatches(err, test.wantErr))
				return
			}
			qt.Assert(t, qt.IsNil(err))
			qt.Assert(t, qt.Equals(mode, test.want))
		})
	}
	qt.Assert(t, qt.Equals(FieldSyntheticAccessor.String(), "SYNTHETIC_ACCESSOR"))
	qt.Assert(t, qt.Equals(FieldMode(7).String(), "FieldMode(7)"))
}
