// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package render

import (
	"strings"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/burrowers/indy/internal/classfile"
	"github.com/burrowers/indy/internal/mapping"
	"github.com/burrowers/indy/internal/transform"
)

func TestMangleJNI(t *testing.T) {
	tests := []struct{ in, want string }{
		{"bootstrap", "bootstrap"},
		{"a/b/Main", "a_b_Main"},
		{"my_pkg/Outer$Inner", "my_1pkg_Outer_00024Inner"},
		{"café", "caf_000e9"},
		{"x\U0001F600", "x_0d83d_0de00"},
	}
	for _, test := range tests {
		qt.Check(t, qt.Equals(MangleJNI(test.in), test.want), qt.Commentf("%q", test.in))
	}
}

func TestBootstrapFunctionHeader(t *testing.T) {
	got := BootstrapFunctionHeader(transform.BootstrapHandle{Owner: "a/b/Main", Name: "boot_strap"})
	qt.Assert(t, qt.Equals(got, "JNIEXPORT jobject JNICALL Java_a_b_Main_boot_1strap\n"+
		"    (JNIEnv *env, jclass thisClass, jobject lookup, jstring invokedName, jobject invokedType)"))
}

func testMapping() *mapping.SymbolMapping {
	m := mapping.New()
	m.Register(mapping.CallShape{Op: classfile.Invokevirtual, Owner: "java/io/PrintStream", Name: "print", Descriptor: "(Ljava/lang/String;)V", Caller: "a/Main"})
	m.Register(mapping.CallShape{Op: classfile.Invokespecial, Owner: "java/lang/Object", Name: "toString", Descriptor: "()Ljava/lang/String;", Caller: "a/Main"})
	m.Register(mapping.CallShape{Op: classfile.Getfield, Owner: "a/Point", Name: "x", Descriptor: "D", Caller: "a/Main"})
	return m
}

func TestRenderCustomTemplate(t *testing.T) {
	h := transform.BootstrapHandle{Owner: "a/Main", Name: "bootstrap"}
	model, err := NewDataModel(h, testMapping(), transform.FieldMethodHandle)
	qt.Assert(t, qt.IsNil(err))

	const tmpl = `{{.FieldMode}} {{dotted .Handle.Owner}}
{{range .Entries}}{{.ID}} {{.Op}} {{.Shape.Owner}}.{{.Shape.Name}} {{.CallSiteDescriptor}} {{.Finder}} {{cstring .Shape.Caller}}
{{end}}`
	var sb strings.Builder
	qt.Assert(t, qt.IsNil(Render(&sb, "custom", tmpl, model)))
	qt.Assert(t, qt.Equals(sb.String(), `METHOD_HANDLE a.Main
0 invokevirtual java/io/PrintStream.print (Ljava/io/PrintStream;Ljava/lang/String;)V findVirtual ""
1 invokespecial java/lang/Object.toString (La/Main;)Ljava/lang/String; findSpecial "a/Main"
2 getfield a/Point.x (La/Point;)D findGetter ""
`))
}

func TestRenderDefaultTemplate(t *testing.T) {
	h := transform.BootstrapHandle{Owner: "a/Main", Name: "bootstrap"}
	model, err := NewDataModel(h, testMapping(), transform.FieldNone)
	qt.Assert(t, qt.IsNil(err))
	var sb strings.Builder
	qt.Assert(t, qt.IsNil(Render(&sb, "", "", model)))
	out := sb.String()
	qt.Assert(t, qt.StringContains(out, model.BootstrapFunctionHeader+"\n{"))
	qt.Assert(t, qt.StringContains(out, `/* 0: invokevirtual */ {"java/io/PrintStream", "print", "(Ljava/lang/String;)V", "", "findVirtual"},`))
	qt.Assert(t, qt.StringContains(out, `/* 2: getfield */ {"a/Point", "x", "D", "", "findGetter"},`))
	qt.Assert(t, qt.StringContains(out, "#define TARGET_COUNT 3\n"))

	empty, err := NewDataModel(h, mapping.New(), transform.FieldNone)
	qt.Assert(t, qt.IsNil(err))
	sb.Reset()
	qt.Assert(t, qt.IsNil(Render(&sb, "", "", empty)))
	qt.Assert(t, qt.StringContains(sb.String(), "#define TARGET_COUNT 0\n"))
}

func TestRenderErrors(t *testing.T) {
	model, err := NewDataModel(transform.BootstrapHandle{Owner: "a/Main", Name: "bootstrap"}, mapping.New(), transform.FieldNone)
	qt.Assert(t, qt.IsNil(err))
	var sb strings.Builder
	err = Render(&sb, "broken", "{{.Missing}}", model)
	qt.Assert(t, qt.ErrorMatches(err, `.*can't evaluate field Missing.*`))
	err = Render(&sb, "broken", "{{if}}", model)
	qt.Assert(t, qt.ErrorMatches(err, `template: broken:1: missing value for if`))
}
