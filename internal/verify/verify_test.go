// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package verify

import (
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/burrowers/indy/internal/classfile"
	"github.com/burrowers/indy/internal/fixture"
)

func TestClass(t *testing.T) {
	for _, name := range fixture.Names() {
		t.Run(name, func(t *testing.T) {
			data := fixture.Bytes(fixture.Catalog[name]("test/Main"))
			qt.Assert(t, qt.IsNil(Class(data, "test/Main")))
		})
	}
}

func TestClassMismatch(t *testing.T) {
	data := fixture.Bytes(fixture.Hello("test/Main"))
	err := Class(data, "test/Other")
	qt.Assert(t, qt.ErrorMatches(err, `malformed output class test/Other: declares class test/Main`))

	var merr *MalformedError
	qt.Assert(t, qt.ErrorAs(err, &merr))
	qt.Assert(t, qt.Equals(merr.Class, "test/Other"))
}

func TestClassTruncated(t *testing.T) {
	data := fixture.Bytes(fixture.Hello("test/Main"))
	err := Class(data[:len(data)/2], "test/Main")
	qt.Assert(t, qt.IsNotNil(err))
	qt.Assert(t, qt.ErrorMatches(err, `malformed output class test/Main: .*`))
}

func TestClassTrailingBytes(t *testing.T) {
	data := fixture.Bytes(fixture.Hello("test/Main"))
	err := Class(append(data, 0), "test/Main")
	qt.Assert(t, qt.ErrorMatches(err, `malformed output class test/Main: 1 stray bytes after the class`))
}

func TestClassMethodBodies(t *testing.T) {
	cf := fixture.Hello("test/Main")
	_, err := cf.AddMethod(classfile.AccPublic|classfile.AccStatic|classfile.AccNative, "stub", "()V", nil)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsNil(Class(fixture.Bytes(cf), "test/Main")))

	_, err = cf.AddMethod(classfile.AccPublic|classfile.AccStatic, "bodiless", "()V", nil)
	qt.Assert(t, qt.IsNil(err))
	err = Class(fixture.Bytes(cf), "test/Main")
	qt.Assert(t, qt.ErrorMatches(err, `malformed output class test/Main: method bodiless\(\)V: missing Code attribute`))
}
