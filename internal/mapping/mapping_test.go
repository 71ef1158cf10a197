// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package mapping

import (
	"fmt"
	"sync"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/google/go-cmp/cmp"

	"github.com/burrowers/indy/internal/classfile"
)

var printlnShape = CallShape{
	Op:         classfile.Invokevirtual,
	Owner:      "java/io/PrintStream",
	Name:       "println",
	Descriptor: "(Ljava/lang/String;)V",
	Caller:     "a/Main",
}

func TestRegisterIdempotent(t *testing.T) {
	m := New()
	id := m.Register(printlnShape)
	qt.Assert(t, qt.Equals(id, "0"))
	qt.Assert(t, qt.Equals(m.Register(printlnShape), id))
	qt.Assert(t, qt.Equals(m.Len(), 1))

	other := printlnShape
	other.Name = "print"
	qt.Assert(t, qt.Equals(m.Register(other), "1"))
	qt.Assert(t, qt.Equals(m.Register(printlnShape), "0"))
	qt.Assert(t, qt.Equals(m.Len(), 2))
}

func TestCallerIdentity(t *testing.T) {
	tests := []struct {
		name  string
		op    byte
		equal bool
	}{
		{"virtual", classfile.Invokevirtual, true},
		{"static", classfile.Invokestatic, true},
		{"interface", classfile.Invokeinterface, true},
		{"getfield", classfile.Getfield, true},
		{"special", classfile.Invokespecial, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			a := CallShape{Op: test.op, Owner: "a/Base", Name: "m", Descriptor: "()V", Caller: "a/One"}
			b := a
			b.Caller = "a/Two"
			qt.Assert(t, qt.Equals(a.Equal(b), test.equal))

			m := New()
			idA, idB := m.Register(a), m.Register(b)
			qt.Assert(t, qt.Equals(idA == idB, test.equal))
		})
	}
}

func TestDistinctShapesCount(t *testing.T) {
	// Five invocations, two of which repeat an earlier shape.
	calls := []CallShape{
		printlnShape,
		{Op: classfile.Invokestatic, Owner: "java/lang/Math", Name: "abs", Descriptor: "(I)I"},
		printlnShape,
		{Op: classfile.Invokestatic, Owner: "java/lang/Math", Name: "abs", Descriptor: "(J)J"},
		{Op: classfile.Invokestatic, Owner: "java/lang/Math", Name: "abs", Descriptor: "(I)I", Caller: "x/Y"},
	}
	m := New()
	for _, c := range calls {
		m.Register(c)
	}
	qt.Assert(t, qt.Equals(m.Len(), 3))
}

func TestEntriesOrder(t *testing.T) {
	m := New()
	var want []Entry
	for i := range 5 {
		s := CallShape{Op: classfile.Invokestatic, Owner: "p/C", Name: fmt.Sprintf("m%d", i), Descriptor: "()V"}
		want = append(want, Entry{Shape: s, ID: fmt.Sprint(i)})
		m.Register(s)
	}
	qt.Assert(t, qt.CmpEquals(m.Entries(), want))

	var got []string
	for shape, id := range m.All() {
		got = append(got, shape.Name+"="+id)
	}
	qt.Assert(t, qt.DeepEquals(got, []string{"m0=0", "m1=1", "m2=2", "m3=3", "m4=4"}))

	s, ok := m.Shape("3")
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(s.Name, "m3"))
	_, ok = m.Shape("03")
	qt.Assert(t, qt.IsFalse(ok))
	_, ok = m.Shape("9")
	qt.Assert(t, qt.IsFalse(ok))
}

func TestRegisterConcurrent(t *testing.T) {
	const workers, shapes = 8, 200
	m := New()
	var wg sync.WaitGroup
	results := make([][]string, workers)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range shapes {
				s := CallShape{Op: classfile.Invokestatic, Owner: "p/C", Name: fmt.Sprint("m", i), Descriptor: "()V"}
				results[w] = append(results[w], m.Register(s))
			}
		}()
	}
	wg.Wait()

	qt.Assert(t, qt.Equals(m.Len(), shapes))
	for _, r := range results[1:] {
		qt.Assert(t, qt.CmpEquals(r, results[0], cmp.Comparer(func(a, b string) bool { return a == b })))
	}
	seen := make(map[string]bool)
	for _, e := range m.Entries() {
		qt.Assert(t, qt.IsFalse(seen[e.ID]))
		seen[e.ID] = true
	}
}

func TestOpName(t *testing.T) {
	qt.Assert(t, qt.Equals(printlnShape.OpName(), "invokevirtual"))
	qt.Assert(t, qt.Equals(CallShape{Op: classfile.Putstatic}.OpName(), "putstatic"))
}

func TestCallSiteDescriptor(t *testing.T) {
	tests := []struct {
		shape   CallShape
		want    string
		wantErr string
	}{
		{shape: printlnShape, want: "(Ljava/io/PrintStream;Ljava/lang/String;)V"},
		{
			shape: CallShape{Op: classfile.Invokestatic, Owner: "java/lang/Math", Name: "abs", Descriptor: "(J)J"},
			want:  "(J)J",
		},
		{
			shape: CallShape{Op: classfile.Invokeinterface, Owner: "java/util/List", Name: "size", Descriptor: "()I"},
			want:  "(Ljava/util/List;)I",
		},
		{
			shape: CallShape{Op: classfile.Invokespecial, Owner: "a/Base", Name: "hidden", Descriptor: "(I)V", Caller: "a/Derived"},
			want:  "(La/Derived;I)V",
		},
		{
			shape: CallShape{Op: classfile.Getfield, Owner: "a/Point", Name: "x", Descriptor: "D"},
			want:  "(La/Point;)D",
		},
		{
			shape: CallShape{Op: classfile.Putfield, Owner: "a/Point", Name: "x", Descriptor: "D"},
			want:  "(La/Point;D)V",
		},
		{
			shape: CallShape{Op: classfile.Getstatic, Owner: "a/Point", Name: "ORIGIN", Descriptor: "La/Point;"},
			want:  "()La/Point;",
		},
		{
			shape: CallShape{Op: classfile.Putstatic, Owner: "a/Point", Name: "count", Descriptor: "[I"},
			want:  "([I)V",
		},
		{
			shape:   CallShape{Op: classfile.Invokedynamic, Owner: "a/Point", Name: "x", Descriptor: "()V"},
			wantErr: `no call site descriptor for opcode 0xba`,
		},
		{
			shape:   CallShape{Op: classfile.Invokevirtual, Owner: "a/Point", Name: "x", Descriptor: "I"},
			wantErr: `invalid method descriptor "I"`,
		},
	}
	for _, test := range tests {
		t.Run(test.shape.OpName()+" "+test.shape.Name, func(t *testing.T) {
			got, err := test.shape.CallSiteDescriptor()
			if test.wantErr != "" {
				qt.Assert(t, qt.ErrorMatches(err, test.wantErr))
				return
			}
			qt.Assert(t, qt.IsNil(err))
			qt.Assert(t, qt.Equals(got, test.want))
		})
	}
}
