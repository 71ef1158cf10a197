// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package classfile

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"slices"
)

// Insn is one element of a decoded instruction stream: either a *Label or
// one of the instruction types below.
//
// Branch targets, exception ranges, debug tables and stack map frames all
// refer to labels rather than byte offsets, so instructions can be replaced
// by ones of a different length and the offsets are recomputed on encode.
type Insn interface {
	isInsn()
}

// Label marks a position in an instruction stream.
type Label struct {
	offset int
}

// Offset is the byte offset the label was last decoded or encoded at.
func (l *Label) Offset() int { return l.offset }

// PlainInsn is an instruction whose operands never need rewriting.
// Operands that refer to the constant pool stay valid because the pool is
// only ever appended to.
type PlainInsn struct {
	Op       byte
	Operands []byte
}

// LdcInsn loads a constant. Op is Ldc, LdcW or Ldc2W; Ldc is widened to
// LdcW when the index does not fit in one byte.
type LdcInsn struct {
	Op    byte
	Index uint16
}

// TypeInsn is new, anewarray, checkcast or instanceof.
type TypeInsn struct {
	Op    byte
	Index uint16
}

// FieldInsn is getstatic, putstatic, getfield or putfield.
type FieldInsn struct {
	Op         byte
	Owner      string
	Name       string
	Descriptor string

	index uint16
}

// MethodInsn is invokevirtual, invokespecial, invokestatic or invokeinterface.
type MethodInsn struct {
	Op         byte
	Owner      string
	Name       string
	Descriptor string
	Interface  bool

	index uint16
}

// InvokeDynamicInsn is an invokedynamic instruction. Bootstrap indexes the
// class's BootstrapMethods attribute.
type InvokeDynamicInsn struct {
	Name       string
	Descriptor string
	Bootstrap  uint16

	index uint16
}

// JumpInsn is a conditional or unconditional branch.
type JumpInsn struct {
	Op     byte
	Target *Label
}

// SwitchInsn is tableswitch or lookupswitch. For tableswitch, Keys holds
// the consecutive keys starting at the low bound.
type SwitchInsn struct {
	Op      byte
	Default *Label
	Keys    []int32
	Targets []*Label
}

func (*Label) isInsn()             {}
func (*PlainInsn) isInsn()         {}
func (*LdcInsn) isInsn()           {}
func (*TypeInsn) isInsn()          {}
func (*FieldInsn) isInsn()         {}
func (*MethodInsn) isInsn()        {}
func (*InvokeDynamicInsn) isInsn() {}
func (*JumpInsn) isInsn()          {}
func (*SwitchInsn) isInsn()        {}

// Op returns the opcode of an instruction, or -1 for a label.
func Op(insn Insn) int {
	switch insn := insn.(type) {
	case *PlainInsn:
		return int(insn.Op)
	case *LdcInsn:
		return int(insn.Op)
	case *TypeInsn:
		return int(insn.Op)
	case *FieldInsn:
		return int(insn.Op)
	case *MethodInsn:
		return int(insn.Op)
	case *InvokeDynamicInsn:
		return Invokedynamic
	case *JumpInsn:
		return int(insn.Op)
	case *SwitchInsn:
		return int(insn.Op)
	}
	return -1
}

// Handler is one exception table entry.
type Handler struct {
	Start, End, Handler *Label
	CatchType           uint16
}

// LineNumber is one LineNumberTable entry.
type LineNumber struct {
	Start *Label
	Line  uint16
}

// LocalVariable is one LocalVariableTable or LocalVariableTypeTable entry.
type LocalVariable struct {
	Start, End *Label
	NameIndex  uint16
	TypeIndex  uint16
	Slot       uint16
}

// Code is a decoded Code attribute.
type Code struct {
	MaxStack  uint16
	MaxLocals uint16
	Insns     []Insn
	Handlers  []Handler

	Lines      []LineNumber
	Locals     []LocalVariable
	LocalTypes []LocalVariable
	// Frames is nil when the method has no StackMapTable.
	Frames []Frame

	// attrs keeps the sub-attributes in their original order;
	// the ones listed above are regenerated on encode.
	attrs []Attribute
}

// Code decodes the method's Code attribute. It returns nil without error for
// abstract and native methods.
func (m *Member) Code(pool *ConstantPool) (*Code, error) {
	attr := m.Attribute(AttrCode)
	if attr == nil {
		return nil, nil
	}
	code, err := DecodeCode(pool, attr.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding code of %s%s: %w", m.Name, m.Descriptor, err)
	}
	return code, nil
}

// SetCode encodes c and stores it as the method's Code attribute.
func (m *Member) SetCode(pool *ConstantPool, c *Code) error {
	data, err := c.Encode(pool)
	if err != nil {
		return fmt.Errorf("encoding code of %s%s: %w", m.Name, m.Descriptor, err)
	}
	m.SetAttribute(AttrCode, data)
	return nil
}

// DecodeCode decodes the body of a Code attribute.
func DecodeCode(pool *ConstantPool, data []byte) (*Code, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("Code attribute too short: %d bytes", len(data))
	}
	c := &Code{
		MaxStack:  binary.BigEndian.Uint16(data[0:2]),
		MaxLocals: binary.BigEndian.Uint16(data[2:4]),
	}
	codeLength := int(binary.BigEndian.Uint32(data[4:8]))
	if len(data) < 8+codeLength+2 {
		return nil, fmt.Errorf("Code attribute data too short for code_length %d", codeLength)
	}
	d := &decoder{
		pool:   pool,
		code:   data[8 : 8+codeLength],
		labels: make(map[int]*Label),
	}
	if err := d.instructions(); err != nil {
		return nil, err
	}

	r := &reader{data: data[8+codeLength:]}
	handlers := int(r.u2())
	for range handlers {
		c.Handlers = append(c.Handlers, Handler{
			Start:     d.label(int(r.u2())),
			End:       d.label(int(r.u2())),
			Handler:   d.label(int(r.u2())),
			CatchType: r.u2(),
		})
	}
	attrCount := int(r.u2())
	for range attrCount {
		name, err := pool.Utf8(r.u2())
		if err != nil {
			return nil, fmt.Errorf("resolving code attribute name: %w", err)
		}
		attrData := r.bytes(int(r.u4()))
		if r.err != nil {
			break
		}
		c.attrs = append(c.attrs, Attribute{Name: name, Data: attrData})

		ar := &reader{data: attrData}
		switch name {
		case AttrLineNumberTable:
			for range int(ar.u2()) {
				c.Lines = append(c.Lines, LineNumber{Start: d.label(int(ar.u2())), Line: ar.u2()})
			}
		case AttrLocalVariableTable, AttrLocalVariableTypeTable:
			var vars []LocalVariable
			for range int(ar.u2()) {
				start := int(ar.u2())
				length := int(ar.u2())
				vars = append(vars, LocalVariable{
					Start:     d.label(start),
					End:       d.label(start + length),
					NameIndex: ar.u2(),
					TypeIndex: ar.u2(),
					Slot:      ar.u2(),
				})
			}
			if name == AttrLocalVariableTable {
				c.Locals = vars
			} else {
				c.LocalTypes = vars
			}
		case AttrStackMapTable:
			frames, err := decodeFrames(ar, d)
			if err != nil {
				return nil, err
			}
			c.Frames = frames
		}
		if ar.err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, ar.err)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("decoding Code attribute: %w", r.err)
	}

	insns, err := d.placeLabels()
	if err != nil {
		return nil, err
	}
	c.Insns = insns
	return c, nil
}

type decoder struct {
	pool   *ConstantPool
	code   []byte
	labels map[int]*Label

	insns   []Insn
	offsets []int
}

func (d *decoder) label(offset int) *Label {
	if l := d.labels[offset]; l != nil {
		return l
	}
	l := &Label{offset: offset}
	d.labels[offset] = l
	return l
}

func (d *decoder) instructions() error {
	code := d.code
	for pc := 0; pc < len(code); {
		op := code[pc]
		start := pc
		var insn Insn
		need := func(n int) error {
			if pc+n > len(code) {
				return fmt.Errorf("truncated %s at offset %d", opcodeNames[op], start)
			}
			return nil
		}
		u2 := func(at int) uint16 { return binary.BigEndian.Uint16(code[at:]) }
		i4 := func(at int) int32 { return int32(binary.BigEndian.Uint32(code[at:])) }

		switch {
		case op == Ldc:
			if err := need(2); err != nil {
				return err
			}
			insn = &LdcInsn{Op: op, Index: uint16(code[pc+1])}
			pc += 2
		case op == LdcW || op == Ldc2W:
			if err := need(3); err != nil {
				return err
			}
			insn = &LdcInsn{Op: op, Index: u2(pc + 1)}
			pc += 3
		case op == New || op == Anewarray || op == Checkcast || op == Instanceof:
			if err := need(3); err != nil {
				return err
			}
			insn = &TypeInsn{Op: op, Index: u2(pc + 1)}
			pc += 3
		case IsFieldOp(op):
			if err := need(3); err != nil {
				return err
			}
			idx := u2(pc + 1)
			ref, err := d.pool.MemberRef(idx)
			if err != nil {
				return fmt.Errorf("%s at offset %d: %w", opcodeNames[op], start, err)
			}
			insn = &FieldInsn{Op: op, Owner: ref.Owner, Name: ref.Name, Descriptor: ref.Descriptor, index: idx}
			pc += 3
		case IsInvokeOp(op):
			size := 3
			if op == Invokeinterface {
				size = 5
			}
			if err := need(size); err != nil {
				return err
			}
			idx := u2(pc + 1)
			ref, err := d.pool.MemberRef(idx)
			if err != nil {
				return fmt.Errorf("%s at offset %d: %w", opcodeNames[op], start, err)
			}
			insn = &MethodInsn{
				Op: op, Owner: ref.Owner, Name: ref.Name, Descriptor: ref.Descriptor,
				Interface: ref.Interface, index: idx,
			}
			pc += size
		case op == Invokedynamic:
			if err := need(5); err != nil {
				return err
			}
			idx := u2(pc + 1)
			c, err := d.pool.Get(idx)
			if err != nil {
				return fmt.Errorf("invokedynamic at offset %d: %w", start, err)
			}
			indy, ok := c.(*ConstantDynamic)
			if !ok || indy.Kind != TagInvokeDynamic {
				return fmt.Errorf("invokedynamic at offset %d: index %d is not InvokeDynamic", start, idx)
			}
			name, desc, err := d.pool.NameAndType(indy.NameAndTypeIndex)
			if err != nil {
				return fmt.Errorf("invokedynamic at offset %d: %w", start, err)
			}
			insn = &InvokeDynamicInsn{Name: name, Descriptor: desc, Bootstrap: indy.BootstrapIndex, index: idx}
			pc += 5
		case isJump(op):
			size := 3
			if op == GotoW || op == JsrW {
				size = 5
			}
			if err := need(size); err != nil {
				return err
			}
			var target int
			if size == 3 {
				target = start + int(int16(u2(pc+1)))
			} else {
				target = start + int(i4(pc+1))
			}
			insn = &JumpInsn{Op: op, Target: d.label(target)}
			pc += size
		case op == Tableswitch || op == Lookupswitch:
			pc++
			pc += (4 - pc%4) % 4
			if err := need(8); err != nil {
				return err
			}
			sw := &SwitchInsn{Op: op, Default: d.label(start + int(i4(pc)))}
			if op == Tableswitch {
				if err := need(12); err != nil {
					return err
				}
				low, high := i4(pc+4), i4(pc+8)
				if high < low {
					return fmt.Errorf("tableswitch at offset %d: high %d < low %d", start, high, low)
				}
				n := int(high-low) + 1
				pc += 12
				if err := need(4 * n); err != nil {
					return err
				}
				for i := range n {
					sw.Keys = append(sw.Keys, low+int32(i))
					sw.Targets = append(sw.Targets, d.label(start+int(i4(pc+4*i))))
				}
				pc += 4 * n
			} else {
				n := int(i4(pc + 4))
				pc += 8
				if n < 0 {
					return fmt.Errorf("lookupswitch at offset %d: negative pair count", start)
				}
				if err := need(8 * n); err != nil {
					return err
				}
				for i := range n {
					sw.Keys = append(sw.Keys, i4(pc+8*i))
					sw.Targets = append(sw.Targets, d.label(start+int(i4(pc+8*i+4))))
				}
				pc += 8 * n
			}
			insn = sw
		case op == Wide:
			if err := need(2); err != nil {
				return err
			}
			size := 4
			if code[pc+1] == Iinc {
				size = 6
			}
			if err := need(size); err != nil {
				return err
			}
			insn = &PlainInsn{Op: op, Operands: slices.Clone(code[pc+1 : pc+size])}
			pc += size
		default:
			n := operandSize(op)
			if n < 0 {
				return fmt.Errorf("invalid opcode 0x%02x at offset %d", op, start)
			}
			if err := need(1 + n); err != nil {
				return err
			}
			var operands []byte
			if n > 0 {
				operands = slices.Clone(code[pc+1 : pc+1+n])
			}
			insn = &PlainInsn{Op: op, Operands: operands}
			pc += 1 + n
		}
		d.insns = append(d.insns, insn)
		d.offsets = append(d.offsets, start)
	}
	return nil
}

// placeLabels interleaves the labels created while decoding with the
// instructions they point at.
func (d *decoder) placeLabels() ([]Insn, error) {
	out := make([]Insn, 0, len(d.insns)+len(d.labels))
	placed := 0
	for i, insn := range d.insns {
		if l := d.labels[d.offsets[i]]; l != nil {
			out = append(out, l)
			placed++
		}
		out = append(out, insn)
	}
	if l := d.labels[len(d.code)]; l != nil {
		out = append(out, l)
		placed++
	}
	if placed != len(d.labels) {
		for off := range d.labels {
			if _, found := slices.BinarySearch(d.offsets, off); !found && off != len(d.code) {
				return nil, fmt.Errorf("offset %d is not an instruction boundary", off)
			}
		}
	}
	return out, nil
}

// resolve interns the constants of instructions created by a rewrite.
func (c *Code) resolve(pool *ConstantPool) {
	for _, insn := range c.Insns {
		switch insn := insn.(type) {
		case *FieldInsn:
			if insn.index == 0 {
				insn.index = pool.AddRef(TagFieldref, insn.Owner, insn.Name, insn.Descriptor)
			}
		case *MethodInsn:
			if insn.index == 0 {
				kind := uint8(TagMethodref)
				if insn.Interface {
					kind = TagInterfaceMethodref
				}
				insn.index = pool.AddRef(kind, insn.Owner, insn.Name, insn.Descriptor)
			}
		case *InvokeDynamicInsn:
			if insn.index == 0 {
				insn.index = pool.AddInvokeDynamic(insn.Bootstrap, insn.Name, insn.Descriptor)
			}
		}
	}
}

func insnSize(insn Insn, pc int) int {
	switch insn := insn.(type) {
	case *Label:
		return 0
	case *PlainInsn:
		return 1 + len(insn.Operands)
	case *LdcInsn:
		if insn.Op == Ldc && insn.Index <= math.MaxUint8 {
			return 2
		}
		return 3
	case *TypeInsn, *FieldInsn:
		return 3
	case *MethodInsn:
		if insn.Op == Invokeinterface {
			return 5
		}
		return 3
	case *InvokeDynamicInsn:
		return 5
	case *JumpInsn:
		if insn.Op == GotoW || insn.Op == JsrW {
			return 5
		}
		return 3
	case *SwitchInsn:
		pad := (4 - (pc+1)%4) % 4
		if insn.Op == Tableswitch {
			return 1 + pad + 12 + 4*len(insn.Targets)
		}
		return 1 + pad + 8 + 8*len(insn.Targets)
	}
	panic(fmt.Sprintf("unexpected instruction %T", insn))
}

// layout assigns label offsets and returns the code length. A goto or jsr
// whose target is out of 16-bit reach becomes goto_w or jsr_w; as widening
// only moves later code further away, the loop ends once nothing changes.
func (c *Code) layout() int {
	for {
		pc := 0
		for _, insn := range c.Insns {
			if l, ok := insn.(*Label); ok {
				l.offset = pc
			}
			pc += insnSize(insn, pc)
		}

		widened := false
		start := 0
		for _, insn := range c.Insns {
			if j, ok := insn.(*JumpInsn); ok && (j.Op == Goto || j.Op == Jsr) {
				if delta := j.Target.offset - start; delta < math.MinInt16 || delta > math.MaxInt16 {
					j.Op += GotoW - Goto
					widened = true
				}
			}
			start += insnSize(insn, start)
		}
		if !widened {
			return pc
		}
	}
}

// Encode serializes c into the body of a Code attribute, interning any new
// constants into pool.
func (c *Code) Encode(pool *ConstantPool) ([]byte, error) {
	c.resolve(pool)

	pc := c.layout()
	if pc == 0 || pc > math.MaxUint16 {
		return nil, fmt.Errorf("method code length %d out of range", pc)
	}

	w := &writer{}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	w.u4(uint32(pc))
	base := w.len()
	for _, insn := range c.Insns {
		start := w.len() - base
		branch := func(target *Label, wide bool) error {
			delta := target.offset - start
			if wide {
				w.u4(uint32(int32(delta)))
				return nil
			}
			if delta < math.MinInt16 || delta > math.MaxInt16 {
				return fmt.Errorf("branch at offset %d does not fit in 16 bits; method too large", start)
			}
			w.u2(uint16(int16(delta)))
			return nil
		}
		switch insn := insn.(type) {
		case *Label:
		case *PlainInsn:
			w.u1(insn.Op)
			w.bytes(insn.Operands)
		case *LdcInsn:
			switch {
			case insn.Op == Ldc && insn.Index <= math.MaxUint8:
				w.u1(Ldc)
				w.u1(uint8(insn.Index))
			case insn.Op == Ldc:
				w.u1(LdcW)
				w.u2(insn.Index)
			default:
				w.u1(insn.Op)
				w.u2(insn.Index)
			}
		case *TypeInsn:
			w.u1(insn.Op)
			w.u2(insn.Index)
		case *FieldInsn:
			w.u1(insn.Op)
			w.u2(insn.index)
		case *MethodInsn:
			w.u1(insn.Op)
			w.u2(insn.index)
			if insn.Op == Invokeinterface {
				params, _, err := ParseMethodDescriptor(insn.Descriptor)
				if err != nil {
					return nil, err
				}
				count := 1
				for _, p := range params {
					count += SlotSize(p)
				}
				w.u1(uint8(count))
				w.u1(0)
			}
		case *InvokeDynamicInsn:
			w.u1(Invokedynamic)
			w.u2(insn.index)
			w.u2(0)
		case *JumpInsn:
			w.u1(insn.Op)
			if err := branch(insn.Target, insn.Op == GotoW || insn.Op == JsrW); err != nil {
				return nil, err
			}
		case *SwitchInsn:
			w.u1(insn.Op)
			for (w.len()-base)%4 != 0 {
				w.u1(0)
			}
			branch(insn.Default, true)
			if insn.Op == Tableswitch {
				low := int32(0)
				if len(insn.Keys) > 0 {
					low = insn.Keys[0]
				}
				w.u4(uint32(low))
				w.u4(uint32(low + int32(len(insn.Targets)) - 1))
				for _, t := range insn.Targets {
					branch(t, true)
				}
			} else {
				w.u4(uint32(len(insn.Targets)))
				for i, t := range insn.Targets {
					w.u4(uint32(insn.Keys[i]))
					branch(t, true)
				}
			}
		}
	}

	w.u2(uint16(len(c.Handlers)))
	for _, h := range c.Handlers {
		w.u2(uint16(h.Start.offset))
		w.u2(uint16(h.End.offset))
		w.u2(uint16(h.Handler.offset))
		w.u2(h.CatchType)
	}

	attrs := c.subAttributes(pool)
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		w.u2(pool.AddUtf8(a.Name))
		w.u4(uint32(len(a.Data)))
		w.bytes(a.Data)
	}
	return w.buf, nil
}

// subAttributes regenerates the offset-carrying attributes in their original
// order and appends any that are new.
func (c *Code) subAttributes(pool *ConstantPool) []Attribute {
	encodeLines := func() []byte {
		w := &writer{}
		w.u2(uint16(len(c.Lines)))
		for _, l := range c.Lines {
			w.u2(uint16(l.Start.offset))
			w.u2(l.Line)
		}
		return w.buf
	}
	encodeLocals := func(vars []LocalVariable) []byte {
		w := &writer{}
		w.u2(uint16(len(vars)))
		for _, v := range vars {
			w.u2(uint16(v.Start.offset))
			w.u2(uint16(v.End.offset - v.Start.offset))
			w.u2(v.NameIndex)
			w.u2(v.TypeIndex)
			w.u2(v.Slot)
		}
		return w.buf
	}

	var out []Attribute
	seen := make(map[string]bool)
	// Tables present in the original are kept even when empty.
	add := func(name string, keep bool) {
		seen[name] = true
		switch name {
		case AttrLineNumberTable:
			if keep || c.Lines != nil {
				out = append(out, Attribute{Name: name, Data: encodeLines()})
			}
		case AttrLocalVariableTable:
			if keep || c.Locals != nil {
				out = append(out, Attribute{Name: name, Data: encodeLocals(c.Locals)})
			}
		case AttrLocalVariableTypeTable:
			if keep || c.LocalTypes != nil {
				out = append(out, Attribute{Name: name, Data: encodeLocals(c.LocalTypes)})
			}
		case AttrStackMapTable:
			if keep || c.Frames != nil {
				out = append(out, Attribute{Name: name, Data: encodeFrames(c.Frames)})
			}
		}
	}
	for _, a := range c.attrs {
		switch a.Name {
		case AttrLineNumberTable, AttrLocalVariableTable, AttrLocalVariableTypeTable, AttrStackMapTable:
			add(a.Name, true)
		case AttrRuntimeVisibleTypeAnnotations, AttrRuntimeInvisibleTypeAnnotations:
			log.Printf("dropping %s: it refers to bytecode offsets", a.Name)
		default:
			out = append(out, a)
		}
	}
	for _, name := range []string{AttrLineNumberTable, AttrLocalVariableTable, AttrLocalVariableTypeTable, AttrStackMapTable} {
		if !seen[name] {
			add(name, false)
		}
	}
	for _, a := range out {
		pool.AddUtf8(a.Name)
	}
	return out
}

// reader reads big-endian values from a byte slice, recording the first
// out-of-bounds read in err instead of panicking.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("unexpected end of data at byte %d", r.pos)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u1() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u2() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u4() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) bytes(n int) []byte {
	return slices.Clone(r.take(n))
}
