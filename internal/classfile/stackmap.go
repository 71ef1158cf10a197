// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package classfile

import "fmt"

// FrameKind is the shape of a StackMapTable entry, independent of how its
// offset delta is encoded.
type FrameKind uint8

const (
	SameFrame FrameKind = iota
	SameLocals1StackItemFrame
	ChopFrame
	AppendFrame
	FullFrame
)

// Verification type tags.
const (
	ItemTop               = 0
	ItemInteger           = 1
	ItemFloat             = 2
	ItemDouble            = 3
	ItemLong              = 4
	ItemNull              = 5
	ItemUninitializedThis = 6
	ItemObject            = 7
	ItemUninitialized     = 8
)

// VerificationType is one verification_type_info entry.
type VerificationType struct {
	Tag uint8
	// Class is the constant pool index of an ItemObject type.
	Class uint16
	// New is the new instruction that created an ItemUninitialized value.
	New *Label
}

// Frame is one decoded StackMapTable entry anchored at a label.
type Frame struct {
	Kind   FrameKind
	Target *Label
	// Chop is the number of locals removed by a ChopFrame.
	Chop   int
	Locals []VerificationType
	Stack  []VerificationType
}

func decodeFrames(r *reader, d *decoder) ([]Frame, error) {
	count := int(r.u2())
	frames := make([]Frame, 0, count)
	offset := -1
	for i := range count {
		frameType := r.u1()
		var f Frame
		var delta int
		switch {
		case frameType <= 63:
			f.Kind = SameFrame
			delta = int(frameType)
		case frameType <= 127:
			f.Kind = SameLocals1StackItemFrame
			delta = int(frameType - 64)
			f.Stack = []VerificationType{decodeVerificationType(r, d)}
		case frameType < 247:
			return nil, fmt.Errorf("StackMapTable entry %d: reserved frame type %d", i, frameType)
		case frameType == 247:
			f.Kind = SameLocals1StackItemFrame
			delta = int(r.u2())
			f.Stack = []VerificationType{decodeVerificationType(r, d)}
		case frameType <= 250:
			f.Kind = ChopFrame
			f.Chop = int(251 - frameType)
			delta = int(r.u2())
		case frameType == 251:
			f.Kind = SameFrame
			delta = int(r.u2())
		case frameType <= 254:
			f.Kind = AppendFrame
			delta = int(r.u2())
			for range int(frameType - 251) {
				f.Locals = append(f.Locals, decodeVerificationType(r, d))
			}
		default:
			f.Kind = FullFrame
			delta = int(r.u2())
			for range int(r.u2()) {
				f.Locals = append(f.Locals, decodeVerificationType(r, d))
			}
			for range int(r.u2()) {
				f.Stack = append(f.Stack, decodeVerificationType(r, d))
			}
		}
		if r.err != nil {
			return nil, fmt.Errorf("StackMapTable entry %d: %w", i, r.err)
		}
		offset += delta + 1
		f.Target = d.label(offset)
		frames = append(frames, f)
	}
	return frames, nil
}

func decodeVerificationType(r *reader, d *decoder) VerificationType {
	vt := VerificationType{Tag: r.u1()}
	switch vt.Tag {
	case ItemObject:
		vt.Class = r.u2()
	case ItemUninitialized:
		vt.New = d.label(int(r.u2()))
	}
	return vt
}

func encodeVerificationTypes(w *writer, types []VerificationType) {
	for _, vt := range types {
		w.u1(vt.Tag)
		switch vt.Tag {
		case ItemObject:
			w.u2(vt.Class)
		case ItemUninitialized:
			w.u2(uint16(vt.New.offset))
		}
	}
}

// encodeFrames picks the most compact encoding for each frame given the
// offsets its labels were just assigned.
func encodeFrames(frames []Frame) []byte {
	w := &writer{}
	w.u2(uint16(len(frames)))
	prev := -1
	for _, f := range frames {
		delta := f.Target.offset - prev - 1
		prev = f.Target.offset
		switch f.Kind {
		case SameFrame:
			if delta <= 63 {
				w.u1(uint8(delta))
			} else {
				w.u1(251)
				w.u2(uint16(delta))
			}
		case SameLocals1StackItemFrame:
			if delta <= 63 {
				w.u1(uint8(64 + delta))
			} else {
				w.u1(247)
				w.u2(uint16(delta))
			}
			encodeVerificationTypes(w, f.Stack)
		case ChopFrame:
			w.u1(uint8(251 - f.Chop))
			w.u2(uint16(delta))
		case AppendFrame:
			w.u1(uint8(251 + len(f.Locals)))
			w.u2(uint16(delta))
			encodeVerificationTypes(w, f.Locals)
		case FullFrame:
			w.u1(255)
			w.u2(uint16(delta))
			w.u2(uint16(len(f.Locals)))
			encodeVerificationTypes(w, f.Locals)
			w.u2(uint16(len(f.Stack)))
			encodeVerificationTypes(w, f.Stack)
		}
	}
	return w.buf
}
