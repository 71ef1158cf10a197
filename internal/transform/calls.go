// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package transform

import (
	"fmt"
	"log"
	"strings"

	"github.com/burrowers/indy/internal/classfile"
	"github.com/burrowers/indy/internal/mapping"
)

// CallOptions configures [RewriteCalls].
type CallOptions struct {
	Mapping *mapping.SymbolMapping
	Handle  BootstrapHandle
	Filter  MethodFilter
}

// RewriteCalls replaces the method invocations of one class with dynamic call
// sites linking through opts.Handle, and returns how many it replaced.
//
// Constructor invocations and calls on array types are left alone, since
// neither can be expressed as a dynamic call site.
func RewriteCalls(cf *classfile.ClassFile, opts CallOptions) (int, error) {
	className, err := cf.ClassName()
	if err != nil {
		return 0, err
	}
	bsm := &bootstrapIndex{cf: cf, handle: opts.Handle}
	rewritten := 0
	_, err = rewriteCode(cf, func(m *classfile.Member, code *classfile.Code) (bool, error) {
		if ok, err := opts.Filter.include(cf.Pool, m); err != nil || !ok {
			return false, err
		}
		changed := false
		for i, insn := range code.Insns {
			mi, ok := insn.(*classfile.MethodInsn)
			if !ok {
				continue
			}
			if mi.Name == classfile.ConstructorName || strings.HasPrefix(mi.Owner, "[") {
				continue
			}
			switch mi.Op {
			case classfile.Invokestatic, classfile.Invokevirtual, classfile.Invokespecial, classfile.Invokeinterface:
			default:
				log.Printf("%s.%s: leaving unsupported %s of %s.%s alone",
					className, m.Name, classfile.OpcodeName(mi.Op), mi.Owner, mi.Name)
				continue
			}
			shape := mapping.CallShape{
				Op:         mi.Op,
				Owner:      mi.Owner,
				Name:       mi.Name,
				Descriptor: mi.Descriptor,
				Caller:     className,
			}
			desc, err := shape.CallSiteDescriptor()
			if err != nil {
				return false, err
			}
			index, err := bsm.get()
			if err != nil {
				return false, err
			}
			code.Insns[i] = &classfile.InvokeDynamicInsn{
				Name:       opts.Mapping.Register(shape),
				Descriptor: desc,
				Bootstrap:  index,
			}
			changed = true
			rewritten++
		}
		return changed, nil
	})
	if err != nil {
		return rewritten, fmt.Errorf("%s: %w", className, err)
	}
	if rewritten > 0 {
		promote(cf, className)
	}
	return rewritten, nil
}
