// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package main

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/burrowers/indy/internal/archive"
	"github.com/burrowers/indy/internal/classfile"
	"github.com/burrowers/indy/internal/mapping"
	"github.com/burrowers/indy/internal/render"
	"github.com/burrowers/indy/internal/transform"
	"github.com/burrowers/indy/internal/verify"
)

var errOwnerMissing = errors.New("no Main-Class attribute in " + archive.ManifestName + "; use -bootstrap-method-owner")

// run obfuscates the input, which is either a single class or a jar.
// Nothing is written until every pass and the native source succeeded.
func run(opts *options) error {
	start := time.Now()
	isClass, err := sniffClass(opts.input)
	if err != nil {
		return err
	}
	if flagSeed.present() {
		log.Printf("accessor names seeded with %s", flagSeed)
	}

	m := mapping.New()
	var res *result
	if isClass {
		res, err = obfuscateClass(opts, m)
	} else {
		res, err = obfuscateArchive(opts, m)
	}
	if err != nil {
		return err
	}
	defer res.close()
	log.Printf("obfuscated %s in %s; %d call site kinds", opts.input, debugSince(start), m.Len())

	model, err := render.NewDataModel(res.handle, m, opts.fieldMode)
	if err != nil {
		return err
	}
	var native bytes.Buffer
	if err := render.Render(&native, opts.templateName, opts.template, model); err != nil {
		return err
	}

	if err := writeOutput(opts.output, res.perm, res.write); err != nil {
		return err
	}
	if opts.nativeOutput == "" {
		_, err := native.WriteTo(os.Stdout)
		return err
	}
	return writeOutput(opts.nativeOutput, 0o644, func(w io.Writer) error {
		_, err := native.WriteTo(w)
		return err
	})
}

// result is an obfuscated artifact ready to be written.
type result struct {
	handle transform.BootstrapHandle
	perm   os.FileMode
	write  func(w io.Writer) error
	// closer, if set, releases the input once the result is written.
	closer io.Closer
}

func (r *result) close() {
	if r.closer != nil {
		r.closer.Close()
	}
}

// sniffClass reports whether the file at path starts with the class file
// magic. Anything else is treated as a jar.
func sniffClass(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", path, err)
	}
	return classfile.IsClass(magic[:]), nil
}

// pipeline holds what every pass over a run's classes shares.
type pipeline struct {
	opts    *options
	handle  transform.BootstrapHandle
	mapping *mapping.SymbolMapping

	rewritten atomic.Int64
}

// rewrite runs the field pass and then the call-site pass over one class.
// It returns nil if neither pass changed anything.
func (p *pipeline) rewrite(data []byte) ([]byte, error) {
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return nil, err
	}
	fields, err := transform.WrapFields(cf, transform.FieldOptions{
		Mode:    p.opts.fieldMode,
		Filter:  p.opts.filter,
		Names:   p.opts.names,
		Mapping: p.mapping,
		Handle:  p.handle,
	})
	if err != nil {
		return nil, err
	}
	if fields > 0 {
		// The call-site pass reads what the field pass wrote,
		// accessors included.
		if data, err = p.encode(cf); err != nil {
			return nil, err
		}
		if cf, err = classfile.ParseBytes(data); err != nil {
			return nil, err
		}
	}
	calls, err := transform.RewriteCalls(cf, transform.CallOptions{
		Mapping: p.mapping,
		Handle:  p.handle,
		Filter:  p.opts.filter,
	})
	if err != nil {
		return nil, err
	}
	if fields == 0 && calls == 0 {
		return nil, nil
	}
	p.rewritten.Add(1)
	className, _ := cf.ClassName()
	log.Printf("%s: %d field instructions and %d calls replaced", className, fields, calls)
	return p.encode(cf)
}

// addBootstrap runs the bootstrap pass over the owner class.
func (p *pipeline) addBootstrap(cf *classfile.ClassFile) ([]byte, error) {
	if err := transform.AddBootstrap(cf, p.handle, p.opts.libraryName); err != nil {
		return nil, err
	}
	return p.encode(cf)
}

// encode writes cf back out, checking the result with an independent parser
// if -verify was given.
func (p *pipeline) encode(cf *classfile.ClassFile) ([]byte, error) {
	data, err := cf.Encode()
	if err != nil {
		return nil, err
	}
	if p.opts.verify {
		className, err := cf.ClassName()
		if err != nil {
			return nil, err
		}
		if err := verify.Class(data, className); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// obfuscateClass runs every pass over a single class, which also declares
// the bootstrap method.
func obfuscateClass(opts *options, m *mapping.SymbolMapping) (*result, error) {
	info, err := os.Stat(opts.input)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(opts.input)
	if err != nil {
		return nil, err
	}
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opts.input, err)
	}
	className, err := cf.ClassName()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opts.input, err)
	}
	if opts.owner != "" && opts.owner != className {
		log.Printf("ignoring bootstrap method owner %s; a single class always declares its own", opts.owner)
	}
	h := transform.BootstrapHandle{Owner: className, Name: opts.bootstrapName}
	p := &pipeline{opts: opts, handle: h, mapping: m}

	out, err := p.rewrite(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opts.input, err)
	}
	if out != nil {
		data = out
	}
	if cf, err = classfile.ParseBytes(data); err != nil {
		return nil, fmt.Errorf("%s: %w", opts.input, err)
	}
	if data, err = p.addBootstrap(cf); err != nil {
		return nil, err
	}
	return &result{
		handle: h,
		perm:   info.Mode().Perm(),
		write: func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		},
	}, nil
}

// obfuscateArchive rewrites the selected classes of a jar in parallel, and
// only then declares the bootstrap method in its owner.
func obfuscateArchive(opts *options, m *mapping.SymbolMapping) (_ *result, err error) {
	info, err := os.Stat(opts.input)
	if err != nil {
		return nil, err
	}
	a, err := archive.Open(opts.input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opts.input, err)
	}
	// Entries are copied from the archive when the result is written.
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	owner, err := resolveOwner(opts, a)
	if err != nil {
		return nil, err
	}
	h := transform.BootstrapHandle{Owner: owner, Name: opts.bootstrapName}
	log.Printf("bootstrap method %s declared in %s", h.Name, h.Owner)
	p := &pipeline{opts: opts, handle: h, mapping: m}

	// results holds the new contents of each entry; nil entries are copied.
	results := make([][]byte, len(a.Files))
	var included []int
	for i, f := range a.Files {
		if archive.IsClass(f) && opts.include.Match(f.Name) {
			included = append(included, i)
		}
	}

	start := time.Now()
	g := new(errgroup.Group)
	g.SetLimit(opts.jobs)
	for _, i := range included {
		f := a.Files[i]
		g.Go(func() error {
			data, err := archive.ReadFile(f)
			if err != nil {
				return err
			}
			if results[i], err = p.rewrite(data); err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Printf("rewrote %d of %d included classes in %s", p.rewritten.Load(), len(included), debugSince(start))

	// Every worker is done; the bootstrap pass runs alone.
	ownerName := archive.ClassEntryName(owner)
	var newOwner []byte
	if i := slices.IndexFunc(a.Files, func(f *zip.File) bool { return f.Name == ownerName }); i >= 0 {
		data := results[i]
		if data == nil {
			if data, err = archive.ReadFile(a.Files[i]); err != nil {
				return nil, err
			}
		}
		cf, err := classfile.ParseBytes(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ownerName, err)
		}
		if results[i], err = p.addBootstrap(cf); err != nil {
			return nil, err
		}
	} else {
		log.Printf("%s is not in %s; adding it", ownerName, opts.input)
		if err := p.loadOwner(a, results, included); err != nil {
			return nil, err
		}
		if newOwner, err = p.addBootstrap(transform.NewOwnerClass(owner)); err != nil {
			return nil, err
		}
	}

	write := func(w io.Writer) error {
		zw := archive.NewWriter(w)
		for i, f := range a.Files {
			var err error
			if results[i] != nil {
				err = zw.Replace(f, results[i])
			} else {
				err = zw.Copy(f)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
		}
		if newOwner != nil {
			if err := zw.Add(ownerName, newOwner, time.Now()); err != nil {
				return err
			}
		}
		return zw.Close()
	}
	return &result{handle: h, perm: info.Mode().Perm(), write: write, closer: a}, nil
}

// loadOwner makes every included class load the bootstrap owner when it is
// initialized, as the owner is a new class nothing else would load.
func (p *pipeline) loadOwner(a *archive.Archive, results [][]byte, included []int) error {
	g := new(errgroup.Group)
	g.SetLimit(p.opts.jobs)
	for _, i := range included {
		f := a.Files[i]
		g.Go(func() error {
			data := results[i]
			if data == nil {
				var err error
				if data, err = archive.ReadFile(f); err != nil {
					return err
				}
			}
			cf, err := classfile.ParseBytes(data)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			if cf.AccessFlags&classfile.AccInterface != 0 {
				// Interface initializers only run on a static field access.
				log.Printf("%s: not loading the bootstrap owner from an interface", f.Name)
				return nil
			}
			if err := transform.AddOwnerLoading(cf, p.handle.Owner); err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			if results[i], err = p.encode(cf); err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// resolveOwner returns the bootstrap owner override, or else the jar's main
// class.
func resolveOwner(opts *options, a *archive.Archive) (string, error) {
	if opts.owner != "" {
		return opts.owner, nil
	}
	mf, err := a.Manifest()
	if err != nil {
		return "", fmt.Errorf("%s: %w", opts.input, err)
	}
	if mainClass := mf.MainClass(); mainClass != "" {
		return mainClass, nil
	}
	return "", errOwnerMissing
}

// writeOutput replaces path with what fn writes, holding the output lock.
func writeOutput(path string, perm os.FileMode, fn func(w io.Writer) error) error {
	lock, err := lockOutput(path)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	if err := archive.WriteFile(path, perm, fn); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
