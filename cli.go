// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package main

import (
	"bytes"
	cryptorand "crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type seedFlag struct {
	random bool
	bytes  []byte
}

func (f seedFlag) present() bool { return len(f.bytes) > 0 }

func (f seedFlag) String() string {
	return base64.RawStdEncoding.EncodeToString(f.bytes)
}

func (f *seedFlag) Set(s string) error {
	if s == "random" {
		f.random = true // to show the random seed we chose

		f.bytes = make([]byte, 16) // random 128 bit seed
		if _, err := cryptorand.Read(f.bytes); err != nil {
			return fmt.Errorf("error generating random seed: %v", err)
		}
	} else {
		// We expect unpadded base64, but to be nice, accept padded
		// strings too.
		s = strings.TrimRight(s, "=")
		seed, err := base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("error decoding seed: %v", err)
		}
		if len(seed) < 8 {
			return fmt.Errorf("-seed needs at least 8 bytes, have %d", len(seed))
		}
		f.bytes = seed
	}
	return nil
}

// includeFlag collects every -include pattern.
type includeFlag []string

func (f includeFlag) String() string { return strings.Join(f, ",") }

func (f *includeFlag) Set(s string) error {
	*f = append(*f, s)
	return nil
}

func usage() {
	fmt.Fprint(os.Stderr, `
Indy hides the method calls and field accesses of JVM classes behind
invokedynamic call sites, resolved at run time by native code.

	indy [flags] path

The path is either a class file or a jar. Jars are obfuscated entry by
entry, and the bootstrap method is declared in the class named by the
manifest's Main-Class unless -bootstrap-method-owner says otherwise.

The C source of the bootstrap method is printed to stdout, or written to
the file given by -native-output. Compile it into a shared library named
after -library-name and place it in the working directory of the program.

indy accepts the following flags:

`[1:])
	flagSet.PrintDefaults()
	fmt.Fprint(os.Stderr, `

Exit codes: 1 if no bootstrap method owner could be found, 2 if the
bootstrap method name is already taken, 3 on any other failure.
`[1:])
}

// uniqueLineWriter sits underneath log.SetOutput to deduplicate log lines.
// We log bits of useful information for debugging,
// and logging the same detail twice is not going to help the user.
// Duplicates are relatively normal, given that call shapes tend to repeat.
type uniqueLineWriter struct {
	out  io.Writer
	seen map[string]bool
}

func (w *uniqueLineWriter) Write(p []byte) (n int, err error) {
	if !flagDebug {
		panic("unexpected use of uniqueLineWriter with -debug unset")
	}
	if bytes.Count(p, []byte("\n")) != 1 {
		return 0, fmt.Errorf("log write wasn't just one line: %q", p)
	}
	if w.seen[string(p)] {
		return len(p), nil
	}
	if w.seen == nil {
		w.seen = make(map[string]bool)
	}
	w.seen[string(p)] = true
	return w.out.Write(p)
}

// debugSince is like time.Since but resulting in shorter output.
// A run takes at least milliseconds,
// so extra decimal points in the order of microseconds aren't meaningful.
func debugSince(start time.Time) time.Duration {
	return time.Since(start).Truncate(10 * time.Microsecond)
}
