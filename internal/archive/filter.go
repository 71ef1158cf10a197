// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package archive

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter selects the entries to obfuscate. An empty filter selects every
// entry.
type Filter struct {
	patterns []*regexp.Regexp
}

// NewFilter compiles include patterns. In a pattern, '*' matches any run of
// characters and everything else matches literally. Patterns match the
// whole entry path with slashes replaced by dots, such as "a.b.E.class".
func NewFilter(patterns []string) (*Filter, error) {
	f := &Filter{}
	for _, p := range patterns {
		if p == "" {
			return nil, fmt.Errorf("empty include pattern")
		}
		quoted := strings.ReplaceAll(regexp.QuoteMeta(p), `\*`, `.*`)
		rx, err := regexp.Compile("^(?:" + quoted + ")$")
		if err != nil {
			return nil, fmt.Errorf("include pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, rx)
	}
	return f, nil
}

// Match reports whether the entry at path is selected.
func (f *Filter) Match(path string) bool {
	if f == nil || len(f.patterns) == 0 {
		return true
	}
	dotted := strings.ReplaceAll(path, "/", ".")
	for _, rx := range f.patterns {
		if rx.MatchString(dotted) {
			return true
		}
	}
	return false
}
