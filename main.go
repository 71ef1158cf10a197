// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"

	"github.com/burrowers/indy/internal/archive"
	"github.com/burrowers/indy/internal/name"
	"github.com/burrowers/indy/internal/transform"
)

var flagSet = flag.NewFlagSet("indy", flag.ContinueOnError)

var (
	flagOutput        string
	flagInclude       includeFlag
	flagOwner         string
	flagBootstrapName string
	flagFieldMode     transform.FieldMode
	flagAnnotatedOnly bool
	flagAnnotation    string
	flagTemplate      string
	flagNativeOutput  string
	flagLibraryName   string
	flagAccessorNames string
	flagSeed          seedFlag
	flagJobs          int
	flagVerify        bool
	flagDebug         bool
)

func init() {
	flagSet.Usage = usage

	stringVar := func(p *string, value, usage string, names ...string) {
		for _, n := range names {
			flagSet.StringVar(p, n, value, usage)
		}
	}
	boolVar := func(p *bool, usage string, names ...string) {
		for _, n := range names {
			flagSet.BoolVar(p, n, false, usage)
		}
	}
	varFlag := func(v flag.Value, usage string, names ...string) {
		for _, n := range names {
			flagSet.Var(v, n, usage)
		}
	}

	stringVar(&flagOutput, "", "Write the result to `path` instead of replacing the input", "output", "o")
	varFlag(&flagInclude, "Only obfuscate archive entries matching `pattern`, such as a.b.* (repeatable)", "include", "I")
	stringVar(&flagOwner, "", "Declare the bootstrap method in `class`; defaults to the archive's Main-Class", "bootstrap-method-owner", "bsm-owner")
	stringVar(&flagBootstrapName, defaultBootstrapName, "Name of the bootstrap `method`", "bootstrap-method-name", "bsm-name")
	varFlag(&flagFieldMode, "Obfuscate field instructions: NONE, METHOD_HANDLE or SYNTHETIC_ACCESSOR", "field-obfuscation-mode", "f")
	boolVar(&flagAnnotatedOnly, "Only obfuscate methods carrying the marker annotation", "annotated-only", "a")
	stringVar(&flagAnnotation, transform.DefaultAnnotation, "Type `descriptor` of the marker annotation", "annotation")
	stringVar(&flagTemplate, "", "Render the native bootstrap with the template at `path`", "bootstrap-method-template", "bsm-template")
	stringVar(&flagNativeOutput, "", "Write the native bootstrap source to `path` instead of stdout", "native-output")
	stringVar(&flagLibraryName, transform.DefaultLibraryName, "Base `name` of the native library loaded by the bootstrap owner", "library-name")
	stringVar(&flagAccessorNames, "hash", "Naming `strategy` for synthetic accessors: "+strings.Join(name.Strategies, " or "), "accessor-names")
	varFlag(&flagSeed, "Provide a base64-encoded seed for accessor names, e.g. -seed=o9WDTZ4CN4w\nFor a random seed, provide -seed=random", "seed")
	for _, n := range []string{"jobs", "j"} {
		flagSet.IntVar(&flagJobs, n, runtime.GOMAXPROCS(0), "Number of archive entries to obfuscate in parallel")
	}
	boolVar(&flagVerify, "Re-parse every written class with an independent parser", "verify")
	boolVar(&flagDebug, "Print debug logs to stderr", "debug")
}

const defaultBootstrapName = "bootstrap"

// Exit codes.
const (
	exitOwnerMissing = 1
	exitConflict     = 2
	exitFailure      = 3
)

// errJustExit makes main1 exit with the given code without printing
// anything, as the error was already reported.
type errJustExit int

func (e errJustExit) Error() string { return fmt.Sprintf("exit: %d", int(e)) }

func main() { os.Exit(main1()) }

func main1() int {
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return exitFailure
	}

	log.SetPrefix("[indy] ")
	log.SetFlags(0) // no timestamps, as they aren't very useful
	if flagDebug {
		log.SetOutput(&uniqueLineWriter{out: os.Stderr})
	} else {
		log.SetOutput(io.Discard)
	}

	if err := mainErr(flagSet.Args()); err != nil {
		return exitCode(err)
	}
	return 0
}

// exitCode reports err to the user and returns the code to exit with.
func exitCode(err error) int {
	var conflict *transform.ConflictError
	var code errJustExit
	switch {
	case errors.As(err, &code):
		return int(code)
	case errors.Is(err, errOwnerMissing):
		fmt.Fprintln(os.Stderr, "No 'Main-Class' attribute found inside the META-INF/MANIFEST.MF file. Please specify the bootstrap method owner manually using the --bootstrap-method-owner option.")
		return exitOwnerMissing
	case errors.As(err, &conflict):
		fmt.Fprintf(os.Stderr, "The bootstrap method name '%s' conflicts with an existing method inside the owning class '%s'. Please specify a different bootstrap method name using the --bootstrap-method-name option.\n",
			conflict.Name, strings.ReplaceAll(conflict.Owner, "/", "."))
		return exitConflict
	}
	fmt.Fprintln(os.Stderr, err)
	return exitFailure
}

func mainErr(args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "indy needs exactly one input path")
		usage()
		return errJustExit(exitFailure)
	}
	opts, err := newOptions(args[0])
	if err != nil {
		return err
	}
	if flagSeed.random {
		fmt.Fprintf(os.Stderr, "-seed chosen at random: %s\n", flagSeed)
	}
	return run(opts)
}

// options is the validated configuration of one run.
type options struct {
	input  string
	output string

	include *archive.Filter

	// owner is the bootstrap owner override in internal form, if any.
	owner         string
	bootstrapName string
	libraryName   string

	fieldMode transform.FieldMode
	filter    transform.MethodFilter
	names     name.Generator

	// templateName and template hold the native source template;
	// an empty template selects the embedded one.
	templateName string
	template     string
	nativeOutput string

	jobs   int
	verify bool
}

// newOptions validates the flags before any input is read.
func newOptions(input string) (*options, error) {
	opts := &options{
		input:         input,
		output:        input,
		bootstrapName: flagBootstrapName,
		libraryName:   flagLibraryName,
		fieldMode:     flagFieldMode,
		filter: transform.MethodFilter{
			AnnotatedOnly: flagAnnotatedOnly,
			Annotation:    flagAnnotation,
		},
		nativeOutput: flagNativeOutput,
		jobs:         flagJobs,
		verify:       flagVerify,
	}
	if flagOutput != "" {
		opts.output = flagOutput
	}
	if flagOwner != "" {
		opts.owner = strings.ReplaceAll(flagOwner, ".", "/")
		if !validClassName(opts.owner) {
			return nil, fmt.Errorf("invalid bootstrap method owner %q", flagOwner)
		}
	}
	if !validMethodName(opts.bootstrapName) {
		return nil, fmt.Errorf("invalid bootstrap method name %q", opts.bootstrapName)
	}
	if opts.libraryName == "" {
		return nil, fmt.Errorf("-library-name cannot be empty")
	}
	if !strings.HasPrefix(flagAnnotation, "L") || !strings.HasSuffix(flagAnnotation, ";") {
		return nil, fmt.Errorf("-annotation must be a class type descriptor such as %s, got %q", transform.DefaultAnnotation, flagAnnotation)
	}
	if opts.jobs < 1 {
		return nil, fmt.Errorf("-jobs must be at least 1, got %d", opts.jobs)
	}

	var err error
	if opts.include, err = archive.NewFilter(flagInclude); err != nil {
		return nil, err
	}
	var ok bool
	if opts.names, ok = name.NewGenerator(flagAccessorNames, flagSeed.bytes); !ok {
		return nil, fmt.Errorf("unknown accessor naming strategy %q; want one of %s", flagAccessorNames, strings.Join(name.Strategies, ", "))
	}
	if flagTemplate != "" {
		data, err := os.ReadFile(flagTemplate)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("bootstrap method template %s is empty", flagTemplate)
		}
		opts.templateName, opts.template = flagTemplate, string(data)
	}
	return opts, nil
}

// validMethodName reports whether s may name a method other than an
// initializer.
func validMethodName(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".;[/<>")
}

// validClassName reports whether s is a class name in internal form.
func validClassName(s string) bool {
	if s == "" || strings.ContainsAny(s, ".;[<>") {
		return false
	}
	for _, part := range strings.Split(s, "/") {
		if part == "" {
			return false
		}
	}
	return true
}
