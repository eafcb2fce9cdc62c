// ilvm CLI - runs, verifies and serves .ilm images
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chazu/ilvm/image"
	"github.com/chazu/ilvm/manifest"
	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/vm"
	"github.com/chazu/ilvm/vm/ledger"
)

// exitError carries a process exit status out of a subcommand.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses global flags and dispatches to a subcommand, returning the
// exit status.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ilvm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("C", ".", "Directory to search for ilvm.toml")
	verbose := fs.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: ilvm [options] <command> [arguments]\n\n")
		fmt.Fprintf(stderr, "Loads, verifies and executes CIL images (.ilm).\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nCommands:\n")
		fmt.Fprintf(stderr, "  run <image> <Ns.Class::Method> [args...]  Invoke a static method\n")
		fmt.Fprintf(stderr, "  verify <image>                            Verify every method with a body\n")
		fmt.Fprintf(stderr, "  dis <image>                               Disassemble an image\n")
		fmt.Fprintf(stderr, "  serve                                     Start the engine service\n")
		fmt.Fprintf(stderr, "  ledger                                    Show recorded verifications\n")
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  ilvm run demo.ilm Demo.Program::Main\n")
		fmt.Fprintf(stderr, "  ilvm run -timeout 2s demo.ilm Demo.Program::Add 3 4\n")
		fmt.Fprintf(stderr, "  ilvm verify -targets demo.ilm\n")
		fmt.Fprintf(stderr, "  ilvm serve -addr :8700 -workers 8\n")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	env, err := loadEnv(*dir, *verbose)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer env.close()
	env.stdout, env.stderr = stdout, stderr

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "run":
		err = handleRunCommand(env, rest)
	case "verify":
		err = handleVerifyCommand(env, rest)
	case "dis":
		err = handleDisCommand(env, rest)
	case "serve":
		err = handleServeCommand(env, rest)
	case "ledger":
		err = handleLedgerCommand(env, rest)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fs.Usage()
		return 2
	}

	var exit exitError
	switch {
	case errors.As(err, &exit):
		return exit.code
	case errors.Is(err, flag.ErrHelp):
		return 2
	case err != nil:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Environment
// ---------------------------------------------------------------------------

// env is the configuration shared by every subcommand.
type env struct {
	manifest *manifest.Manifest
	opts     vm.Options
	ledger   *ledger.Ledger
	stdout   io.Writer
	stderr   io.Writer
}

// loadEnv reads the nearest ilvm.toml, or the defaults when there is none,
// configures logging and opens the ledger.
func loadEnv(dir string, verbosity int) (*env, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	if m == nil {
		m = manifest.Default()
	}
	if verbosity >= 0 {
		m.Log.Verbosity = verbosity
	}
	m.ConfigureLogging()

	opts, err := m.EngineOptions()
	if err != nil {
		return nil, err
	}
	l, err := m.OpenLedger()
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	opts.Ledger = l
	return &env{manifest: m, opts: opts, ledger: l}, nil
}

func (e *env) close() {
	if e.ledger != nil {
		e.ledger.Close()
	}
}

// newProcess creates a process writing to the command's stdout with the
// manifest's images preloaded.
func (e *env) newProcess() (*vm.Process, error) {
	opts := e.opts
	opts.Stdout = e.stdout
	if opts.Coder == vm.CoderTrace {
		opts.Trace = e.stderr
	}
	p, err := vm.NewProcess(opts)
	if err != nil {
		return nil, err
	}
	for _, path := range e.manifest.ImagePaths() {
		if _, err := image.LoadFile(p, path); err != nil {
			p.Close()
			return nil, fmt.Errorf("preloading %s: %w", path, err)
		}
	}
	return p, nil
}

// openImage creates a process and loads the image at path into it.
func (e *env) openImage(path string) (*vm.Process, *metadata.Module, error) {
	p, err := e.newProcess()
	if err != nil {
		return nil, nil, err
	}
	mod, err := image.LoadFile(p, path)
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	return p, mod, nil
}
