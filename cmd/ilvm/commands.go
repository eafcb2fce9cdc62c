package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/chazu/ilvm/image"
	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/server"
	"github.com/chazu/ilvm/vm"
	"github.com/chazu/ilvm/vm/ledger"
)

func newFlagSet(e *env, name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "Usage: ilvm %s %s\n\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

// ---------------------------------------------------------------------------
// ilvm run
// ---------------------------------------------------------------------------

// handleRunCommand invokes a static method. An int32 return value becomes
// the exit status; an escaping exception exits 1.
//
//	ilvm run demo.ilm Demo.Program::Main
//	ilvm run -timeout 2s demo.ilm Demo.Program::Add 3 4
func handleRunCommand(e *env, args []string) error {
	fs := newFlagSet(e, "run", "[-timeout d] [-trace] [-profile n] <image> <Ns.Class::Method> [args...]")
	timeout := fs.Duration("timeout", 0, "Abort the method after this long")
	trace := fs.Bool("trace", false, "List converted code on stderr")
	profile := fs.Int("profile", 0, "Print the n most invoked methods on stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return flag.ErrHelp
	}
	if *trace {
		e.opts.Coder = vm.CoderTrace
	}
	if *profile > 0 {
		e.opts.Profile = true
	}

	p, _, err := e.openImage(fs.Arg(0))
	if err != nil {
		return err
	}
	defer p.Close()

	m, err := p.FindMethod(fs.Arg(1))
	if err != nil {
		return err
	}
	th := p.NewThread()
	defer th.Close()
	margs, err := vm.ParseArgs(th, m, fs.Args()[2:])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	ret, err := th.Invoke(ctx, m, margs...)
	if *profile > 0 {
		printProfile(e, p.Profiler(), *profile)
	}
	var me *vm.ManagedError
	if errors.As(err, &me) {
		printException(e, me)
		return exitError{code: 1}
	}
	if err != nil {
		return err
	}

	switch m.Signature.Return.Kind {
	case metadata.ElemVoid:
		return nil
	case metadata.ElemI4:
		if code := ret.Int32(); code != 0 {
			return exitError{code: int(code)}
		}
		return nil
	}
	fmt.Fprintln(e.stdout, ret.String())
	return nil
}

// printException writes an unhandled exception the way the runtime reports
// one, innermost cause last.
func printException(e *env, me *vm.ManagedError) {
	fmt.Fprintf(e.stderr, "Unhandled exception: %s\n", me.Error())
	for cur := me; cur != nil; cur = cur.Inner {
		if cur != me {
			fmt.Fprintf(e.stderr, " ---> %s\n", cur.Error())
		}
		if cur.StackTrace != "" {
			fmt.Fprintln(e.stderr, strings.TrimRight(cur.StackTrace, "\n"))
		}
	}
}

func printProfile(e *env, pr *vm.Profiler, n int) {
	if pr == nil {
		return
	}
	stats := pr.Stats()
	fmt.Fprintf(e.stderr, "%d invocations of %d methods\n", stats.Invocations, stats.Methods)
	for _, mc := range pr.TopMethods(n) {
		fmt.Fprintf(e.stderr, "%10d  %s\n", mc.Count, mc.Method.FullName())
	}
}

// ---------------------------------------------------------------------------
// ilvm verify
// ---------------------------------------------------------------------------

// handleVerifyCommand verifies an image, or one method of it, and exits 1
// if anything fails.
func handleVerifyCommand(e *env, args []string) error {
	fs := newFlagSet(e, "verify", "[-method Ns.Class::Method] [-targets] [-trace] <image>")
	method := fs.String("method", "", "Verify only this method")
	targets := fs.Bool("targets", false, "Print the stack shape at every jump target")
	trace := fs.Bool("trace", false, "List every coder hook on stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return flag.ErrHelp
	}
	if *trace {
		e.opts.Coder = vm.CoderTrace
	}

	p, mod, err := e.openImage(fs.Arg(0))
	if err != nil {
		return err
	}
	defer p.Close()

	var outcomes []vm.Outcome
	if *method != "" {
		m, err := p.FindMethod(*method)
		if err != nil {
			return err
		}
		res, verr := p.Verify(m)
		outcomes = []vm.Outcome{{Method: m, Result: res, Err: verr}}
	} else {
		outcomes = p.VerifyModule(mod)
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintf(e.stdout, "FAIL %s: %v\n", o.Method.FullName(), o.Err)
			continue
		}
		fmt.Fprintf(e.stdout, "ok   %s\n", o.Method.FullName())
		if *targets && o.Result != nil {
			for _, jt := range o.Result.Targets {
				fmt.Fprintf(e.stdout, "       IL_%04x: [%s]\n", jt.Offset, stackShape(jt.Stack))
			}
		}
	}
	fmt.Fprintf(e.stdout, "%d methods, %d failed\n", len(outcomes), failed)
	if failed > 0 {
		return exitError{code: 1}
	}
	return nil
}

func stackShape(items []vm.StackItem) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.String()
	}
	return strings.Join(parts, ", ")
}

// ---------------------------------------------------------------------------
// ilvm dis
// ---------------------------------------------------------------------------

func handleDisCommand(e *env, args []string) error {
	fs := newFlagSet(e, "dis", "[-method Ns.Class::Method] <image>")
	method := fs.String("method", "", "Disassemble only this method")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return flag.ErrHelp
	}

	// Disassembly only needs names resolved against corlib; no preloads.
	p, err := vm.NewProcess(e.opts)
	if err != nil {
		return err
	}
	defer p.Close()
	mod, err := image.ReadFile(fs.Arg(0), p.Corlib().Module)
	if err != nil {
		return err
	}

	if *method == "" {
		fmt.Fprint(e.stdout, image.Disassemble(mod))
		return nil
	}
	class, name, ok := strings.Cut(*method, "::")
	if !ok {
		return fmt.Errorf("method %q: want Ns.Class::Method", *method)
	}
	m := mod.FindMethod(class, name)
	if m == nil {
		return fmt.Errorf("method %q not found", *method)
	}
	fmt.Fprint(e.stdout, image.DisassembleMethod(mod, m))
	return nil
}

// ---------------------------------------------------------------------------
// ilvm serve
// ---------------------------------------------------------------------------

// handleServeCommand runs the engine service until interrupted.
func handleServeCommand(e *env, args []string) error {
	fs := newFlagSet(e, "serve", "[-addr host:port] [-workers n]")
	addr := fs.String("addr", e.manifest.Server.Addr, "Listen address")
	workers := fs.Int("workers", e.manifest.Server.Workers, "Concurrent jobs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var preload [][]byte
	for _, path := range e.manifest.ImagePaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("preloading %s: %w", path, err)
		}
		preload = append(preload, data)
	}

	srv := server.New(e.opts, server.WithWorkers(*workers), server.WithPreload(preload...))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(*addr) }()
	select {
	case err := <-errc:
		srv.Stop(context.Background())
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(shutdown)
}

// ---------------------------------------------------------------------------
// ilvm ledger
// ---------------------------------------------------------------------------

// handleLedgerCommand prints the latest verification of every method, or
// the full history of one.
func handleLedgerCommand(e *env, args []string) error {
	fs := newFlagSet(e, "ledger", "[-method Ns.Class::Method(params)]")
	method := fs.String("method", "", "Show every entry for this method")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if e.ledger == nil {
		return errors.New("ledger is disabled; set [ledger] enabled = true in ilvm.toml")
	}

	var entries []ledger.Entry
	var err error
	if *method != "" {
		entries, err = e.ledger.List(*method)
	} else {
		entries, err = e.ledger.Latest()
	}
	if err != nil {
		return err
	}
	for _, en := range entries {
		status := "ok"
		if !en.OK {
			status = "FAIL " + en.Error
		}
		fmt.Fprintf(e.stdout, "%s %s %s: %s\n",
			en.Recorded.Format(time.RFC3339), en.Run.String()[:8], en.Method, status)
		for _, t := range en.Targets {
			fmt.Fprintf(e.stdout, "    IL_%04x: [%s]\n", t.Offset, strings.Join(t.Stack, ", "))
		}
	}
	return nil
}
