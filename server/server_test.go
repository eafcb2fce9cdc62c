package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/ilvm/image"
	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
	"github.com/chazu/ilvm/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure
// ---------------------------------------------------------------------------

func bg() context.Context { return context.Background() }

// newTestClient serves a fresh Server over httptest.
func newTestClient(t *testing.T, options ...Option) *Client {
	t.Helper()
	s := New(vm.DefaultOptions(), options...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop(bg())
	})
	return NewClient(ts.Client(), ts.URL)
}

// program collects static methods of Demo.Program.
type program struct {
	corlib *metadata.Corlib
	mod    *metadata.Module
	class  *metadata.Class
}

func newProgram(corlib *metadata.Corlib, name string) *program {
	mod := metadata.NewModule(name)
	return &program{corlib: corlib, mod: mod, class: mod.DefineClass("Demo", "Program", corlib.Object, 0)}
}

func (pr *program) static(name string, ret *metadata.Type, params []*metadata.Type, b *cil.Builder) *metadata.Method {
	return pr.class.AddMethod(name, metadata.MethodStatic, metadata.NewSignature(ret, params...),
		metadata.NewBody(8, b.Bytes()))
}

func (pr *program) writeLine() uint32 {
	for _, m := range pr.corlib.Console.Methods {
		if m.Name == "WriteLine" && len(m.Signature.Params) == 1 &&
			metadata.Identical(m.Signature.Params[0], metadata.String) {
			return pr.mod.MethodToken(m)
		}
	}
	panic("no WriteLine(string)")
}

func (pr *program) image(t *testing.T) []byte {
	t.Helper()
	data, err := image.Marshal(pr.mod)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return data
}

// demoImage builds the methods the tests call.
func demoImage(t *testing.T) []byte {
	pr := newProgram(metadata.NewCorlib(), "demo")
	counter := pr.class.AddField("counter", metadata.Int32, metadata.FieldStatic)

	pr.static("Add", metadata.Int32, []*metadata.Type{metadata.Int32, metadata.Int32},
		cil.NewBuilder().Emit(cil.Ldarg0).Emit(cil.Ldarg1).Emit(cil.Add).Emit(cil.Ret))
	pr.static("Hello", metadata.Void, nil, cil.NewBuilder().
		EmitToken(cil.Ldstr, pr.mod.StringToken("hello")).
		EmitToken(cil.Call, pr.writeLine()).
		Emit(cil.Ret))
	pr.static("Fail", metadata.Int32, nil,
		cil.NewBuilder().Emit(cil.LdcI41).Emit(cil.LdcI40).Emit(cil.Div).Emit(cil.Ret))
	spin := cil.NewBuilder()
	loop := spin.NewLabel()
	spin.Mark(loop).Emit(cil.Nop).EmitBranch(cil.BrS, loop)
	pr.static("Spin", metadata.Void, nil, spin)
	pr.static("Counter", metadata.Int32, nil, cil.NewBuilder().
		EmitToken(cil.Ldsfld, pr.mod.FieldToken(counter)).Emit(cil.LdcI41).Emit(cil.Add).
		EmitToken(cil.Stsfld, pr.mod.FieldToken(counter)).
		EmitToken(cil.Ldsfld, pr.mod.FieldToken(counter)).
		Emit(cil.Ret))
	pr.static("Bad", metadata.Int32, nil, cil.NewBuilder().Emit(cil.Ret))
	return pr.image(t)
}

// ---------------------------------------------------------------------------
// Verify
// ---------------------------------------------------------------------------

func TestVerifyImage(t *testing.T) {
	c := newTestClient(t)
	resp, err := c.Verify(bg(), &VerifyRequest{Image: demoImage(t)})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(resp.Results) != 6 {
		t.Fatalf("Verify returned %d results, want 6", len(resp.Results))
	}
	for _, r := range resp.Results {
		bad := strings.Contains(r.Method, "::Bad")
		if r.OK == bad {
			t.Errorf("%s: OK = %v (%s)", r.Method, r.OK, r.Error)
		}
	}
	spin := resp.Results[3]
	if !strings.HasPrefix(spin.Method, "Demo.Program::Spin") || len(spin.Targets) != 1 || spin.Targets[0].Offset != 0 {
		t.Errorf("Spin result = %+v, want one target at 0", spin)
	}
}

func TestVerifyOneMethod(t *testing.T) {
	c := newTestClient(t)
	resp, err := c.Verify(bg(), &VerifyRequest{Image: demoImage(t), Method: "Demo.Program::Bad"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].OK || resp.Results[0].Error == "" {
		t.Errorf("results = %+v, want one failure", resp.Results)
	}
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun(t *testing.T) {
	c := newTestClient(t)
	img := demoImage(t)

	tests := []struct {
		method    string
		args      []string
		timeout   int64
		ret       string
		output    string
		exception string
	}{
		{method: "Demo.Program::Add", args: []string{"2", "3"}, ret: "5"},
		{method: "Demo.Program::Hello", output: "hello\n"},
		{method: "Demo.Program::Fail", exception: "System.DivideByZeroException"},
		{method: "Demo.Program::Spin", timeout: 50, exception: "System.Threading.ThreadAbortException"},
		{method: "Demo.Program::Bad", exception: "System.Security.VerificationException"},
	}
	for _, tt := range tests {
		resp, err := c.Run(bg(), &RunRequest{Image: img, Method: tt.method, Args: tt.args, TimeoutMillis: tt.timeout})
		if err != nil {
			t.Fatalf("%s: Run: %v", tt.method, err)
		}
		if resp.Return != tt.ret {
			t.Errorf("%s: return = %q, want %q", tt.method, resp.Return, tt.ret)
		}
		if resp.Output != tt.output {
			t.Errorf("%s: output = %q, want %q", tt.method, resp.Output, tt.output)
		}
		got := ""
		if resp.Exception != nil {
			got = resp.Exception.Class
		}
		if got != tt.exception {
			t.Errorf("%s: exception = %q, want %q", tt.method, got, tt.exception)
		}
	}
}

func TestRunExceptionStackTrace(t *testing.T) {
	c := newTestClient(t)
	resp, err := c.Run(bg(), &RunRequest{Image: demoImage(t), Method: "Demo.Program::Fail"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Exception == nil || !strings.Contains(resp.Exception.StackTrace, "Demo.Program::Fail") {
		t.Errorf("exception = %+v, want a stack trace naming Fail", resp.Exception)
	}
}

func TestRunIsolatesRequests(t *testing.T) {
	c := newTestClient(t, WithWorkers(1))
	img := demoImage(t)
	for i := 0; i < 3; i++ {
		resp, err := c.Run(bg(), &RunRequest{Image: img, Method: "Demo.Program::Counter"})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if resp.Return != "1" {
			t.Errorf("call %d: Counter() = %s, want 1", i, resp.Return)
		}
	}
}

func TestRunConcurrent(t *testing.T) {
	c := newTestClient(t, WithWorkers(2))
	img := demoImage(t)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			resp, err := c.Run(bg(), &RunRequest{Image: img, Method: "Demo.Program::Add", Args: []string{"20", "22"}})
			if err != nil {
				return err
			}
			if resp.Return != "42" {
				return errors.New("Add(20, 22) = " + resp.Return)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestRunWithPreload(t *testing.T) {
	corlib := metadata.NewCorlib()
	lib := newProgram(corlib, "lib")
	lib.class.Namespace = "Lib"
	triple := lib.static("Triple", metadata.Int32, []*metadata.Type{metadata.Int32},
		cil.NewBuilder().Emit(cil.Ldarg0).LoadInt(3).Emit(cil.Mul).Emit(cil.Ret))

	app := newProgram(corlib, "app")
	app.static("Main", metadata.Int32, nil,
		cil.NewBuilder().LoadInt(14).EmitToken(cil.Call, app.mod.MethodToken(triple)).Emit(cil.Ret))

	c := newTestClient(t, WithPreload(lib.image(t)))
	resp, err := c.Run(bg(), &RunRequest{Image: app.image(t), Method: "Demo.Program::Main"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Return != "42" {
		t.Errorf("Main() = %q, want 42", resp.Return)
	}
}

func TestRunErrors(t *testing.T) {
	c := newTestClient(t)
	img := demoImage(t)

	tests := []struct {
		name string
		req  *RunRequest
		code connect.Code
	}{
		{"no image", &RunRequest{Method: "Demo.Program::Add"}, connect.CodeInvalidArgument},
		{"no method", &RunRequest{Image: img}, connect.CodeInvalidArgument},
		{"garbage image", &RunRequest{Image: []byte{0xff, 0x00}, Method: "A::B"}, connect.CodeInvalidArgument},
		{"unknown method", &RunRequest{Image: img, Method: "Demo.Program::Nope"}, connect.CodeNotFound},
		{"bad argument", &RunRequest{Image: img, Method: "Demo.Program::Add", Args: []string{"x", "1"}}, connect.CodeInvalidArgument},
	}
	for _, tt := range tests {
		_, err := c.Run(bg(), tt.req)
		if connect.CodeOf(err) != tt.code {
			t.Errorf("%s: error = %v, want code %v", tt.name, err, tt.code)
		}
	}
}

// ---------------------------------------------------------------------------
// Disassemble
// ---------------------------------------------------------------------------

func TestDisassemble(t *testing.T) {
	c := newTestClient(t)
	img := demoImage(t)

	resp, err := c.Disassemble(bg(), &DisassembleRequest{Image: img})
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	if !strings.Contains(resp.Listing, ".class Demo.Program") || !strings.Contains(resp.Listing, "ldstr") {
		t.Errorf("listing:\n%s", resp.Listing)
	}

	one, err := c.Disassemble(bg(), &DisassembleRequest{Image: img, Method: "Demo.Program::Add"})
	if err != nil {
		t.Fatalf("Disassemble Add: %v", err)
	}
	if !strings.Contains(one.Listing, ".method Demo.Program::Add(int32,int32)") || strings.Contains(one.Listing, "Hello") {
		t.Errorf("Add listing:\n%s", one.Listing)
	}
}

// ---------------------------------------------------------------------------
// Worker pool
// ---------------------------------------------------------------------------

func TestWorkerPoolStop(t *testing.T) {
	w := NewWorkerPool(vm.DefaultOptions(), 2, nil)
	v, _, err := w.Do(bg(), func(p *vm.Process) (any, error) { return len(p.Modules()), nil })
	if err != nil || v.(int) != 1 {
		t.Fatalf("Do = %v, %v", v, err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, _, err := w.Do(bg(), func(*vm.Process) (any, error) { return nil, nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Do after Stop = %v, want %v", err, ErrStopped)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	w := NewWorkerPool(vm.DefaultOptions(), 1, nil)
	defer w.Stop()
	if _, _, err := w.Do(bg(), func(*vm.Process) (any, error) { panic("boom") }); err == nil || err.Error() != "boom" {
		t.Errorf("Do = %v, want boom", err)
	}
	if _, _, err := w.Do(bg(), func(*vm.Process) (any, error) { return nil, nil }); err != nil {
		t.Errorf("worker did not survive the panic: %v", err)
	}
}
