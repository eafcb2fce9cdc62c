package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/ilvm/image"
	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// writeDemoImage writes Demo.Program with Add, Hello, Fail and Bad into dir
// and returns the image path.
func writeDemoImage(t *testing.T, dir string) string {
	t.Helper()
	corlib := metadata.NewCorlib()
	mod := metadata.NewModule("demo")
	prog := mod.DefineClass("Demo", "Program", corlib.Object, 0)
	static := func(name string, ret *metadata.Type, params []*metadata.Type, b *cil.Builder) {
		prog.AddMethod(name, metadata.MethodStatic, metadata.NewSignature(ret, params...),
			metadata.NewBody(8, b.Bytes()))
	}

	var writeLine *metadata.Method
	for _, m := range corlib.Console.Methods {
		if m.Name == "WriteLine" && len(m.Signature.Params) == 1 &&
			metadata.Identical(m.Signature.Params[0], metadata.String) {
			writeLine = m
		}
	}

	static("Add", metadata.Int32, []*metadata.Type{metadata.Int32, metadata.Int32},
		cil.NewBuilder().Emit(cil.Ldarg0).Emit(cil.Ldarg1).Emit(cil.Add).Emit(cil.Ret))
	static("Hello", metadata.Void, nil, cil.NewBuilder().
		EmitToken(cil.Ldstr, mod.StringToken("hello")).
		EmitToken(cil.Call, mod.MethodToken(writeLine)).
		Emit(cil.Ret))
	static("Fail", metadata.Int32, nil,
		cil.NewBuilder().Emit(cil.LdcI41).Emit(cil.LdcI40).Emit(cil.Div).Emit(cil.Ret))
	static("Bad", metadata.Int32, nil, cil.NewBuilder().Emit(cil.Ret))

	path := filepath.Join(dir, "demo.ilm")
	if err := image.WriteFile(path, mod); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// ilvm runs the CLI in dir and returns the exit status and output.
func ilvm(t *testing.T, dir string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"-C", dir}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	img := writeDemoImage(t, dir)

	tests := []struct {
		args   []string
		code   int
		stdout string
		stderr string
	}{
		{args: []string{img, "Demo.Program::Hello"}, code: 0, stdout: "hello\n"},
		{args: []string{img, "Demo.Program::Add", "3", "4"}, code: 7},
		{args: []string{img, "Demo.Program::Add", "-3", "3"}, code: 0},
		{args: []string{img, "Demo.Program::Fail"}, code: 1, stderr: "System.DivideByZeroException"},
		{args: []string{img, "Demo.Program::Bad"}, code: 1, stderr: "System.Security.VerificationException"},
		{args: []string{img, "Demo.Program::Add", "x", "1"}, code: 1, stderr: "Error:"},
		{args: []string{img, "Demo.Program::Missing"}, code: 1, stderr: "Error:"},
		{args: []string{img}, code: 2, stderr: "Usage: ilvm run"},
	}
	for _, tt := range tests {
		code, stdout, stderr := ilvm(t, dir, append([]string{"run", "--"}, tt.args...)...)
		if code != tt.code {
			t.Errorf("run %v: code = %d, want %d (stderr %q)", tt.args, code, tt.code, stderr)
		}
		if stdout != tt.stdout {
			t.Errorf("run %v: stdout = %q, want %q", tt.args, stdout, tt.stdout)
		}
		if !strings.Contains(stderr, tt.stderr) {
			t.Errorf("run %v: stderr = %q, want it to contain %q", tt.args, stderr, tt.stderr)
		}
	}
}

func TestRunProfile(t *testing.T) {
	dir := t.TempDir()
	img := writeDemoImage(t, dir)

	code, _, stderr := ilvm(t, dir, "run", "-profile", "3", img, "Demo.Program::Hello")
	if code != 0 {
		t.Fatalf("code = %d (stderr %q)", code, stderr)
	}
	for _, want := range []string{"invocations of", "Demo.Program::Hello", "System.Console::WriteLine"} {
		if !strings.Contains(stderr, want) {
			t.Errorf("profile output missing %q:\n%s", want, stderr)
		}
	}
}

// ---------------------------------------------------------------------------
// verify / dis
// ---------------------------------------------------------------------------

func TestVerifyCommand(t *testing.T) {
	dir := t.TempDir()
	img := writeDemoImage(t, dir)

	code, stdout, _ := ilvm(t, dir, "verify", img)
	if code != 1 {
		t.Errorf("verify code = %d, want 1", code)
	}
	for _, want := range []string{"ok   Demo.Program::Add", "FAIL Demo.Program::Bad", "4 methods, 1 failed"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("verify output missing %q:\n%s", want, stdout)
		}
	}

	code, stdout, _ = ilvm(t, dir, "verify", "-method", "Demo.Program::Add", img)
	if code != 0 || !strings.Contains(stdout, "1 methods, 0 failed") {
		t.Errorf("verify -method: code %d, output %q", code, stdout)
	}

	code, _, stderr := ilvm(t, dir, "verify", "-trace", "-method", "Demo.Program::Add", img)
	if code != 0 || !strings.Contains(stderr, ".method Demo.Program::Add") || !strings.Contains(stderr, ".end") {
		t.Errorf("verify -trace: code %d, stderr %q", code, stderr)
	}
}

func TestDisCommand(t *testing.T) {
	dir := t.TempDir()
	img := writeDemoImage(t, dir)

	code, stdout, _ := ilvm(t, dir, "dis", img)
	if code != 0 {
		t.Fatalf("dis code = %d", code)
	}
	for _, want := range []string{".class Demo.Program", "Demo.Program::Hello", "ldstr"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("dis output missing %q:\n%s", want, stdout)
		}
	}

	code, stdout, _ = ilvm(t, dir, "dis", "-method", "Demo.Program::Add", img)
	if code != 0 || strings.Contains(stdout, "Hello") || !strings.Contains(stdout, "add") {
		t.Errorf("dis -method: code %d, output %q", code, stdout)
	}

	code, _, stderr := ilvm(t, dir, "dis", "-method", "Demo.Program::Nope", img)
	if code != 1 || !strings.Contains(stderr, "not found") {
		t.Errorf("dis missing method: code %d, stderr %q", code, stderr)
	}
}

// ---------------------------------------------------------------------------
// ledger
// ---------------------------------------------------------------------------

func TestLedgerCommand(t *testing.T) {
	dir := t.TempDir()
	img := writeDemoImage(t, dir)

	code, _, stderr := ilvm(t, dir, "ledger")
	if code != 1 || !strings.Contains(stderr, "disabled") {
		t.Errorf("ledger without manifest: code %d, stderr %q", code, stderr)
	}

	toml := "[ledger]\nenabled = true\npath = \"ledger.db\"\n"
	if err := os.WriteFile(filepath.Join(dir, "ilvm.toml"), []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	if code, _, stderr := ilvm(t, dir, "verify", img); code != 1 {
		t.Fatalf("verify code = %d (stderr %q)", code, stderr)
	}

	code, stdout, _ := ilvm(t, dir, "ledger")
	if code != 0 {
		t.Fatalf("ledger code = %d", code)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 4 {
		t.Errorf("ledger lines = %d, want 4:\n%s", len(lines), stdout)
	}
	if !strings.Contains(stdout, "Demo.Program::Bad") || !strings.Contains(stdout, "FAIL") {
		t.Errorf("ledger output missing the failed method:\n%s", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, "ledger.db")); err != nil {
		t.Errorf("ledger database: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Usage
// ---------------------------------------------------------------------------

func TestUsage(t *testing.T) {
	dir := t.TempDir()
	tests := [][]string{nil, {"frobnicate"}}
	for _, args := range tests {
		code, _, stderr := ilvm(t, dir, args...)
		if code != 2 || !strings.Contains(stderr, "Usage: ilvm") {
			t.Errorf("%v: code %d, stderr %q", args, code, stderr)
		}
	}
}
