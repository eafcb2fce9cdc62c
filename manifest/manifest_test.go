package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/ilvm/vm"
	"golang.org/x/text/language"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[engine]
stack-size = 256
max-frames = 500
max-heap = 1048576
coder = "trace"
language = "de"
unsafe = true
profile = true

[log]
verbosity = 2
path = "ilvm.log"

[ledger]
enabled = true
path = "state/ledger.db"

[server]
addr = ":9000"
workers = 8

[modules]
images = ["lib/base.ilm", "/abs/app.ilm"]
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Engine.StackSize != 256 {
		t.Errorf("stack-size = %d, want 256", m.Engine.StackSize)
	}
	if m.Engine.Coder != vm.CoderTrace {
		t.Errorf("coder = %q, want trace", m.Engine.Coder)
	}
	if !m.Engine.Unsafe {
		t.Error("unsafe = false, want true")
	}
	if m.Server.Addr != ":9000" || m.Server.Workers != 8 {
		t.Errorf("server = %+v, want :9000 with 8 workers", m.Server)
	}
	if got, want := m.LedgerPath(), filepath.Join(m.Dir, "state", "ledger.db"); got != want {
		t.Errorf("ledger path = %q, want %q", got, want)
	}

	paths := m.ImagePaths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 image paths, got %d", len(paths))
	}
	if paths[0] != filepath.Join(m.Dir, "lib", "base.ilm") {
		t.Errorf("paths[0] = %q", paths[0])
	}
	if paths[1] != "/abs/app.ilm" {
		t.Errorf("paths[1] = %q, want /abs/app.ilm", paths[1])
	}

	opts, err := m.EngineOptions()
	if err != nil {
		t.Fatalf("EngineOptions: %v", err)
	}
	if opts.StackSize != 256 || opts.MaxFrames != 500 || opts.MaxHeap != 1<<20 {
		t.Errorf("options = %+v", opts)
	}
	if opts.Coder != vm.CoderTrace || !opts.Unsafe || !opts.Profile {
		t.Errorf("coder = %q unsafe = %v profile = %v", opts.Coder, opts.Unsafe, opts.Profile)
	}
	if opts.Language != language.German {
		t.Errorf("language = %v, want de", opts.Language)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("[engine]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	d := vm.DefaultOptions()
	if m.Engine.StackSize != d.StackSize || m.Engine.CachePage != d.CachePage {
		t.Errorf("engine = %+v, want defaults", m.Engine)
	}
	if m.Engine.Coder != vm.CoderInterpreter {
		t.Errorf("coder = %q, want interpreter", m.Engine.Coder)
	}
	if m.Ledger.Enabled {
		t.Error("ledger enabled by default")
	}
	if m.Server.Workers != 4 {
		t.Errorf("workers = %d, want 4", m.Server.Workers)
	}
	if l, err := m.OpenLedger(); err != nil || l != nil {
		t.Errorf("OpenLedger = %v, %v, want nil for a disabled ledger", l, err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"unknown coder", "[engine]\ncoder = \"jit\"\n"},
		{"negative stack", "[engine]\nstack-size = -1\n"},
		{"tiny cache page", "[engine]\ncache-page = 16\n"},
		{"bad language", "[engine]\nlanguage = \"not a tag\"\n"},
		{"verbosity out of range", "[log]\nverbosity = 9\n"},
		{"address without port", "[server]\naddr = \"localhost\"\n"},
		{"empty image path", "[modules]\nimages = [\"\"]\n"},
	}
	for _, tt := range tests {
		_, err := Parse([]byte(tt.toml), "")
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, ErrInvalid)
		}
	}
}

func TestParseAccepts(t *testing.T) {
	tests := []struct {
		name   string
		toml   string
		images int
	}{
		{"empty file", "", 0},
		{"engine only", "[engine]\ncoder = \"trace\"\n", 0},
		{"empty image list", "[modules]\nimages = []\n", 0},
		{"two images", "[modules]\nimages = [\"a.ilm\", \"b.ilm\"]\n", 2},
	}
	for _, tt := range tests {
		m, err := Parse([]byte(tt.toml), "")
		if err != nil {
			t.Errorf("%s: Parse failed: %v", tt.name, err)
			continue
		}
		if got := len(m.ImagePaths()); got != tt.images {
			t.Errorf("%s: %d images, want %d", tt.name, got, tt.images)
		}
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse([]byte("[engine\n"), "")
	if err == nil {
		t.Fatal("Parse accepted malformed TOML")
	}
	if errors.Is(err, ErrInvalid) {
		t.Errorf("syntax error reported as schema violation: %v", err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Errorf("Validate(Default()) = %v", err)
	}
}

func TestOpenLedger(t *testing.T) {
	dir := t.TempDir()
	m, err := Parse([]byte("[ledger]\nenabled = true\n"), dir)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	l, err := m.OpenLedger()
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	defer l.Close()
	if _, err := os.Stat(filepath.Join(dir, ".ilvm", "ledger.db")); err != nil {
		t.Errorf("ledger file: %v", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("[server]\nworkers = 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	subDir := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Server.Workers != 2 {
		t.Errorf("workers = %d, want 2", m.Server.Workers)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no ilvm.toml exists")
	}
}
