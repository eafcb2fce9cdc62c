// Package manifest handles ilvm.toml engine configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/ilvm/vm"
	"github.com/chazu/ilvm/vm/ledger"
	"github.com/tliron/commonlog"
	"golang.org/x/text/language"

	_ "github.com/tliron/commonlog/simple"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "ilvm.toml"

// Manifest represents an ilvm.toml configuration.
type Manifest struct {
	Engine  Engine  `toml:"engine" json:"engine"`
	Log     Log     `toml:"log" json:"log"`
	Ledger  Ledger  `toml:"ledger" json:"ledger"`
	Server  Server  `toml:"server" json:"server"`
	Modules Modules `toml:"modules" json:"modules"`

	// Dir is the directory containing the ilvm.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Engine configures each process.
type Engine struct {
	StackSize      int    `toml:"stack-size" json:"stack-size"`
	FrameStackSize int    `toml:"frame-stack-size" json:"frame-stack-size"`
	MaxFrames      int    `toml:"max-frames" json:"max-frames"`
	MaxHeap        int64  `toml:"max-heap" json:"max-heap"`
	CachePage      int    `toml:"cache-page" json:"cache-page"`
	Unsafe         bool   `toml:"unsafe" json:"unsafe"`
	Profile        bool   `toml:"profile" json:"profile"`
	Coder          string `toml:"coder" json:"coder"`
	Language       string `toml:"language" json:"language"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	Path      string `toml:"path" json:"path,omitempty"`
}

// Ledger configures the verification ledger.
type Ledger struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"`
}

// Server configures `ilvm serve`.
type Server struct {
	Addr    string `toml:"addr" json:"addr"`
	Workers int    `toml:"workers" json:"workers"`
}

// Modules lists images preloaded into every process, in load order.
type Modules struct {
	Images []string `toml:"images" json:"images,omitempty"`
}

// Default returns a manifest holding the engine defaults.
func Default() *Manifest {
	m := &Manifest{}
	m.fill()
	return m
}

// fill sets defaults for everything the file left out.
func (m *Manifest) fill() {
	d := vm.DefaultOptions()
	e := &m.Engine
	if e.StackSize == 0 {
		e.StackSize = d.StackSize
	}
	if e.FrameStackSize == 0 {
		e.FrameStackSize = d.FrameStackSize
	}
	if e.MaxFrames == 0 {
		e.MaxFrames = d.MaxFrames
	}
	if e.MaxHeap == 0 {
		e.MaxHeap = d.MaxHeap
	}
	if e.CachePage == 0 {
		e.CachePage = d.CachePage
	}
	if e.Coder == "" {
		e.Coder = d.Coder
	}
	if e.Language == "" {
		e.Language = d.Language.String()
	}
	if m.Ledger.Path == "" {
		m.Ledger.Path = filepath.Join(".ilvm", "ledger.db")
	}
	if m.Server.Addr == "" {
		m.Server.Addr = "localhost:8700"
	}
	if m.Server.Workers == 0 {
		m.Server.Workers = 4
	}
}

// Parse decodes and validates manifest text. Relative paths resolve
// against dir.
func Parse(data []byte, dir string) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	m.Dir = dir
	m.fill()
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load parses the ilvm.toml file in dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m, err := Parse(data, abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find an ilvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// resolve makes p absolute relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// ImagePaths returns the preloaded image paths.
func (m *Manifest) ImagePaths() []string {
	var paths []string
	for _, p := range m.Modules.Images {
		paths = append(paths, m.resolve(p))
	}
	return paths
}

// LedgerPath returns the ledger database path.
func (m *Manifest) LedgerPath() string {
	return m.resolve(m.Ledger.Path)
}

// EngineOptions maps the [engine] section to process options. The caller
// sets Stdout, Trace and Ledger.
func (m *Manifest) EngineOptions() (vm.Options, error) {
	tag, err := language.Parse(m.Engine.Language)
	if err != nil {
		return vm.Options{}, fmt.Errorf("manifest: language %q: %w", m.Engine.Language, err)
	}
	opts := vm.DefaultOptions()
	opts.StackSize = m.Engine.StackSize
	opts.FrameStackSize = m.Engine.FrameStackSize
	opts.MaxFrames = m.Engine.MaxFrames
	opts.MaxHeap = m.Engine.MaxHeap
	opts.CachePage = m.Engine.CachePage
	opts.Unsafe = m.Engine.Unsafe
	opts.Profile = m.Engine.Profile
	opts.Coder = m.Engine.Coder
	opts.Language = tag
	return opts, nil
}

// OpenLedger opens the configured ledger, or returns nil when disabled.
func (m *Manifest) OpenLedger() (*ledger.Ledger, error) {
	if !m.Ledger.Enabled {
		return nil, nil
	}
	path := m.LedgerPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("manifest: ledger directory: %w", err)
	}
	return ledger.Open(path)
}

// ConfigureLogging applies the [log] section to commonlog.
func (m *Manifest) ConfigureLogging() {
	var path *string
	if m.Log.Path != "" {
		p := m.resolve(m.Log.Path)
		path = &p
	}
	commonlog.Configure(m.Log.Verbosity, path)
}
