package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseConfig(t *testing.T) {
	data := []byte(`
listen: "127.0.0.1:9000"
journal: "mutations.db"
debug: true
no_color: true
breakpoints:
  - file: main.lune
    line: 3
  - file: lib.lune
    line: 10
`)

	cfg, err := ParseConfig(data, "lune.yaml")
	if err != nil {
		t.Fatalf("parse error: %s", err)
	}

	if cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("listen: got=%q", cfg.Listen)
	}
	if cfg.Journal != "mutations.db" {
		t.Errorf("journal: got=%q", cfg.Journal)
	}
	if !cfg.Debug || !cfg.NoColor {
		t.Error("debug/no_color flags not parsed")
	}
	if len(cfg.Breakpoints) != 2 {
		t.Fatalf("breakpoints: got=%d, want=2", len(cfg.Breakpoints))
	}
	if cfg.Breakpoints[0].File != "main.lune" || cfg.Breakpoints[0].Line != 3 {
		t.Errorf("breakpoint 0: got=%+v", cfg.Breakpoints[0])
	}
}

func TestParseConfigRejectsBadBreakpoints(t *testing.T) {
	if _, err := ParseConfig([]byte("breakpoints:\n  - line: 3\n"), "lune.yaml"); err == nil {
		t.Error("breakpoint without file accepted")
	}
	if _, err := ParseConfig([]byte("breakpoints:\n  - file: a.lune\n    line: 0\n"), "lune.yaml"); err == nil {
		t.Error("breakpoint with line 0 accepted")
	}
}

func TestParseConfigRejectsBadYAML(t *testing.T) {
	if _, err := ParseConfig([]byte(": not yaml"), "lune.yaml"); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestFindConfigWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	cfgPath := filepath.Join(root, DefaultConfigName)
	if err := os.WriteFile(cfgPath, []byte("debug: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := FindConfig(nested)
	if err != nil {
		t.Fatalf("find error: %s", err)
	}
	if found != cfgPath {
		t.Errorf("found: got=%q, want=%q", found, cfgPath)
	}
}

func TestFindConfigMissingIsNotError(t *testing.T) {
	found, err := FindConfig(t.TempDir())
	if err != nil {
		t.Fatalf("find error: %s", err)
	}
	if found != "" {
		t.Errorf("found unexpected config: %q", found)
	}
}

func TestIsBundleFile(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"prog.lbc", true},
		{"prog.lune", true},
		{"prog.txt", false},
		{"prog", false},
	}
	for _, tt := range tests {
		if got := IsBundleFile(tt.path); got != tt.expected {
			t.Errorf("IsBundleFile(%q): got=%v, want=%v", tt.path, got, tt.expected)
		}
	}
}
