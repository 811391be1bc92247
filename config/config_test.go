package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[engine]
max-call-depth = 512
initial-stack = 128

[cache]
path = "/var/cache/veldt/units.db"
enabled = true

[run]
entry = "start"
trace = true
`
	path := filepath.Join(dir, "veldt.toml")
	if err := os.WriteFile(path, []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Engine.MaxCallDepth != 512 {
		t.Errorf("max-call-depth = %d, want 512", c.Engine.MaxCallDepth)
	}
	if c.Engine.InitialStack != 128 {
		t.Errorf("initial-stack = %d, want 128", c.Engine.InitialStack)
	}
	if !c.Cache.Enabled || c.Cache.Path != "/var/cache/veldt/units.db" {
		t.Errorf("cache section = %+v, want enabled at /var/cache/veldt/units.db", c.Cache)
	}
	if c.Run.Entry != "start" {
		t.Errorf("entry = %q, want start", c.Run.Entry)
	}
	if !c.Run.Trace {
		t.Error("trace = false, want true")
	}

	limits := c.Limits()
	if limits.MaxCallDepth != 512 || limits.InitialStack != 128 {
		t.Errorf("Limits() = %+v, want {512 128}", limits)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "veldt.toml")
	if err := os.WriteFile(path, []byte("[engine]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Run.Entry != "main" {
		t.Errorf("default entry = %q, want main", c.Run.Entry)
	}
	if c.Engine.MaxCallDepth <= 0 {
		t.Errorf("default max-call-depth = %d, want positive", c.Engine.MaxCallDepth)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load of missing file failed: %v", err)
	}
	if c.Run.Entry != "main" {
		t.Errorf("entry = %q, want the main default", c.Run.Entry)
	}
}

func TestLoadConfigParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "veldt.toml")
	if err := os.WriteFile(path, []byte("[engine\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted malformed TOML")
	}
}
