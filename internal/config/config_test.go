package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SourceOrDefault() != SourceCLI {
		t.Errorf("source = %q, want cli", cfg.SourceOrDefault())
	}
	if cfg.BinOrDefault() != "bd" {
		t.Errorf("bin = %q, want bd", cfg.BinOrDefault())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	want := &Config{
		Source:       SourceSQLite,
		DBPath:       "/tmp/beads.db",
		PollInterval: "5s",
		Window:       "30d",
		Port:         8800,
	}
	if err := Save(dir, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Source != SourceSQLite || got.DBPath != "/tmp/beads.db" {
		t.Errorf("source/db = %q/%q", got.Source, got.DBPath)
	}
	if got.PollInterval != "5s" || got.Window != "30d" || got.Port != 8800 {
		t.Errorf("got %+v", got)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()

	if err := Save(dir, &Config{Bin: "/usr/local/bin/bd", Debounce: "1s"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	t.Setenv("BD_BIN", "/opt/bd")
	t.Setenv("NACRE_DEBOUNCE", "100ms")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bin != "/opt/bd" {
		t.Errorf("bin = %q, want /opt/bd", cfg.Bin)
	}
	if cfg.Debounce != "100ms" {
		t.Errorf("debounce = %q, want 100ms", cfg.Debounce)
	}
}

func TestDotEnvFileLoaded(t *testing.T) {
	dir := t.TempDir()

	env := "NACRE_SOURCE=sqlite\nNACRE_DB=/data/beads.db\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// godotenv mutates the process environment; make sure these names
	// are restored after the test.
	t.Setenv("NACRE_SOURCE", "")
	t.Setenv("NACRE_DB", "")
	os.Unsetenv("NACRE_SOURCE")
	os.Unsetenv("NACRE_DB")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source != SourceSQLite {
		t.Errorf("source = %q, want sqlite", cfg.Source)
	}
	if cfg.DBPath != "/data/beads.db" {
		t.Errorf("db = %q, want /data/beads.db", cfg.DBPath)
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		raw  string
		def  time.Duration
		want time.Duration
	}{
		{"", time.Second, time.Second},
		{"5s", time.Second, 5 * time.Second},
		{"garbage", 2 * time.Second, 2 * time.Second},
		{"-1s", time.Second, time.Second},
	}
	for _, tt := range tests {
		if got := Duration(tt.raw, tt.def); got != tt.want {
			t.Errorf("Duration(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
