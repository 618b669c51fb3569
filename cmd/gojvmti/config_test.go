package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[npe]
enabled = true

[trace]
enabled = true
output = "trace.log"

[faketime]
offset_ms = -300

[heapsampler]
enabled = true
interval = 1024
dump = "heap.msgpack"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.NPE.Enabled {
		t.Error("npe.enabled not parsed")
	}
	if !cfg.Trace.Enabled || cfg.Trace.Output != "trace.log" {
		t.Errorf("trace table: %+v", cfg.Trace)
	}
	if cfg.Faketime.OffsetMillis != -300 {
		t.Errorf("faketime.offset_ms: got %d, want -300", cfg.Faketime.OffsetMillis)
	}
	if !cfg.HeapSampler.Enabled || cfg.HeapSampler.Interval != 1024 || cfg.HeapSampler.Dump != "heap.msgpack" {
		t.Errorf("heapsampler table: %+v", cfg.HeapSampler)
	}
}

func TestLoadConfigDefaultsToZeroValues(t *testing.T) {
	path := writeConfig(t, "[npe]\nenabled = true\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Trace.Enabled || cfg.HeapSampler.Enabled || cfg.Faketime.OffsetMillis != 0 {
		t.Errorf("omitted tables should stay zero: %+v", cfg)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMergeConfigPrecedence(t *testing.T) {
	cfg := &Config{}
	cfg.NPE.Enabled = true
	cfg.Trace.Enabled = true
	cfg.Faketime.OffsetMillis = 250
	cfg.HeapSampler.Interval = 2048

	// --trace=false on the command line beats trace.enabled in the file.
	if err := runCmd.Flags().Set("trace", "false"); err != nil {
		t.Fatalf("setting flag: %v", err)
	}
	saved := runFlags
	defer func() { runFlags = saved }()

	mergeConfig(runCmd, cfg)

	if runFlags.trace {
		t.Error("explicit --trace=false overridden by config")
	}
	if !runFlags.npe {
		t.Error("npe.enabled from config not applied")
	}
	if runFlags.timeOffset != "250" {
		t.Errorf("time offset: got %q, want \"250\"", runFlags.timeOffset)
	}
	if runFlags.heapInterval != 2048 {
		t.Errorf("heap interval: got %d, want 2048", runFlags.heapInterval)
	}
}
