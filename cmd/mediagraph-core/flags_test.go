package main

import "testing"

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.configPath != "" || cfg.socketName != "" || cfg.logLevel != "" || cfg.metricsAddr != "" || cfg.showVersion {
		t.Fatalf("expected all-zero defaults, got %+v", cfg)
	}
}

func TestParseFlagsOverrides(t *testing.T) {
	cfg, err := parseFlags([]string{
		"-config", "/etc/mediagraph.toml",
		"-socket-name", "mediagraph-test",
		"-log-level", "debug",
		"-metrics-addr", ":9090",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.configPath != "/etc/mediagraph.toml" {
		t.Errorf("configPath = %q", cfg.configPath)
	}
	if cfg.socketName != "mediagraph-test" {
		t.Errorf("socketName = %q", cfg.socketName)
	}
	if cfg.logLevel != "debug" {
		t.Errorf("logLevel = %q", cfg.logLevel)
	}
	if cfg.metricsAddr != ":9090" {
		t.Errorf("metricsAddr = %q", cfg.metricsAddr)
	}
}

func TestParseFlagsRejectsInvalidLogLevel(t *testing.T) {
	if _, err := parseFlags([]string{"-log-level", "verbose"}); err == nil {
		t.Fatal("expected error for invalid -log-level")
	}
}

func TestParseFlagsVersionFlag(t *testing.T) {
	cfg, err := parseFlags([]string{"-version"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if !cfg.showVersion {
		t.Fatal("expected showVersion to be true")
	}
}

func TestParseFlagsRejectsUnknownFlag(t *testing.T) {
	if _, err := parseFlags([]string{"-bogus"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}
