package config

import (
	"os"
	"testing"
)

func TestLoadPositionalArgs(t *testing.T) {
	cfg, err := Load([]string{"3", "2", "10", "30"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Producers != 3 || cfg.Consumers != 2 || cfg.Capacity != 10 || cfg.TimeoutSeconds != 30 {
		t.Fatalf("unexpected positional parse: %+v", cfg)
	}
}

func TestLoadRejectsWrongArgCount(t *testing.T) {
	if _, err := Load([]string{"3", "2", "10"}); err == nil {
		t.Fatalf("expected error for missing positional argument")
	}
}

func TestEnvOverrides(t *testing.T) {
	os.Setenv("PCSIM_LOGGING_LEVEL", "debug")
	defer os.Unsetenv("PCSIM_LOGGING_LEVEL")
	cfg, err := Load([]string{"1", "1", "5", "10"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env var to override log level, got %q", cfg.Logging.Level)
	}
}

func TestCSVPathDeterministic(t *testing.T) {
	cfg, err := Load([]string{"2", "1", "8", "10"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "./pcsim_p2_c1_q8.csv"
	if got := cfg.CSVPath(); got != want {
		t.Fatalf("CSVPath = %q, want %q", got, want)
	}
}
