package config

import "testing"

func TestParse_DefaultsApplyWithNoArgs(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr == "" || cfg.StateDir == "" {
		t.Fatalf("expected defaults populated, got %+v", cfg)
	}
	if cfg.MaxSessions != Defaults().MaxSessions {
		t.Fatalf("expected default max sessions, got %d", cfg.MaxSessions)
	}
}

func TestParse_OverridesFlags(t *testing.T) {
	cfg, err := Parse([]string{"-addr", ":9999", "-max-sessions", "10", "-dev"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("expected addr override, got %q", cfg.Addr)
	}
	if cfg.MaxSessions != 10 {
		t.Fatalf("expected max-sessions override, got %d", cfg.MaxSessions)
	}
	if !cfg.Dev {
		t.Fatal("expected dev mode enabled")
	}
}

func TestParse_RejectsZeroMaxSessions(t *testing.T) {
	if _, err := Parse([]string{"-max-sessions", "0"}); err == nil {
		t.Fatal("expected validation error for max-sessions=0")
	}
}

func TestParse_RejectsNegativeRetention(t *testing.T) {
	if _, err := Parse([]string{"-retention-days", "-1"}); err == nil {
		t.Fatal("expected validation error for negative retention")
	}
}
