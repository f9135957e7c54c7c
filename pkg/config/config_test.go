package config

import (
	"testing"
	"time"
)

func TestEnvDefaults(t *testing.T) {
	t.Setenv("CFG_TEST_STR", "")
	if got := Env("CFG_TEST_STR", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("CFG_TEST_STR", "value")
	if got := Env("CFG_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "not-a-number")
	if got := EnvInt("CFG_TEST_INT", 7); got != 7 {
		t.Fatalf("expected default on parse failure, got %d", got)
	}
	t.Setenv("CFG_TEST_INT", "42")
	if got := EnvInt("CFG_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestEnvDurationSec(t *testing.T) {
	t.Setenv("CFG_TEST_DUR", "3")
	if got := EnvDurationSec("CFG_TEST_DUR", 10); got != 3*time.Second {
		t.Fatalf("expected 3s, got %v", got)
	}
}

func TestAddr(t *testing.T) {
	t.Setenv("GATEWAY_BIND", "127.0.0.1")
	t.Setenv("GATEWAY_PORT", "9090")
	if got := Addr(); got != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr %q", got)
	}
}
