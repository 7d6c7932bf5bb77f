package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("ZAP_TEST_BOOL", "yes")
	if !ParseBoolEnv("ZAP_TEST_BOOL", false) {
		t.Error("expected yes to parse as true")
	}
	t.Setenv("ZAP_TEST_BOOL", "off")
	if ParseBoolEnv("ZAP_TEST_BOOL", true) {
		t.Error("expected off to parse as false")
	}
	t.Setenv("ZAP_TEST_BOOL", "talvez")
	if !ParseBoolEnv("ZAP_TEST_BOOL", true) {
		t.Error("expected invalid value to fall back to default")
	}
	if ParseBoolEnv("ZAP_TEST_UNSET", false) {
		t.Error("expected unset variable to use default")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("ZAP_TEST_INT", "42")
	if got := ParseIntEnv("ZAP_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("ZAP_TEST_INT", "not-a-number")
	if got := ParseIntEnv("ZAP_TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("ZAP_TEST_DUR", "30m")
	if got := ParseDurationEnv("ZAP_TEST_DUR", time.Hour); got != 30*time.Minute {
		t.Errorf("expected 30m, got %v", got)
	}
	t.Setenv("ZAP_TEST_DUR", "bogus")
	if got := ParseDurationEnv("ZAP_TEST_DUR", time.Hour); got != time.Hour {
		t.Errorf("expected default 1h, got %v", got)
	}
}

func TestGetEnvDefault(t *testing.T) {
	t.Setenv("ZAP_TEST_STR", "valor")
	if got := GetEnvDefault("ZAP_TEST_STR", "padrao"); got != "valor" {
		t.Errorf("expected valor, got %q", got)
	}
	if got := GetEnvDefault("ZAP_TEST_STR_UNSET", "padrao"); got != "padrao" {
		t.Errorf("expected padrao, got %q", got)
	}
}
