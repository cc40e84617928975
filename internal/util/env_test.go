package util

import (
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("MEDGRAPH_TEST_NUM", "12")
	t.Setenv("MEDGRAPH_TEST_BAD_NUM", "twelve")
	t.Setenv("MEDGRAPH_TEST_BOOL", "true")
	t.Setenv("MEDGRAPH_TEST_DUR", "90s")
	t.Setenv("MEDGRAPH_TEST_LIST", "a, b,,c ")
	t.Setenv("MEDGRAPH_TEST_BLANK", "  ")

	if got := GetEnvInt("MEDGRAPH_TEST_NUM", 1); got != 12 {
		t.Fatalf("GetEnvInt() = %d, want 12", got)
	}
	if got := GetEnvInt("MEDGRAPH_TEST_BAD_NUM", 3); got != 3 {
		t.Fatalf("GetEnvInt() with invalid value = %d, want 3", got)
	}
	if got := GetEnvInt("MEDGRAPH_TEST_MISSING", 7); got != 7 {
		t.Fatalf("GetEnvInt() missing = %d, want 7", got)
	}
	if !GetEnvBool("MEDGRAPH_TEST_BOOL", false) {
		t.Fatalf("GetEnvBool() = false, want true")
	}
	if got := GetEnvDuration("MEDGRAPH_TEST_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("GetEnvDuration() = %s, want 1m30s", got)
	}
	if got := GetEnvString("MEDGRAPH_TEST_BLANK", "fallback"); got != "fallback" {
		t.Fatalf("GetEnvString() = %q, want fallback", got)
	}

	list := GetEnvList("MEDGRAPH_TEST_LIST")
	if len(list) != 3 || list[0] != "a" || list[2] != "c" {
		t.Fatalf("GetEnvList() = %q", list)
	}
}
