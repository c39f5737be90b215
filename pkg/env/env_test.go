package env

import "testing"

func TestGetFallsBackWhenBlank(t *testing.T) {
	t.Setenv("CAMPUSMART_TEST_VALUE", "   ")
	if got := Get("CAMPUSMART_TEST_VALUE", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}

	t.Setenv("CAMPUSMART_TEST_VALUE", "set")
	if got := Get("CAMPUSMART_TEST_VALUE", "fallback"); got != "set" {
		t.Fatalf("expected set, got %q", got)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("CAMPUSMART_TEST_FLAG", "true")
	if !Bool("CAMPUSMART_TEST_FLAG", false) {
		t.Fatal("expected true")
	}
	t.Setenv("CAMPUSMART_TEST_FLAG", "nope")
	if Bool("CAMPUSMART_TEST_FLAG", false) {
		t.Fatal("malformed value should fall back")
	}
}
