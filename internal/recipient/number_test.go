package recipient

import (
	"reflect"
	"testing"
)

func TestValid(t *testing.T) {
	for _, s := range []string{"9876543210", "0000000000"} {
		if !Valid(s) {
			t.Fatalf("Valid(%q) = false", s)
		}
	}
	for _, s := range []string{"", "987654321", "98765432101", "98765 43210", "98765432a0"} {
		if Valid(s) {
			t.Fatalf("Valid(%q) = true", s)
		}
	}
}

func TestExtractKeepsOrder(t *testing.T) {
	text := "call 9876543210, or 9123456780\nbackup:1111111111; short 12345"
	got := Extract(text)
	want := []string{"9876543210", "9123456780", "1111111111"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Extract = %v, want %v", got, want)
	}
}

func TestExtractLongRunsAreNotOverlapping(t *testing.T) {
	// 25 digits: two full matches, the remaining five are dropped.
	got := Extract("1234567890123456789012345")
	want := []string{"1234567890", "1234567890"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Extract = %v, want %v", got, want)
	}
	if got := Extract("no digits here"); got == nil || len(got) != 0 {
		t.Fatalf("Extract(no digits) = %#v, want empty non-nil slice", got)
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("9876543210", "91"); got != "919876543210" {
		t.Fatalf("Normalize = %q", got)
	}
	if got := Normalize("919876543210", "91"); got != "919876543210" {
		t.Fatalf("already prefixed number changed: %q", got)
	}
	if got := Normalize("9876543210", ""); got != DefaultCountryCode+"9876543210" {
		t.Fatalf("default country code not applied: %q", got)
	}
	if got := Normalize("9123456780", "91"); got != "9123456780" {
		t.Fatalf("prefix check is literal, got %q", got)
	}
}
