package id

import (
	"encoding/base32"
	"strings"
	"testing"
)

func TestNewIDIsLowerBase32UUID(t *testing.T) {
	value, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(value) != 26 || strings.ContainsAny(value, "=ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		t.Fatalf("id %q is not 26 lower-case unpadded base32 characters", value)
	}

	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(value))
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	if got := raw[6] >> 4; got != 4 {
		t.Fatalf("uuid version = %d, want 4", got)
	}
	if got := raw[8] & 0xC0; got != 0x80 {
		t.Fatalf("uuid variant = 0x%X, want 0x80", got)
	}
}

func TestNewIDDoesNotRepeat(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for range 1000 {
		value, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if _, dup := seen[value]; dup {
			t.Fatalf("duplicate id %q", value)
		}
		seen[value] = struct{}{}
	}
}
