package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestParseKey(t *testing.T) {
	raw := strings.Repeat("Ab", 32)

	key, err := ParseKey(raw)
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if key != ContentKey(strings.Repeat("ab", 32)) {
		t.Errorf("expected lowercased key, got %q", key)
	}
}

func TestValidateRejectsBadKeys(t *testing.T) {
	bad := []string{
		"",
		"abc123",
		strings.Repeat("a", 63),
		strings.Repeat("a", 65),
		strings.Repeat("g", 64),
		strings.Repeat("a", 63) + "!",
	}
	for _, raw := range bad {
		if _, err := ParseKey(raw); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParseKey(%q): expected ErrInvalidKey, got %v", raw, err)
		}
	}
}

func TestShort(t *testing.T) {
	key := ContentKey(strings.Repeat("ab", 32))
	if got := key.Short(); got != "abababab" {
		t.Errorf("expected 8-char prefix, got %q", got)
	}
}
