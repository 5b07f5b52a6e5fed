package licensing

import (
	"strings"
	"testing"
)

func TestGenerateKey_Format(t *testing.T) {
	tests := []struct {
		tier   string
		prefix string
	}{
		{tier: "trial", prefix: "TRIAL"},
		{tier: "standard", prefix: "STD"},
		{tier: "enterprise", prefix: "ENT"},
		{tier: "ENTERPRISE", prefix: "ENT"},
	}

	for _, tt := range tests {
		key, err := GenerateKey(tt.tier)
		if err != nil {
			t.Fatalf("GenerateKey(%q) returned error: %v", tt.tier, err)
		}
		parts := strings.Split(key, "-")
		if len(parts) != 5 {
			t.Fatalf("expected 5 segments, got %d in %q", len(parts), key)
		}
		if parts[0] != tt.prefix {
			t.Fatalf("expected prefix %q, got %q", tt.prefix, parts[0])
		}
		for _, group := range parts[1:] {
			if len(group) != 4 {
				t.Fatalf("expected 4-character groups, got %q in %q", group, key)
			}
			if group != strings.ToUpper(group) {
				t.Fatalf("expected uppercase groups, got %q", group)
			}
		}
	}
}

func TestGenerateKey_UnknownTier(t *testing.T) {
	if _, err := GenerateKey("platinum"); err == nil {
		t.Fatalf("expected error for unknown tier")
	}
}

func TestGenerateKey_UniqueWithinSmallBatch(t *testing.T) {
	seen := make(map[string]struct{})

	for i := 0; i < 100; i++ {
		key, err := GenerateKey("standard")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, exists := seen[key]; exists {
			t.Fatalf("duplicate key generated in small batch: %s", key)
		}
		seen[key] = struct{}{}
	}
}
