package utils

import (
	"strings"
	"testing"
)

func TestGenerateID(t *testing.T) {
	a := GenerateID("txn-consumer")
	b := GenerateID("txn-consumer")

	if !strings.HasPrefix(a, "txn-consumer-") {
		t.Errorf("expected prefix, got %q", a)
	}
	if len(a) != len("txn-consumer-")+10 {
		t.Errorf("unexpected length %d for %q", len(a), a)
	}
	if a == b {
		t.Errorf("expected distinct ids, got %q twice", a)
	}
}

func TestValidateUUID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"2a3c4b8e-0a0b-4c1d-9e2f-1a2b3c4d5e6f", true},
		{NewCorrelationID(), true},
		{"01234567", false},
		{"", false},
		{"{2a3c4b8e-0a0b-4c1d-9e2f-1a2b3c4d5e6f}", false},
	}
	for _, tt := range tests {
		if got := ValidateUUID(tt.id); got != tt.want {
			t.Errorf("ValidateUUID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
