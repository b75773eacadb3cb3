package provision

import (
	"testing"
	"time"
)

func TestGenerateUsername(t *testing.T) {
	tests := []struct {
		name     string
		client   string
		clientID int64
		maxLen   int
		want     string
	}{
		{"plain", "John Doe", 42, 20, "johndoe0042"},
		{"punctuation_stripped", "O'Brien & Sons!", 7, 20, "obriensons0007"},
		{"digits_kept", "Cafe 24", 193, 20, "cafe240193"},
		{"empty_name", "", 5, 20, "client0005"},
		{"non_ascii_dropped", "Ñandú", 12, 20, "and0012"},
		{"long_name_truncated", "Verylongcompanynamehere", 88, 12, "verylong0088"},
		{"wide_id", "A", 123456, 20, "a123456"},
		{"zero_maxlen_defaults", "John Doe", 42, 0, "johndoe0042"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateUsername(tt.client, tt.clientID, tt.maxLen)
			if got != tt.want {
				t.Fatalf("GenerateUsername(%q, %d, %d) = %q, want %q",
					tt.client, tt.clientID, tt.maxLen, got, tt.want)
			}
			if tt.maxLen > 0 && len(got) > tt.maxLen {
				t.Fatalf("len(%q) = %d exceeds max %d", got, len(got), tt.maxLen)
			}
		})
	}
}

func TestDateSuffixCandidate(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	if got := dateSuffixCandidate("johndoe0042", now, 0, 20); got != "johndoe00420829" {
		t.Fatalf("offset 0 = %q", got)
	}
	if got := dateSuffixCandidate("johndoe0042", now, 3, 20); got != "johndoe00420901" {
		t.Fatalf("offset 3 = %q", got)
	}

	// The base shrinks so the suffix always fits.
	got := dateSuffixCandidate("averylongusernamebase", now, 0, 12)
	if got != "averylon0829" || len(got) != 12 {
		t.Fatalf("trimmed = %q", got)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"John Doe", "johndoe"},
		{"  MIXED case 99 ", "mixedcase99"},
		{"---", ""},
		{"ñoño", "oo"},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Fatalf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
