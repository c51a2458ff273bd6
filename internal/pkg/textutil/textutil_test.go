package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "abc", 10, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"ascii cut", "abcdef", 4, "abcd"},
		{"two byte rune not split", "aé", 2, "a"},
		{"three byte rune not split", "ab€", 4, "ab"},
		{"four byte rune not split", "a😀b", 4, "a"},
		{"rune fits", "aé", 3, "aé"},
		{"invalid bytes dropped", "a\xffb", 10, "ab"},
		{"zero", "abc", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.max)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Truncate(%q, %d) is invalid UTF-8", tt.in, tt.max)
			}
		})
	}
}

func TestTruncateLongObjectKey(t *testing.T) {
	key := strings.Repeat("é", 400)
	for max := 490; max <= 510; max++ {
		got := Truncate("[ACQUISITION_FAILURE] failed to acquire "+key, max)
		if len(got) > max || !utf8.ValidString(got) {
			t.Fatalf("max=%d: len=%d valid=%v", max, len(got), utf8.ValidString(got))
		}
	}
}

func TestTrimFront(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "llo"},
		{"éa", 2, "a"},
		{"xé", 2, "é"},
		{"€€", 4, "€"},
	}
	for _, tt := range tests {
		got := string(TrimFront([]byte(tt.in), tt.max))
		if got != tt.want {
			t.Errorf("TrimFront(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
