package nl2sql

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name  string
		value string
		n     int
		want  string
	}{
		{name: "short", value: "ok", n: 5, want: "ok"},
		{name: "ascii", value: "abcdef", n: 3, want: "abc..."},
		{name: "cut inside rune", value: "aé", n: 2, want: "a..."},
		{name: "cut after rune", value: "éa", n: 2, want: "é..."},
		{name: "leading multibyte", value: "日本語", n: 2, want: "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.value, tt.n)
			if got != tt.want {
				t.Fatalf("truncate(%q, %d) = %q, want %q", tt.value, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("truncate(%q, %d) = %q is not valid UTF-8", tt.value, tt.n, got)
			}
		})
	}

	body := strings.Repeat("é", 300)
	if got := truncate(body, 512); !utf8.ValidString(got) || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate() of a long error body = %q", got)
	}
}
