package strings

import (
	"testing"
	"unicode/utf8"
)

func TestTruncateDescription(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{
			name:   "short description unchanged",
			input:  "PING is answered with a PONG",
			maxLen: 60,
			want:   "PING is answered with a PONG",
		},
		{
			name:   "exact length unchanged",
			input:  "12345",
			maxLen: 5,
			want:   "12345",
		},
		{
			name:   "long description truncated with marker",
			input:  "PING with an empty trailing origin must be treated as missing",
			maxLen: 30,
			want:   "PING with an empty trailing...",
		},
		{
			name:   "newline in description becomes a space",
			input:  "first line\nsecond line",
			maxLen: 60,
			want:   "first line second line",
		},
		{
			name:   "crlf and blank lines collapse",
			input:  "summary\r\n\r\ndetail",
			maxLen: 60,
			want:   "summary detail",
		},
		{
			name:   "runs of spaces and tabs collapse",
			input:  "spread \t  out    words",
			maxLen: 60,
			want:   "spread out words",
		},
		{
			name:   "collapsing may avoid truncation",
			input:  "a    b    c",
			maxLen: 6,
			want:   "a b c",
		},
		{
			name:   "empty description",
			input:  "",
			maxLen: 60,
			want:   "",
		},
		{
			name:   "whitespace-only description",
			input:  " \n\t ",
			maxLen: 60,
			want:   "",
		},
		{
			name:   "maxLen below minimum is clamped",
			input:  "abcdef",
			maxLen: 2,
			want:   "a...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateDescription(tt.input, tt.maxLen)
			if got != tt.want {
				t.Errorf("TruncateDescription(%q, %d) = %q, want %q",
					tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncateDescriptionRuneSafety(t *testing.T) {
	// Truncation counts runes, not bytes, so a multi-byte character is
	// never cut in half.
	input := "réponse du serveur avec préfixe obligatoire"
	got := TruncateDescription(input, 10)

	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got)
	}
	if runeLen := utf8.RuneCountInString(got); runeLen != 10 {
		t.Errorf("truncated to %d runes, want 10: %q", runeLen, got)
	}
	if got != "réponse..." {
		t.Errorf("TruncateDescription(%q, 10) = %q, want %q", input, got, "réponse...")
	}
}
