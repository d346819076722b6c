package utils

import "testing"

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", "(empty)"},
		{"short key", "agl_12345", "****"},
		{"normal key", "agl_u3K9mPqR7sTvWxYz", "agl_u3K9...WxYz"},
		{"long key", "agl_u3K9mPqR7sTvWxYzAbCdEfGhIjKl", "agl_u3K9...IjKl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MaskKey(tt.input)
			if result != tt.expected {
				t.Errorf("MaskKey(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
