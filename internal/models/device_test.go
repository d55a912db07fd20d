package models

import "testing"

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"2.3", 203},
		{"1.7", 107},
		{"2.2.1", 202},
		{"2", 200},
		{"", 0},
		{"x.1", 0},
		{"2.x", 200},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseVersion(tt.in); got != tt.want {
				t.Errorf("ParseVersion(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
