package client

import "testing"

func TestCleanAnswer(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"U+0041", "U+0041"},
		{"  \"U+0041\".  ", "U+0041"},
		{"```\nU+3042\n```", "U+3042"},
		{"U+0042\nbecause it looks like a B", "U+0042"},
		{"/* guess */ U+0043", "U+0043"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanAnswer(tt.in); got != tt.want {
			t.Errorf("CleanAnswer(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New("tensorflow", ""); err == nil {
		t.Error("Expected error for unknown backend")
	}
	if c, err := New("llamacpp", "http://localhost:8080/"); err != nil || c == nil {
		t.Errorf("Expected llamacpp client, got %v", err)
	}
}
