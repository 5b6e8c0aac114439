package utils

import "testing"

func TestRegistrableDomain(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple domain", "example.com", "example.com"},
		{"subdomain", "www.example.com", "example.com"},
		{"deep subdomain", "api.service.example.com.", "example.com"},
		{"co.uk", "www.example.co.uk", "example.co.uk"},
		{"github.io private suffix", "subdomain.user.github.io", "user.github.io"},
		{"single label fallback", "localhost", "localhost"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RegistrableDomain(tt.input); got != tt.expected {
				t.Errorf("RegistrableDomain(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
