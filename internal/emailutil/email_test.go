package emailutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercase email",
			input:    "user@example.com",
			expected: "user@example.com",
		},
		{
			name:     "mixed case email",
			input:    "User@Example.Com",
			expected: "user@example.com",
		},
		{
			name:     "email with surrounding whitespace",
			input:    "  User@Example.Com  ",
			expected: "user@example.com",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{
			name:  "plain address",
			input: "user@example.com",
			valid: true,
		},
		{
			name:  "subdomain address",
			input: "user@mail.example.com",
			valid: true,
		},
		{
			name:  "missing domain",
			input: "user@",
			valid: false,
		},
		{
			name:  "missing local part",
			input: "@example.com",
			valid: false,
		},
		{
			name:  "display name form rejected",
			input: "Sam <sam@example.com>",
			valid: false,
		},
		{
			name:  "empty string",
			input: "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValid(tt.input))
		})
	}
}
