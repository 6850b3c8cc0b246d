package emailutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "user@example.com", Normalize("  User@Example.Com\n"))
	assert.Equal(t, "", Normalize(" \t "))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain", input: "alice@example.com", want: "alice@example.com"},
		{name: "normalized", input: "  Alice@Example.COM ", want: "alice@example.com"},
		{name: "plus tag", input: "alice+blog@mail.example.co.uk", want: "alice+blog@mail.example.co.uk"},
		{name: "empty", input: "", wantErr: true},
		{name: "no at", input: "alice.example.com", wantErr: true},
		{name: "two ats", input: "alice@home@example.com", wantErr: true},
		{name: "empty local part", input: "@example.com", wantErr: true},
		{name: "undotted domain", input: "alice@localhost", wantErr: true},
		{name: "leading dot domain", input: "alice@.example.com", wantErr: true},
		{name: "trailing dot domain", input: "alice@example.com.", wantErr: true},
		{name: "double dot domain", input: "alice@example..com", wantErr: true},
		{name: "inner space", input: "al ice@example.com", wantErr: true},
		{name: "too long", input: strings.Repeat("a", 250) + "@example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEmail)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "example.com", Domain("alice@example.com"))
	assert.Equal(t, "", Domain("alice"))
	assert.Equal(t, "", Domain("a@b@c"))
}
