package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statePayload struct {
	Nonce     string `json:"nonce"`
	ReturnURL string `json:"return_url"`
}

func TestTokenSignerRoundTrip(t *testing.T) {
	signer := NewTokenSigner([]byte("key"), time.Minute)

	token, err := signer.Sign(statePayload{Nonce: "n1", ReturnURL: "/me"})
	require.NoError(t, err)

	var got statePayload
	require.NoError(t, signer.Verify(token, &got))
	assert.Equal(t, statePayload{Nonce: "n1", ReturnURL: "/me"}, got)
}

func TestTokenSignerRejects(t *testing.T) {
	signer := NewTokenSigner([]byte("key"), time.Minute)
	token, err := signer.Sign(statePayload{Nonce: "n1"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		signer  TokenSigner
		token   string
		wantErr error
	}{
		{name: "wrong key", signer: NewTokenSigner([]byte("other"), time.Minute), token: token, wantErr: ErrBadSignature},
		{name: "tampered signature", signer: signer, token: token + "x", wantErr: ErrBadSignature},
		{name: "no separator", signer: signer, token: strings.ReplaceAll(token, ".", ""), wantErr: ErrInvalidToken},
		{name: "extra separator", signer: signer, token: token + ".x", wantErr: ErrInvalidToken},
		{name: "bad encoding", signer: signer, token: "!!!." + strings.Split(token, ".")[1], wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got statePayload
			err := tt.signer.Verify(tt.token, &got)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTokenSignerExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	signer := NewTokenSigner([]byte("key"), time.Minute)
	signer.now = func() time.Time { return now }

	token, err := signer.Sign(statePayload{Nonce: "n1"})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	var got statePayload
	assert.ErrorIs(t, signer.Verify(token, &got), ErrExpired)
}
