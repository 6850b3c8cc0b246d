package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigValue(t *testing.T) {
	t.Setenv("TEST_PLAIN", "plain-value")
	t.Setenv("TEST_QUOTED", `"quoted-value"`)
	t.Setenv("TEST_SINGLE_QUOTED", `'single'`)
	t.Setenv("TEST_HALF_QUOTED", `"half`)

	tests := []struct {
		name        string
		raw         string
		want        string
		expectError string
	}{
		{name: "plain_string", raw: `"literal"`, want: "literal"},
		{name: "env_reference", raw: `{"$env": "TEST_PLAIN"}`, want: "plain-value"},
		{name: "strips_double_quotes", raw: `{"$env": "TEST_QUOTED"}`, want: "quoted-value"},
		{name: "strips_single_quotes", raw: `{"$env": "TEST_SINGLE_QUOTED"}`, want: "single"},
		{name: "keeps_unmatched_quote", raw: `{"$env": "TEST_HALF_QUOTED"}`, want: `"half`},
		{name: "unset_env", raw: `{"$env": "TEST_NOT_THERE"}`, expectError: "environment variable TEST_NOT_THERE not set"},
		{name: "unknown_reference", raw: `{"$file": "/etc/key"}`, expectError: "unknown reference type"},
		{name: "wrong_type", raw: `42`, expectError: "must be string or reference object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigValue(json.RawMessage(tt.raw))
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.value)
		})
	}
}

func TestProviderConfig_UnmarshalJSON(t *testing.T) {
	t.Setenv("TEST_API_KEY", "AIza-test")
	t.Setenv("TEST_CLIENT_SECRET", "shh")

	var p ProviderConfig
	err := json.Unmarshal([]byte(`{
		"kind": "firebase",
		"apiKey": {"$env": "TEST_API_KEY"},
		"identityToolkitURL": "http://localhost:9099/identitytoolkit.googleapis.com/",
		"google": {
			"clientId": "client",
			"clientSecret": {"$env": "TEST_CLIENT_SECRET"},
			"redirectAddr": "127.0.0.1:8765"
		},
		"popupTimeout": "45s"
	}`), &p)
	require.NoError(t, err)

	assert.Equal(t, ProviderFirebase, p.Kind)
	assert.Equal(t, Secret("AIza-test"), p.APIKey)
	assert.Equal(t, "http://localhost:9099/identitytoolkit.googleapis.com/", p.IdentityToolkitURL)
	assert.Equal(t, "client", p.Google.ClientID)
	assert.Equal(t, Secret("shh"), p.Google.ClientSecret)
	assert.Equal(t, "127.0.0.1:8765", p.Google.RedirectAddr)
	assert.Equal(t, 45*time.Second, p.PopupTimeout)
}

func TestTokenStoreConfig_UnmarshalJSON(t *testing.T) {
	t.Setenv("TEST_PROJECT", "my-project")

	var s TokenStoreConfig
	err := json.Unmarshal([]byte(`{
		"kind": "firestore",
		"gcpProject": {"$env": "TEST_PROJECT"},
		"firestoreDatabase": "auth",
		"freshness": "2m",
		"cleanupInterval": "1h"
	}`), &s)
	require.NoError(t, err)

	assert.Equal(t, TokenStoreFirestore, s.Kind)
	assert.Equal(t, "my-project", s.GCPProject)
	assert.Equal(t, "auth", s.FirestoreDatabase)
	assert.Equal(t, 2*time.Minute, s.Freshness)
	assert.Equal(t, time.Hour, s.CleanupInterval)
}

func TestDurationFields_RejectGarbage(t *testing.T) {
	var r ReadinessConfig
	err := json.Unmarshal([]byte(`{"interval": "fast"}`), &r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing interval")

	var s SessionConfig
	require.NoError(t, json.Unmarshal([]byte(`{"endpoint": "/auth/session"}`), &s))
	assert.Equal(t, time.Duration(0), s.Timeout)
}
