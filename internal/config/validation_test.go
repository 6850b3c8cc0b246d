package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFile(t *testing.T) {
	tests := []struct {
		name           string
		content        string
		wantErrors     []string
		wantWarnings   []string
		wantErrorPaths []string
	}{
		{
			name: "valid",
			content: `{
				"version": "v0.0.1",
				"site": {"baseURL": "https://blog.example.com"},
				"provider": {"apiKey": {"$env": "FIREBASE_API_KEY"}}
			}`,
		},
		{
			name:       "invalid_json",
			content:    `{"version": `,
			wantErrors: []string{"invalid JSON"},
		},
		{
			name: "missing_sections",
			content: `{
				"version": "v0.0.1"
			}`,
			wantErrorPaths: []string{"site", "provider"},
		},
		{
			name: "bad_version",
			content: `{
				"version": "v2",
				"site": {"baseURL": "https://blog.example.com"},
				"provider": {"apiKey": {"$env": "FIREBASE_API_KEY"}}
			}`,
			wantErrors: []string{"unsupported version 'v2'"},
		},
		{
			name: "telemetry_without_scheme",
			content: `{
				"version": "v0.0.1",
				"site": {"baseURL": "https://blog.example.com"},
				"provider": {"apiKey": {"$env": "FIREBASE_API_KEY"}},
				"telemetry": {"endpoint": "collector:4318", "sampleRatio": 1.5}
			}`,
			wantErrorPaths: []string{"telemetry.endpoint", "telemetry.sampleRatio"},
		},
		{
			name: "inline_api_key",
			content: `{
				"version": "v0.0.1",
				"site": {"baseURL": "https://blog.example.com"},
				"provider": {"apiKey": "AIza-inline"}
			}`,
			wantErrors: []string{`{"$env": "API_KEY"}`},
		},
		{
			name: "bash_style_reference",
			content: `{
				"version": "v0.0.1",
				"site": {"baseURL": "${BASE_URL}"},
				"provider": {"apiKey": {"$env": "FIREBASE_API_KEY"}}
			}`,
			wantWarnings: []string{"found bash-style syntax '${BASE_URL}'"},
		},
		{
			name: "google_incomplete",
			content: `{
				"version": "v0.0.1",
				"site": {"baseURL": "https://blog.example.com"},
				"provider": {
					"apiKey": {"$env": "FIREBASE_API_KEY"},
					"google": {"clientId": "client"}
				}
			}`,
			wantErrorPaths: []string{"provider.google.clientSecret"},
		},
		{
			name: "relative_paths",
			content: `{
				"version": "v0.0.1",
				"site": {"baseURL": "https://blog.example.com", "signInPath": "login"},
				"provider": {"apiKey": {"$env": "FIREBASE_API_KEY"}}
			}`,
			wantErrorPaths: []string{"site.signInPath"},
		},
		{
			name: "redis_without_url",
			content: `{
				"version": "v0.0.1",
				"site": {"baseURL": "https://blog.example.com"},
				"provider": {"apiKey": {"$env": "FIREBASE_API_KEY"}},
				"tokenStore": {"kind": "redis"}
			}`,
			wantErrorPaths: []string{"tokenStore.redisURL"},
		},
		{
			name: "durations",
			content: `{
				"version": "v0.0.1",
				"site": {"baseURL": "https://blog.example.com"},
				"session": {"timeout": "forever"},
				"provider": {"apiKey": {"$env": "FIREBASE_API_KEY"}},
				"tokenStore": {"freshness": "1m", "cleanupInterval": "10m"}
			}`,
			wantErrorPaths: []string{"session.timeout"},
			wantWarnings:   []string{"cleanupInterval (10m0s) is longer than freshness (1m0s)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ValidateFile(writeConfig(t, tt.content))
			require.NoError(t, err)

			var messages, paths, warnings []string
			for _, e := range result.Errors {
				messages = append(messages, e.Message)
				paths = append(paths, e.Path)
			}
			for _, w := range result.Warnings {
				warnings = append(warnings, w.Message)
			}

			if len(tt.wantErrors) == 0 && len(tt.wantErrorPaths) == 0 {
				assert.True(t, result.IsValid(), "unexpected errors: %v", messages)
			}
			for _, want := range tt.wantErrors {
				assert.True(t, containsSubstring(messages, want), "missing error %q in %v", want, messages)
			}
			for _, want := range tt.wantErrorPaths {
				assert.Contains(t, paths, want)
			}
			for _, want := range tt.wantWarnings {
				assert.True(t, containsSubstring(warnings, want), "missing warning %q in %v", want, warnings)
			}
		})
	}
}

func TestValidateFile_MissingFile(t *testing.T) {
	_, err := ValidateFile("/nonexistent/config.json")
	require.Error(t, err)
}

func TestEnvNameHint(t *testing.T) {
	assert.Equal(t, "API_KEY", envNameHint("apiKey"))
	assert.Equal(t, "CLIENT_SECRET", envNameHint("clientSecret"))
}

func containsSubstring(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
