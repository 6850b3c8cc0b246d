package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SupportedVersion is the config version prefix this build understands
const SupportedVersion = "v0.0.1"

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// ProviderKind names an identity provider adapter
type ProviderKind string

const (
	ProviderFirebase ProviderKind = "firebase"
)

// TokenStoreKind names a token storage backend
type TokenStoreKind string

const (
	TokenStoreMemory    TokenStoreKind = "memory"
	TokenStoreRedis     TokenStoreKind = "redis"
	TokenStoreFirestore TokenStoreKind = "firestore"
)

// SiteConfig describes the first-party site
type SiteConfig struct {
	BaseURL     string `json:"baseURL" env:"BASE_URL"`
	SignInPath  string `json:"signInPath" env:"SIGN_IN_PATH"`
	LandingPath string `json:"landingPath" env:"LANDING_PATH"`
	AuthPrefix  string `json:"authPrefix" env:"AUTH_PREFIX"`
}

// SessionConfig describes the backend session endpoints
type SessionConfig struct {
	Endpoint       string        `json:"endpoint" env:"ENDPOINT"`
	LogoutEndpoint string        `json:"logoutEndpoint" env:"LOGOUT_ENDPOINT"`
	Timeout        time.Duration `json:"timeout" env:"TIMEOUT"`
}

// ReadinessConfig bounds the wait for the provider client
type ReadinessConfig struct {
	MaxAttempts int           `json:"maxAttempts" env:"MAX_ATTEMPTS"`
	Interval    time.Duration `json:"interval" env:"INTERVAL"`
}

// GoogleConfig enables the federated popup sign-in
type GoogleConfig struct {
	ClientID     string `json:"clientId" env:"CLIENT_ID"`
	ClientSecret Secret `json:"clientSecret" env:"CLIENT_SECRET"`
	RedirectAddr string `json:"redirectAddr" env:"REDIRECT_ADDR"`
	Issuer       string `json:"issuer" env:"ISSUER"`
}

// Enabled reports whether a client was configured
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != ""
}

// ProviderConfig configures the identity provider adapter
type ProviderConfig struct {
	Kind               ProviderKind  `json:"kind" env:"KIND"`
	APIKey             Secret        `json:"apiKey" env:"API_KEY"`
	IdentityToolkitURL string        `json:"identityToolkitURL" env:"IDENTITY_TOOLKIT_URL"`
	SecureTokenURL     string        `json:"secureTokenURL" env:"SECURE_TOKEN_URL"`
	Google             GoogleConfig  `json:"google" envPrefix:"GOOGLE_"`
	PopupTimeout       time.Duration `json:"popupTimeout" env:"POPUP_TIMEOUT"`
}

// TokenStoreConfig selects where the last ID token is kept
type TokenStoreConfig struct {
	Kind                TokenStoreKind `json:"kind" env:"KIND"`
	RedisURL            Secret         `json:"redisURL" env:"REDIS_URL"`
	GCPProject          string         `json:"gcpProject" env:"GCP_PROJECT"`
	FirestoreDatabase   string         `json:"firestoreDatabase" env:"FIRESTORE_DATABASE"`
	FirestoreCollection string         `json:"firestoreCollection" env:"FIRESTORE_COLLECTION"`
	Freshness           time.Duration  `json:"freshness" env:"FRESHNESS"`
	CleanupInterval     time.Duration  `json:"cleanupInterval" env:"CLEANUP_INTERVAL"`
}

// TelemetryConfig enables OTLP trace export. An empty Endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string  `json:"endpoint" env:"ENDPOINT"`
	ServiceName string  `json:"serviceName" env:"SERVICE_NAME"`
	SampleRatio float64 `json:"sampleRatio" env:"SAMPLE_RATIO"`
}

// Config represents the config structure with resolved values
type Config struct {
	Version    string           `json:"version"`
	Site       SiteConfig       `json:"site" envPrefix:"SITE_"`
	Session    SessionConfig    `json:"session" envPrefix:"SESSION_"`
	Readiness  ReadinessConfig  `json:"readiness" envPrefix:"READINESS_"`
	Provider   ProviderConfig   `json:"provider" envPrefix:"PROVIDER_"`
	TokenStore TokenStoreConfig `json:"tokenStore" envPrefix:"TOKEN_STORE_"`
	Telemetry  TelemetryConfig  `json:"telemetry" envPrefix:"TELEMETRY_"`
}

// RawConfigValue is a value that is either a plain string or an env
// reference. It is only used during parsing.
type RawConfigValue struct {
	value string
}

// ParseConfigValue parses a JSON value that could be a string or reference object
func ParseConfigValue(raw json.RawMessage) (*RawConfigValue, error) {
	// Try plain string first
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return &RawConfigValue{value: str}, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("config value must be string or reference object")
	}

	if envVar, ok := ref["$env"]; ok {
		value := os.Getenv(envVar)
		if value == "" {
			return nil, fmt.Errorf("environment variable %s not set", envVar)
		}
		// Strip surrounding quotes if present (only matching pairs)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		return &RawConfigValue{value: value}, nil
	}

	return nil, fmt.Errorf("unknown reference type in config value")
}

func parseOptionalValue(raw json.RawMessage, field string) (string, error) {
	if raw == nil {
		return "", nil
	}
	parsed, err := ParseConfigValue(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", field, err)
	}
	return parsed.value, nil
}

func parseOptionalDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}
