package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dgellow/authbridge/internal/envutil"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "AUTHBRIDGE_"

// Defaults
const (
	DefaultSignInPath          = "/login"
	DefaultLandingPath         = "/"
	DefaultAuthPrefix          = "/auth/"
	DefaultSessionEndpoint     = "/auth/session"
	DefaultLogoutEndpoint      = "/auth/logout"
	DefaultSessionTimeout      = 10 * time.Second
	DefaultMaxAttempts         = 20
	DefaultReadinessInterval   = 250 * time.Millisecond
	DefaultFreshness           = time.Minute
	DefaultCleanupInterval     = 10 * time.Minute
	DefaultPopupTimeout        = 2 * time.Minute
	DefaultFirestoreCollection = "authbridge_tokens"
	DefaultServiceName         = "authbridge"
)

// Load builds the config from an optional JSON file, a .env file and
// AUTHBRIDGE_* environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := parse(data, &config); err != nil {
			return Config{}, err
		}
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}

	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	log.LogDebugWithFields("config", "Loaded configuration", map[string]any{
		"baseURL":    config.Site.BaseURL,
		"provider":   config.Provider.Kind,
		"tokenStore": config.TokenStore.Kind,
		"federated":  config.Provider.Google.Enabled(),
	})
	return config, nil
}

func parse(data []byte, config *Config) error {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, SupportedVersion) {
		return fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env references immediately
	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// validateRawConfig rejects secrets written inline in the file
func validateRawConfig(rawConfig map[string]any) error {
	provider, ok := rawConfig["provider"].(map[string]any)
	if !ok {
		return nil
	}

	secrets := map[string]any{"apiKey": provider["apiKey"]}
	if google, ok := provider["google"].(map[string]any); ok {
		secrets["google.clientSecret"] = google["clientSecret"]
	}

	for name, value := range secrets {
		if value == nil {
			continue
		}
		if _, isString := value.(string); isString {
			return fmt.Errorf("provider.%s must use environment variable reference for security", name)
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("provider.%s must use {\"$env\": \"VAR_NAME\"} format", name)
			}
		}
	}
	return nil
}

func applyDefaults(config *Config) {
	if config.Site.SignInPath == "" {
		config.Site.SignInPath = DefaultSignInPath
	}
	if config.Site.LandingPath == "" {
		config.Site.LandingPath = DefaultLandingPath
	}
	if config.Site.AuthPrefix == "" {
		config.Site.AuthPrefix = DefaultAuthPrefix
	}
	if config.Session.Endpoint == "" {
		config.Session.Endpoint = DefaultSessionEndpoint
	}
	if config.Session.LogoutEndpoint == "" {
		config.Session.LogoutEndpoint = DefaultLogoutEndpoint
	}
	if config.Session.Timeout == 0 {
		config.Session.Timeout = DefaultSessionTimeout
	}
	if config.Readiness.MaxAttempts == 0 {
		config.Readiness.MaxAttempts = DefaultMaxAttempts
	}
	if config.Readiness.Interval == 0 {
		config.Readiness.Interval = DefaultReadinessInterval
	}
	if config.Provider.Kind == "" {
		config.Provider.Kind = ProviderFirebase
	}
	if config.Provider.PopupTimeout == 0 {
		config.Provider.PopupTimeout = DefaultPopupTimeout
	}
	if config.TokenStore.Kind == "" {
		config.TokenStore.Kind = TokenStoreMemory
	}
	if config.Telemetry.ServiceName == "" {
		config.Telemetry.ServiceName = DefaultServiceName
	}
	// zero would sample nothing, so it means unset
	if config.Telemetry.SampleRatio == 0 {
		config.Telemetry.SampleRatio = 1
	}
	if config.TokenStore.Freshness == 0 {
		config.TokenStore.Freshness = DefaultFreshness
	}
	if config.TokenStore.CleanupInterval == 0 {
		config.TokenStore.CleanupInterval = DefaultCleanupInterval
	}
	if config.TokenStore.Kind == TokenStoreFirestore && config.TokenStore.FirestoreCollection == "" {
		config.TokenStore.FirestoreCollection = DefaultFirestoreCollection
	}
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Site.BaseURL == "" {
		return fmt.Errorf("site.baseURL is required")
	}
	base, err := url.Parse(config.Site.BaseURL)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return fmt.Errorf("site.baseURL must be an absolute http(s) URL, got %q", config.Site.BaseURL)
	}
	if base.Scheme == "http" && !envutil.IsDev() {
		log.LogWarn("site.baseURL uses plain http; session cookies will not be marked Secure")
	}

	for name, path := range map[string]string{
		"site.signInPath":        config.Site.SignInPath,
		"site.landingPath":       config.Site.LandingPath,
		"site.authPrefix":        config.Site.AuthPrefix,
		"session.endpoint":       config.Session.Endpoint,
		"session.logoutEndpoint": config.Session.LogoutEndpoint,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s must be an absolute path, got %q", name, path)
		}
	}
	if config.Site.SignInPath == config.Site.LandingPath {
		return fmt.Errorf("site.signInPath and site.landingPath must differ")
	}

	if config.Session.Timeout < 0 {
		return fmt.Errorf("session.timeout cannot be negative")
	}
	if config.Readiness.MaxAttempts < 0 {
		return fmt.Errorf("readiness.maxAttempts cannot be negative")
	}
	if config.Readiness.Interval < 0 {
		return fmt.Errorf("readiness.interval cannot be negative")
	}

	if err := validateProviderConfig(&config.Provider); err != nil {
		return fmt.Errorf("provider config: %w", err)
	}
	if err := validateTokenStoreConfig(&config.TokenStore); err != nil {
		return fmt.Errorf("tokenStore config: %w", err)
	}
	if err := validateTelemetryConfig(&config.Telemetry); err != nil {
		return fmt.Errorf("telemetry config: %w", err)
	}
	return nil
}

func validateTelemetryConfig(t *TelemetryConfig) error {
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return fmt.Errorf("sampleRatio must be between 0 and 1, got %v", t.SampleRatio)
	}
	if t.Endpoint == "" {
		return nil
	}
	u, err := url.Parse(t.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("endpoint must be an absolute http(s) URL, got %q", t.Endpoint)
	}
	return nil
}

func validateProviderConfig(p *ProviderConfig) error {
	if p.Kind != ProviderFirebase {
		return fmt.Errorf("unknown kind %q - only %q is supported", p.Kind, ProviderFirebase)
	}
	if p.APIKey == "" {
		return fmt.Errorf("apiKey is required")
	}
	if p.PopupTimeout < 0 {
		return fmt.Errorf("popupTimeout cannot be negative")
	}
	if p.Google.Enabled() && p.Google.ClientSecret == "" {
		return fmt.Errorf("google.clientSecret is required when google.clientId is set")
	}
	return nil
}

func validateTokenStoreConfig(t *TokenStoreConfig) error {
	switch t.Kind {
	case TokenStoreMemory:
	case TokenStoreRedis:
		if t.RedisURL == "" {
			return fmt.Errorf("redisURL is required when using redis storage")
		}
	case TokenStoreFirestore:
		if t.GCPProject == "" {
			return fmt.Errorf("gcpProject is required when using firestore storage")
		}
	default:
		return fmt.Errorf("unknown kind %q - supported: memory, redis, firestore", t.Kind)
	}
	if t.Freshness < 0 {
		return fmt.Errorf("freshness cannot be negative")
	}
	if t.CleanupInterval < 0 {
		return fmt.Errorf("cleanupInterval cannot be negative")
	}
	return nil
}
