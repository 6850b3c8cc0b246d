package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

var bashStyleRegex = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result, nil
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": %q", SupportedVersion)
	} else if !strings.HasPrefix(version, SupportedVersion) {
		result.addError("version", "unsupported version '%s' - use '%s' or '%s-<variant>'", version, SupportedVersion, SupportedVersion)
	}

	validateSiteStructure(rawConfig, result)
	validateProviderStructure(rawConfig, result)
	validateTokenStoreStructure(rawConfig, result)
	validateTelemetryStructure(rawConfig, result)
	validateDurations(rawConfig, result)

	return result, nil
}

func validateSiteStructure(rawConfig map[string]any, result *ValidationResult) {
	site, ok := rawConfig["site"].(map[string]any)
	if !ok {
		result.addError("site", "site field is required and must be an object")
		return
	}
	if _, ok := site["baseURL"]; !ok {
		result.addError("site.baseURL", "baseURL is required. Example: \"https://blog.example.com\"")
	}
	for _, field := range []string{"signInPath", "landingPath", "authPrefix"} {
		if v, ok := site[field].(string); ok && !strings.HasPrefix(v, "/") {
			result.addError("site."+field, "%s must start with '/', got %q", field, v)
		}
	}
}

func validateProviderStructure(rawConfig map[string]any, result *ValidationResult) {
	provider, ok := rawConfig["provider"].(map[string]any)
	if !ok {
		result.addError("provider", "provider field is required and must be an object")
		return
	}

	if kind, ok := provider["kind"].(string); ok && kind != string(ProviderFirebase) {
		result.addError("provider.kind", "unknown provider '%s' - supported providers: firebase", kind)
	}

	if apiKey, ok := provider["apiKey"]; ok {
		if err := validateEnvVarReference(apiKey, "apiKey", "provider.apiKey"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	} else {
		result.addError("provider.apiKey", "apiKey is required. Hint: {\"$env\": \"FIREBASE_API_KEY\"}")
	}

	google, ok := provider["google"].(map[string]any)
	if !ok {
		return
	}
	if _, ok := google["clientId"]; !ok {
		result.addError("provider.google.clientId", "clientId is required for Google sign-in")
	}
	if secret, ok := google["clientSecret"]; ok {
		if err := validateEnvVarReference(secret, "clientSecret", "provider.google.clientSecret"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	} else {
		result.addError("provider.google.clientSecret", "clientSecret is required for Google sign-in")
	}
}

func validateTokenStoreStructure(rawConfig map[string]any, result *ValidationResult) {
	store, ok := rawConfig["tokenStore"].(map[string]any)
	if !ok {
		return
	}

	kind, _ := store["kind"].(string)
	switch kind {
	case "", string(TokenStoreMemory):
	case string(TokenStoreRedis):
		if _, ok := store["redisURL"]; !ok {
			result.addError("tokenStore.redisURL", "redisURL is required for redis storage. Example: {\"$env\": \"REDIS_URL\"}")
		}
	case string(TokenStoreFirestore):
		if _, ok := store["gcpProject"]; !ok {
			result.addError("tokenStore.gcpProject", "gcpProject is required for firestore storage")
		}
	default:
		result.addError("tokenStore.kind", "unknown storage '%s' - supported: memory, redis, firestore", kind)
	}

	if kind == string(TokenStoreMemory) || kind == "" {
		if _, ok := store["redisURL"]; ok {
			result.addWarning("tokenStore.redisURL", "redisURL is ignored by memory storage")
		}
	}
}

func validateTelemetryStructure(rawConfig map[string]any, result *ValidationResult) {
	telemetry, ok := rawConfig["telemetry"].(map[string]any)
	if !ok {
		return
	}
	if endpoint, ok := telemetry["endpoint"].(string); ok && endpoint != "" &&
		!strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		result.addError("telemetry.endpoint", "endpoint must be an http(s) URL. Example: \"http://localhost:4318/v1/traces\"")
	}
	if ratio, ok := telemetry["sampleRatio"].(float64); ok && (ratio < 0 || ratio > 1) {
		result.addError("telemetry.sampleRatio", "sampleRatio must be between 0 and 1")
	}
}

// validateDurations checks that duration strings parse and are not negative
func validateDurations(rawConfig map[string]any, result *ValidationResult) {
	fields := []struct{ section, name string }{
		{"session", "timeout"},
		{"readiness", "interval"},
		{"provider", "popupTimeout"},
		{"tokenStore", "freshness"},
		{"tokenStore", "cleanupInterval"},
	}

	parsed := make(map[string]time.Duration)
	for _, f := range fields {
		section, ok := rawConfig[f.section].(map[string]any)
		if !ok {
			continue
		}
		s, ok := section[f.name].(string)
		if !ok {
			continue
		}
		path := f.section + "." + f.name
		d, err := time.ParseDuration(s)
		if err != nil {
			result.addError(path, "invalid duration %q. Example: \"250ms\", \"10s\", \"5m\"", s)
			continue
		}
		if d < 0 {
			result.addError(path, "%s cannot be negative", f.name)
		}
		parsed[path] = d
	}

	if readiness, ok := rawConfig["readiness"].(map[string]any); ok {
		if n, ok := readiness["maxAttempts"].(float64); ok && n < 1 {
			result.addWarning("readiness.maxAttempts", "maxAttempts below 1 is treated as a single attempt")
		}
	}

	freshness, hasFreshness := parsed["tokenStore.freshness"]
	cleanup, hasCleanup := parsed["tokenStore.cleanupInterval"]
	if hasFreshness && hasCleanup && cleanup > freshness {
		result.addWarning("tokenStore",
			"cleanupInterval (%s) is longer than freshness (%s). Stale tokens will stay stored until cleanup runs.",
			cleanup, freshness)
	}
}

// validateEnvVarReference ensures a secret field is an env reference
func validateEnvVarReference(value any, name, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference for security. Hint: {\"$env\": \"%s\"}", name, envNameHint(name)),
		}
	case map[string]any:
		if _, ok := v["$env"]; !ok {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"VAR_NAME\"} format", name),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference, got %T", name, value),
		}
	}
}

func envNameHint(name string) string {
	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead. Hint: JSON syntax prevents accidental shell expansion in scripts/CI", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
