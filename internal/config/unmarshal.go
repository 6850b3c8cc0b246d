package config

import (
	"encoding/json"

	"github.com/dgellow/authbridge/internal/log"
)

// UnmarshalJSON parses durations written as strings
func (s *SessionConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Endpoint       string `json:"endpoint"`
		LogoutEndpoint string `json:"logoutEndpoint"`
		Timeout        string `json:"timeout"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	timeout, err := parseOptionalDuration(raw.Timeout, "timeout")
	if err != nil {
		return err
	}
	*s = SessionConfig{Endpoint: raw.Endpoint, LogoutEndpoint: raw.LogoutEndpoint, Timeout: timeout}
	return nil
}

// UnmarshalJSON parses durations written as strings
func (r *ReadinessConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		MaxAttempts int    `json:"maxAttempts"`
		Interval    string `json:"interval"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	interval, err := parseOptionalDuration(raw.Interval, "interval")
	if err != nil {
		return err
	}
	*r = ReadinessConfig{MaxAttempts: raw.MaxAttempts, Interval: interval}
	return nil
}

// UnmarshalJSON resolves the client secret reference
func (g *GoogleConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		ClientID     json.RawMessage `json:"clientId"`
		ClientSecret json.RawMessage `json:"clientSecret"`
		RedirectAddr string          `json:"redirectAddr"`
		Issuer       string          `json:"issuer"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	clientID, err := parseOptionalValue(raw.ClientID, "clientId")
	if err != nil {
		return err
	}
	secret, err := parseOptionalValue(raw.ClientSecret, "clientSecret")
	if err != nil {
		return err
	}

	*g = GoogleConfig{
		ClientID:     clientID,
		ClientSecret: Secret(secret),
		RedirectAddr: raw.RedirectAddr,
		Issuer:       raw.Issuer,
	}
	return nil
}

// UnmarshalJSON resolves the API key reference
func (p *ProviderConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind               ProviderKind    `json:"kind"`
		APIKey             json.RawMessage `json:"apiKey"`
		IdentityToolkitURL string          `json:"identityToolkitURL"`
		SecureTokenURL     string          `json:"secureTokenURL"`
		Google             GoogleConfig    `json:"google"`
		PopupTimeout       string          `json:"popupTimeout"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	apiKey, err := parseOptionalValue(raw.APIKey, "apiKey")
	if err != nil {
		return err
	}
	popupTimeout, err := parseOptionalDuration(raw.PopupTimeout, "popupTimeout")
	if err != nil {
		return err
	}

	log.LogTraceWithFields("config", "Parsed provider config", map[string]any{
		"kind":      raw.Kind,
		"federated": raw.Google.Enabled(),
	})

	*p = ProviderConfig{
		Kind:               raw.Kind,
		APIKey:             Secret(apiKey),
		IdentityToolkitURL: raw.IdentityToolkitURL,
		SecureTokenURL:     raw.SecureTokenURL,
		Google:             raw.Google,
		PopupTimeout:       popupTimeout,
	}
	return nil
}

// UnmarshalJSON resolves the Redis URL reference, which may carry a password
func (t *TokenStoreConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind                TokenStoreKind  `json:"kind"`
		RedisURL            json.RawMessage `json:"redisURL"`
		GCPProject          json.RawMessage `json:"gcpProject"`
		FirestoreDatabase   string          `json:"firestoreDatabase"`
		FirestoreCollection string          `json:"firestoreCollection"`
		Freshness           string          `json:"freshness"`
		CleanupInterval     string          `json:"cleanupInterval"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	redisURL, err := parseOptionalValue(raw.RedisURL, "redisURL")
	if err != nil {
		return err
	}
	project, err := parseOptionalValue(raw.GCPProject, "gcpProject")
	if err != nil {
		return err
	}
	freshness, err := parseOptionalDuration(raw.Freshness, "freshness")
	if err != nil {
		return err
	}
	cleanup, err := parseOptionalDuration(raw.CleanupInterval, "cleanupInterval")
	if err != nil {
		return err
	}

	*t = TokenStoreConfig{
		Kind:                raw.Kind,
		RedisURL:            Secret(redisURL),
		GCPProject:          project,
		FirestoreDatabase:   raw.FirestoreDatabase,
		FirestoreCollection: raw.FirestoreCollection,
		Freshness:           freshness,
		CleanupInterval:     cleanup,
	}
	return nil
}
