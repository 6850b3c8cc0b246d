package idp

import (
	"fmt"
	"net/http"

	"github.com/dgellow/authbridge/internal/config"
)

// NewProvider creates the provider adapter named by cfg.Kind. The Google
// popup is attached when a client ID is configured; opener shows its
// authorization URL.
func NewProvider(cfg config.ProviderConfig, httpClient *http.Client, opener Opener) (*FirebaseProvider, error) {
	switch cfg.Kind {
	case config.ProviderFirebase, "":
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Kind)
	}

	var popup *Popup
	if cfg.Google.Enabled() {
		var err error
		popup, err = NewPopup(PopupConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: string(cfg.Google.ClientSecret),
			RedirectAddr: cfg.Google.RedirectAddr,
			Issuer:       cfg.Google.Issuer,
			Timeout:      cfg.PopupTimeout,
			Opener:       opener,
			HTTPClient:   httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("google sign-in: %w", err)
		}
	}

	return NewFirebaseProvider(FirebaseConfig{
		APIKey:             string(cfg.APIKey),
		IdentityToolkitURL: cfg.IdentityToolkitURL,
		SecureTokenURL:     cfg.SecureTokenURL,
		HTTPClient:         httpClient,
		Popup:              popup,
	})
}
