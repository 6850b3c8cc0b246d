package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgellow/authbridge/internal"
	"github.com/dgellow/authbridge/internal/bridge"
	"github.com/dgellow/authbridge/internal/config"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/dgellow/authbridge/internal/signin"
)

var BuildVersion = "dev"

// passwordEnv holds the password for -signin password and -signin register
const passwordEnv = "AUTHBRIDGE_PASSWORD"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"version": config.SupportedVersion,
		"site": map[string]any{
			"baseURL":     "https://blog.yourcompany.com",
			"signInPath":  config.DefaultSignInPath,
			"landingPath": config.DefaultLandingPath,
			"authPrefix":  config.DefaultAuthPrefix,
		},
		"session": map[string]any{
			"endpoint":       config.DefaultSessionEndpoint,
			"logoutEndpoint": config.DefaultLogoutEndpoint,
			"timeout":        config.DefaultSessionTimeout.String(),
		},
		"readiness": map[string]any{
			"maxAttempts": config.DefaultMaxAttempts,
			"interval":    config.DefaultReadinessInterval.String(),
		},
		"provider": map[string]any{
			"kind":   string(config.ProviderFirebase),
			"apiKey": map[string]string{"$env": "FIREBASE_API_KEY"},
			"google": map[string]any{
				"clientId":     map[string]string{"$env": "GOOGLE_CLIENT_ID"},
				"clientSecret": map[string]string{"$env": "GOOGLE_CLIENT_SECRET"},
			},
			"popupTimeout": config.DefaultPopupTimeout.String(),
		},
		"tokenStore": map[string]any{
			"kind":      string(config.TokenStoreMemory),
			"freshness": config.DefaultFreshness.String(),
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	printIssues := func(title string, issues []config.ValidationError) {
		if len(issues) == 0 {
			return
		}
		fmt.Printf("\n%s (%d):\n", title, len(issues))
		for _, issue := range issues {
			if issue.Path != "" {
				fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
			} else {
				fmt.Printf("  - %s\n", issue.Message)
			}
		}
	}
	printIssues("Errors", result.Errors)
	printIssues("Warnings", result.Warnings)

	fmt.Println()
	switch {
	case len(result.Errors) == 0 && len(result.Warnings) == 0:
		fmt.Println("Result: PASS")
	case len(result.Errors) == 0:
		fmt.Println("Result: FAIL (warnings present)")
	default:
		fmt.Println("Result: FAIL")
	}

	if len(result.Errors) > 0 || len(result.Warnings) > 0 {
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	}
	return nil
}

// stderrNotifier shows state changes and failures the way a page would show
// a banner
type stderrNotifier struct{}

func (stderrNotifier) StateChanged(s bridge.State) {
	fmt.Fprintf(os.Stderr, "auth state: %s\n", s)
}

func (stderrNotifier) Failed(f bridge.Failure) {
	fmt.Fprintf(os.Stderr, "error: %s\n", f.Message)
}

type session struct {
	path    string
	method  string
	email   string
	signOut bool
}

func (s session) run(ctx context.Context, ab *internal.AuthBridge) error {
	if s.path != "" {
		if err := ab.Page().Navigate(ctx, s.path); err != nil {
			log.LogWarnWithFields("main", "Page load failed", map[string]any{"path": s.path, "error": err.Error()})
		}
		if _, err := ab.Reconciler().CheckNavigation(ctx); err != nil {
			return err
		}
	}

	if s.method != "" {
		_, err := ab.SignIn().SignIn(ctx, signin.Request{
			Method:   signin.Method(s.method),
			Email:    s.email,
			Password: os.Getenv(passwordEnv),
		})
		if err != nil {
			if failure, ok := ab.Status().LastFailure(); ok {
				fmt.Fprintf(os.Stderr, "Sign-in failed: %s\n", failure.Message)
			}
			return err
		}
	}

	if s.signOut {
		if _, err := ab.SignIn().SignOut(ctx); err != nil {
			return err
		}
	}

	fmt.Printf("State:    %s\n", ab.Status().State())
	fmt.Printf("Location: %s\n", ab.Page().Current())
	return nil
}

func main() {
	conf := flag.String("config", "", "path to config file (AUTHBRIDGE_* environment variables override it)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	path := flag.String("path", "/", "page to open once the auth state has settled")
	method := flag.String("signin", "", "sign in with 'password', 'google' or 'register'")
	email := flag.String("email", "", "email for -signin password or register; the password is read from "+passwordEnv)
	signOut := flag.Bool("signout", false, "sign out before exiting")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	switch signin.Method(*method) {
	case "", signin.MethodPassword, signin.MethodGoogle, signin.MethodRegister:
	default:
		fmt.Fprintf(os.Stderr, "Error: -signin must be 'password', 'google' or 'register'\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting authbridge", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ab, err := internal.NewAuthBridge(ctx, cfg, internal.Options{Notifier: stderrNotifier{}, Version: BuildVersion})
	if err != nil {
		log.LogError("Failed to create auth bridge: %v", err)
		os.Exit(1)
	}

	s := session{path: *path, method: *method, email: *email, signOut: *signOut}
	err = ab.Run(ctx, func(ctx context.Context) error {
		return s.run(ctx, ab)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.LogInfo("Interrupted")
		} else {
			log.LogError("Auth bridge failed: %v", err)
		}
		os.Exit(1)
	}
}
