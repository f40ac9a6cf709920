package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dgellow/auth-front/internal/redirect"
)

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

// StorageKind selects the persisted store backing the dedup ledger and
// trigger flag.
type StorageKind string

const (
	StorageKindMemory    StorageKind = "memory"
	StorageKindFirestore StorageKind = "firestore"
)

// DefaultNewUserThreshold is how recently an account must have been
// created to count as new. 24 hours means "registered today".
const DefaultNewUserThreshold = 24 * time.Hour

// Config is the full auth-front configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Provider  ProviderConfig  `json:"provider"`
	Backend   BackendConfig   `json:"backend"`
	Redirects RedirectsConfig `json:"redirects"`
	Storage   StorageConfig   `json:"storage"`

	// NewUserThreshold is parsed from a duration string ("24h").
	NewUserThreshold time.Duration `json:"-"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `json:"addr"`

	// BaseURL is the public URL the auth page is served from. Its origin
	// is the basis for every redirect safety check.
	BaseURL string `json:"baseURL"`
}

// ProviderConfig configures the identity provider.
type ProviderConfig struct {
	// URL is the provider's base URL, e.g. https://xyz.supabase.co/auth/v1.
	URL string `json:"url"`

	// AnonKey is the provider's publishable API key.
	AnonKey Secret `json:"anonKey"`
}

// BackendConfig configures the session-exchange backend.
type BackendConfig struct {
	// CallbackURL is the session-exchange endpoint; the access token is
	// POSTed here after sign-in.
	CallbackURL string `json:"callbackURL"`
}

// RedirectsConfig mirrors redirect.Config in the config file.
type RedirectsConfig struct {
	DefaultRedirect     string            `json:"defaultRedirect"`
	ThankYouURL         string            `json:"thankYouUrl"`
	RegistrationPairs   []redirect.Pair   `json:"registrationPairs,omitempty"`
	LegacyThankYouPages map[string]string `json:"legacyThankYouPages,omitempty"`
}

// RedirectConfig converts to the redirect package's config type.
func (r RedirectsConfig) RedirectConfig() redirect.Config {
	return redirect.Config{
		DefaultRedirect:     r.DefaultRedirect,
		DefaultThankYou:     r.ThankYouURL,
		RegistrationPairs:   r.RegistrationPairs,
		LegacyThankYouPages: r.LegacyThankYouPages,
	}
}

// StorageConfig selects and configures the persisted store.
type StorageConfig struct {
	Kind StorageKind `json:"kind"`

	// Firestore settings, required when Kind is "firestore".
	ProjectID  string `json:"projectId,omitempty"`
	Database   string `json:"database,omitempty"`
	Collection string `json:"collection,omitempty"`
}

// UnmarshalJSON resolves {"$env": "VAR"} references and parses the
// new-user threshold duration string.
func (c *Config) UnmarshalJSON(data []byte) error {
	type rawConfig struct {
		Server           ServerConfig    `json:"server"`
		Provider         rawProvider     `json:"provider"`
		Backend          BackendConfig   `json:"backend"`
		Redirects        RedirectsConfig `json:"redirects"`
		Storage          StorageConfig   `json:"storage"`
		NewUserThreshold string          `json:"newUserThreshold,omitempty"`
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Server = raw.Server
	c.Backend = raw.Backend
	c.Redirects = raw.Redirects
	c.Storage = raw.Storage

	anonKey, err := resolveValue(raw.Provider.AnonKey)
	if err != nil {
		return fmt.Errorf("parsing provider.anonKey: %w", err)
	}
	c.Provider = ProviderConfig{
		URL:     raw.Provider.URL,
		AnonKey: Secret(anonKey),
	}

	c.NewUserThreshold = DefaultNewUserThreshold
	if raw.NewUserThreshold != "" {
		threshold, err := time.ParseDuration(raw.NewUserThreshold)
		if err != nil {
			return fmt.Errorf("parsing newUserThreshold: %w", err)
		}
		c.NewUserThreshold = threshold
	}

	return nil
}

type rawProvider struct {
	URL     string          `json:"url"`
	AnonKey json.RawMessage `json:"anonKey"`
}

// resolveValue accepts either a plain JSON string or an environment
// reference of the form {"$env": "VAR_NAME"}.
func resolveValue(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", nil
	}

	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		return plain, nil
	}

	var ref struct {
		Env string `json:"$env"`
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		return "", fmt.Errorf("expected string or {\"$env\": \"VAR\"}: %w", err)
	}
	if ref.Env == "" {
		return "", fmt.Errorf("expected string or {\"$env\": \"VAR\"}")
	}

	value, ok := os.LookupEnv(ref.Env)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", ref.Env)
	}
	return value, nil
}
