package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/dgellow/auth-front/internal/log"
)

// ErrConfigurationMissing is returned when the configuration never became
// available within the bounded polling window. Fatal for this run; callers
// must surface it and stop, not retry silently.
var ErrConfigurationMissing = errors.New("configuration missing")

// Load loads and validates the config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Wait polls for the config file until it loads cleanly, up to attempts
// tries spaced interval apart. The host environment writes the file out of
// band, so absence is expected briefly at startup; absence after the full
// window is ErrConfigurationMissing.
func Wait(ctx context.Context, path string, attempts int, interval time.Duration) (Config, error) {
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		config, err := Load(path)
		if err == nil {
			if attempt > 1 {
				log.LogInfoWithFields("config", "Configuration arrived", map[string]any{
					"attempt": attempt,
				})
			}
			return config, nil
		}
		lastErr = err

		log.LogDebugWithFields("config", "Configuration not ready", map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		case <-time.After(interval):
		}
	}

	return Config{}, fmt.Errorf("%w after %d attempts: %v", ErrConfigurationMissing, attempts, lastErr)
}

// Validate checks the resolved configuration.
func Validate(config *Config) error {
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if config.Server.BaseURL == "" {
		return fmt.Errorf("server.baseURL is required")
	}
	baseURL, err := url.Parse(config.Server.BaseURL)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return fmt.Errorf("server.baseURL must be an absolute URL")
	}

	if config.Provider.URL == "" {
		return fmt.Errorf("provider.url is required")
	}
	if config.Provider.AnonKey == "" {
		return fmt.Errorf("provider.anonKey is required")
	}

	if config.Backend.CallbackURL == "" {
		return fmt.Errorf("backend.callbackURL is required")
	}

	if config.Redirects.DefaultRedirect == "" {
		return fmt.Errorf("redirects.defaultRedirect is required")
	}
	if config.Redirects.ThankYouURL == "" {
		return fmt.Errorf("redirects.thankYouUrl is required")
	}
	for i, pair := range config.Redirects.RegistrationPairs {
		if pair.RegistrationURL == "" || pair.ThankYouURL == "" {
			return fmt.Errorf("redirects.registrationPairs[%d]: both registrationUrl and thankYouUrl are required", i)
		}
	}

	switch config.Storage.Kind {
	case StorageKindMemory, "":
	case StorageKindFirestore:
		if config.Storage.ProjectID == "" {
			return fmt.Errorf("storage.projectId is required for firestore storage")
		}
		if config.Storage.Collection == "" {
			return fmt.Errorf("storage.collection is required for firestore storage")
		}
	default:
		return fmt.Errorf("unsupported storage.kind: %s", config.Storage.Kind)
	}

	if config.NewUserThreshold <= 0 {
		return fmt.Errorf("newUserThreshold must be positive")
	}

	return nil
}
