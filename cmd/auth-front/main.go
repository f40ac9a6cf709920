package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dgellow/auth-front/internal"
	"github.com/dgellow/auth-front/internal/config"
	"github.com/dgellow/auth-front/internal/log"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"server": map[string]any{
			"addr":    ":8080",
			"baseURL": "https://www.yourcompany.com/login/",
		},
		"provider": map[string]any{
			"url":     "https://yourproject.supabase.co/auth/v1",
			"anonKey": map[string]string{"$env": "SUPABASE_ANON_KEY"},
		},
		"backend": map[string]any{
			"callbackURL": "https://api.yourcompany.com/auth/callback",
		},
		"redirects": map[string]any{
			"defaultRedirect": "/",
			"thankYouUrl":     "/registr/",
			"registrationPairs": []any{
				map[string]string{
					"registrationUrl": "/signup/",
					"thankYouUrl":     "/signup/thank-you/",
				},
			},
		},
		"storage": map[string]any{
			"kind": "memory",
		},
		"newUserThreshold": "24h",
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
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	return config.Validate(&cfg)
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
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

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	if *validate {
		if err := validateConfig(*conf); err != nil {
			fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Result: PASS")
		return
	}

	envOpts, err := config.ParseEnv()
	if err != nil {
		log.LogError("Failed to parse environment: %v", err)
		os.Exit(1)
	}

	pollInterval, err := time.ParseDuration(envOpts.ConfigPollInterval)
	if err != nil {
		log.LogError("Invalid AUTH_FRONT_CONFIG_POLL_INTERVAL: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Deploys write the config file next to the binary shortly after
	// start; wait for it within the configured bound instead of failing
	// the first probe.
	cfg, err := config.Wait(ctx, *conf, envOpts.ConfigPollAttempts, pollInterval)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	if envOpts.Addr != "" {
		cfg.Server.Addr = envOpts.Addr
	}

	log.LogInfoWithFields("main", "Starting auth-front", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	authFront, err := internal.NewAuthFront(ctx, cfg)
	if err != nil {
		log.LogError("Failed to create application: %v", err)
		os.Exit(1)
	}

	err = authFront.Run()
	if err != nil {
		log.LogError("Failed to start server: %v", err)
		os.Exit(1)
	}
}
