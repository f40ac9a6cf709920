package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds runtime knobs read from the process environment, separate from
// the config file the host environment provisions.
type Env struct {
	// Addr overrides server.addr from the config file when set.
	Addr string `env:"AUTH_FRONT_ADDR"`

	// ConfigPollAttempts bounds how long startup waits for the config
	// file to appear.
	ConfigPollAttempts int `env:"AUTH_FRONT_CONFIG_POLL_ATTEMPTS" envDefault:"20"`

	// ConfigPollInterval is the wait between poll attempts.
	ConfigPollInterval string `env:"AUTH_FRONT_CONFIG_POLL_INTERVAL" envDefault:"100ms"`
}

// ParseEnv reads runtime options from the environment.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parsing environment: %w", err)
	}
	return e, nil
}
