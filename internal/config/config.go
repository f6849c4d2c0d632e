/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package config holds the bridge settings that come from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/microsoft/debugbridge/internal/dap"
)

// Name of the optional env file read from the working directory.
const DefaultEnvFile = ".env"

type Config struct {
	// Address the bridge server listens on and clients connect to.
	Host string `env:"DEBUG_BRIDGE_HOST" envDefault:"127.0.0.1"`
	Port int    `env:"DEBUG_BRIDGE_PORT" envDefault:"4712"`

	// Default per-command timeout.
	Timeout time.Duration `env:"DEBUG_BRIDGE_TIMEOUT" envDefault:"10s"`

	// How long clients keep retrying the initial connection.
	ConnectTimeout time.Duration `env:"DEBUG_BRIDGE_CONNECT_TIMEOUT" envDefault:"3s"`

	// Debug adapter used by the server: a TCP address, or a command line started per session.
	AdapterAddress string   `env:"DEBUG_BRIDGE_ADAPTER_ADDRESS"`
	AdapterCommand []string `env:"DEBUG_BRIDGE_ADAPTER_COMMAND" envSeparator:" "`

	// Launch profiles file.
	ProfilesPath string `env:"DEBUG_BRIDGE_PROFILES" envDefault:".debugbridge/profiles.yaml"`

	// Window in which an adapter 'continued' event is treated as a duplicate of a resume the bridge already reported.
	DedupWindow time.Duration `env:"DEBUG_BRIDGE_DEDUP_WINDOW" envDefault:"200ms"`
}

// Load reads the configuration from the process environment, after applying values from envFiles.
// Variables already set in the environment take precedence over env file values. Missing env files are ignored.
func Load(envFiles ...string) (Config, error) {
	environment := make(map[string]string)
	for _, file := range envFiles {
		fileEnv, readErr := godotenv.Read(file)
		if errors.Is(readErr, fs.ErrNotExist) {
			continue
		}
		if readErr != nil {
			return Config{}, fmt.Errorf("failed to read environment file '%s': %w", file, readErr)
		}
		for k, v := range fileEnv {
			environment[k] = v
		}
	}

	for _, kv := range os.Environ() {
		if k, v, found := strings.Cut(kv, "="); found {
			environment[k] = v
		}
	}

	return FromEnvironment(environment)
}

// FromEnvironment parses the configuration from an explicit set of variables.
func FromEnvironment(environment map[string]string) (Config, error) {
	var cfg Config
	if parseErr := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); parseErr != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", parseErr)
	}
	if validationErr := cfg.Validate(); validationErr != nil {
		return Config{}, validationErr
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.Port))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive (got %s)", c.Timeout))
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("connect timeout cannot be negative (got %s)", c.ConnectTimeout))
	}
	if c.DedupWindow < 0 {
		errs = append(errs, fmt.Errorf("deduplication window cannot be negative (got %s)", c.DedupWindow))
	}
	if c.AdapterAddress != "" && len(c.AdapterCommand) > 0 {
		errs = append(errs, fmt.Errorf("an adapter address and an adapter command cannot both be set"))
	}
	return errors.Join(errs...)
}

// Adapter returns the debug adapter settings for the server.
func (c Config) Adapter() dap.AdapterConfig {
	return dap.AdapterConfig{
		Address: c.AdapterAddress,
		Command: c.AdapterCommand,
	}
}
