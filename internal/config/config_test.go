/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg, cfgErr := FromEnvironment(map[string]string{})
	require.NoError(t, cfgErr)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 4712, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 200*time.Millisecond, cfg.DedupWindow)
	assert.Empty(t, cfg.AdapterAddress)
}

func TestOverrides(t *testing.T) {
	t.Parallel()

	cfg, cfgErr := FromEnvironment(map[string]string{
		"DEBUG_BRIDGE_HOST":            "0.0.0.0",
		"DEBUG_BRIDGE_PORT":            "9000",
		"DEBUG_BRIDGE_TIMEOUT":         "2s",
		"DEBUG_BRIDGE_ADAPTER_COMMAND": "dlv dap --log",
		"DEBUG_BRIDGE_DEDUP_WINDOW":    "50ms",
	})
	require.NoError(t, cfgErr)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, 50*time.Millisecond, cfg.DedupWindow)
	assert.Equal(t, []string{"dlv", "dap", "--log"}, cfg.Adapter().Command)
}

func TestInvalidValues(t *testing.T) {
	t.Parallel()

	_, cfgErr := FromEnvironment(map[string]string{"DEBUG_BRIDGE_PORT": "not-a-port"})
	require.Error(t, cfgErr)

	_, cfgErr = FromEnvironment(map[string]string{"DEBUG_BRIDGE_PORT": "70000"})
	require.ErrorContains(t, cfgErr, "out of range")

	_, cfgErr = FromEnvironment(map[string]string{
		"DEBUG_BRIDGE_ADAPTER_ADDRESS": "127.0.0.1:4711",
		"DEBUG_BRIDGE_ADAPTER_COMMAND": "dlv dap",
	})
	require.ErrorContains(t, cfgErr, "cannot both be set")
}

// Not parallel: reads the process environment.
func TestLoadEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DEBUG_BRIDGE_PORT=5000\nDEBUG_BRIDGE_HOST=10.0.0.1\n"), 0600))
	t.Setenv("DEBUG_BRIDGE_HOST", "192.168.1.1")

	cfg, cfgErr := Load(envFile, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, cfgErr)

	assert.Equal(t, 5000, cfg.Port, "env file values should apply")
	assert.Equal(t, "192.168.1.1", cfg.Host, "the process environment should win over the env file")
}
