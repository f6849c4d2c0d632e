/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/microsoft/debugbridge/pkg/resiliency"
)

const (
	// Placeholder in adapter command arguments replaced with the debug adapter type of the launch configuration.
	AdapterTypePlaceholder = "{{type}}"

	DefaultConnectTimeout = 10 * time.Second
	adapterStopTimeout    = 2 * time.Second
)

var ErrInvalidAdapterConfig = errors.New("invalid debug adapter configuration: either an address or a command is required")

// AdapterConfig tells the host how to reach a debug adapter for a new session.
type AdapterConfig struct {
	// Address of a debug adapter listening for DAP over TCP, e.g. "127.0.0.1:4711".
	Address string `json:"address,omitempty" yaml:"address,omitempty"`

	// Command line of a debug adapter speaking DAP over stdio. A new process is started for each session.
	Command []string `json:"command,omitempty" yaml:"command,omitempty"`

	// Extra environment for the adapter process, in KEY=VALUE form.
	Env []string `json:"env,omitempty" yaml:"env,omitempty"`

	// How long to keep retrying the TCP connection. Zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty"`
}

func (c AdapterConfig) Validate() error {
	if c.Address == "" && len(c.Command) == 0 {
		return ErrInvalidAdapterConfig
	}
	if c.Address != "" && len(c.Command) > 0 {
		return fmt.Errorf("invalid debug adapter configuration: address and command are mutually exclusive")
	}
	if c.Address != "" {
		if _, _, splitErr := net.SplitHostPort(c.Address); splitErr != nil {
			return fmt.Errorf("invalid debug adapter address '%s': %w", c.Address, splitErr)
		}
	}
	return nil
}

// ConnectAdapter opens a DAP connection for a session of the given adapter type.
func ConnectAdapter(ctx context.Context, cfg AdapterConfig, adapterType string, log logr.Logger) (Transport, error) {
	if validationErr := cfg.Validate(); validationErr != nil {
		return nil, validationErr
	}

	if cfg.Address != "" {
		timeout := cfg.ConnectTimeout
		if timeout <= 0 {
			timeout = DefaultConnectTimeout
		}
		return DialTCP(ctx, cfg.Address, timeout, log)
	}

	return startAdapterProcess(cfg, adapterType, log)
}

// DialTCP connects to a debug adapter, retrying until it accepts the connection or maxElapsed passes.
func DialTCP(ctx context.Context, address string, maxElapsed time.Duration, log logr.Logger) (Transport, error) {
	var d net.Dialer
	conn, dialErr := resiliency.RetryGet(ctx, resiliency.ConnectBackoff(maxElapsed), func() (net.Conn, error) {
		conn, attemptErr := d.DialContext(ctx, "tcp", address)
		if attemptErr != nil {
			log.V(1).Info("Debug adapter is not accepting connections yet", "Address", address, "Error", attemptErr.Error())
		}
		return conn, attemptErr
	})
	if dialErr != nil {
		return nil, fmt.Errorf("failed to connect to debug adapter at %s: %w", address, dialErr)
	}

	return NewTCPTransport(conn), nil
}

// The process is not tied to the request context: it lives as long as the debug session.
func startAdapterProcess(cfg AdapterConfig, adapterType string, log logr.Logger) (Transport, error) {
	args := make([]string, len(cfg.Command))
	for i, arg := range cfg.Command {
		args[i] = strings.ReplaceAll(arg, AdapterTypePlaceholder, adapterType)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, stdinErr := cmd.StdinPipe()
	if stdinErr != nil {
		return nil, fmt.Errorf("failed to create adapter stdin pipe: %w", stdinErr)
	}
	stdout, stdoutErr := cmd.StdoutPipe()
	if stdoutErr != nil {
		return nil, fmt.Errorf("failed to create adapter stdout pipe: %w", stdoutErr)
	}
	stderr, stderrErr := cmd.StderrPipe()
	if stderrErr != nil {
		return nil, fmt.Errorf("failed to create adapter stderr pipe: %w", stderrErr)
	}

	if startErr := cmd.Start(); startErr != nil {
		return nil, fmt.Errorf("failed to start debug adapter '%s': %w", args[0], startErr)
	}

	adapterLog := log.WithValues("Adapter", args[0], "PID", cmd.Process.Pid)
	adapterLog.V(1).Info("Debug adapter process started")
	go logAdapterStderr(stderr, adapterLog)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	return NewStdioTransport(stdout, stdin, func() error {
		// Closing stdin usually makes the adapter exit on its own; kill it if it does not.
		select {
		case waitErr := <-exited:
			adapterLog.V(1).Info("Debug adapter process exited", "Result", fmt.Sprint(waitErr))
			return nil
		case <-time.After(adapterStopTimeout):
		}

		if killErr := cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			return fmt.Errorf("failed to stop debug adapter process: %w", killErr)
		}
		<-exited
		return nil
	}), nil
}

func logAdapterStderr(stderr io.Reader, log logr.Logger) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		log.V(1).Info("Debug adapter stderr", "Line", scanner.Text())
	}
}
