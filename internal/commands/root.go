/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package commands implements the debugbridge command line.
package commands

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/debugbridge/internal/client"
	"github.com/microsoft/debugbridge/internal/config"
	"github.com/microsoft/debugbridge/internal/transport"
	"github.com/microsoft/debugbridge/pkg/logger"
)

const (
	hostFlag    = "host"
	portFlag    = "port"
	timeoutFlag = "timeout"
	envFileFlag = "env-file"
)

// rootOptions holds the connection settings shared by every subcommand.
// Flags override the environment, which overrides the defaults.
type rootOptions struct {
	log *logger.Logger

	envFile string
	host    string
	port    int
	timeout time.Duration

	cfg config.Config
}

func NewRootCommand(log *logger.Logger) *cobra.Command {
	opts := &rootOptions{log: log}

	rootCmd := &cobra.Command{
		Use:   "debugbridge",
		Short: "Exposes a live debug session to command line clients",
		Long: `debugbridge bridges a debug adapter to external clients.

	'debugbridge serve' runs the bridge next to the debug adapter. Every other command
	connects to a running bridge, sends one request, and prints the response as JSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			LogVersion(log.Logger, "Starting debugbridge")
			return opts.load(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			log.Flush()
		},
	}
	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.host, hostFlag, "", "Bridge host (overrides DEBUG_BRIDGE_HOST)")
	pf.IntVar(&opts.port, portFlag, 0, "Bridge port (overrides DEBUG_BRIDGE_PORT)")
	pf.DurationVar(&opts.timeout, timeoutFlag, 0, "Request timeout (overrides DEBUG_BRIDGE_TIMEOUT)")
	pf.StringVar(&opts.envFile, envFileFlag, config.DefaultEnvFile, "Environment file to read settings from, if it exists")
	log.AddLevelFlag(pf)

	rootCmd.AddCommand(newBridgeCommands(opts)...)
	rootCmd.AddCommand(newBreakpointsCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))
	rootCmd.AddCommand(newWaitCommand(opts))
	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, loadErr := config.Load(o.envFile)
	if loadErr != nil {
		return loadErr
	}

	flags := cmd.Flags()
	if flags.Changed(hostFlag) {
		cfg.Host = o.host
	}
	if flags.Changed(portFlag) {
		cfg.Port = o.port
	}
	if flags.Changed(timeoutFlag) {
		cfg.Timeout = o.timeout
	}
	if validationErr := cfg.Validate(); validationErr != nil {
		return validationErr
	}

	o.cfg = cfg
	return nil
}

func (o *rootOptions) logger(name string) logr.Logger {
	return o.log.Logger.WithName(name)
}

func (o *rootOptions) endpoint() string {
	return transport.EndpointURL(o.cfg.Host, o.cfg.Port)
}

// connect opens a client connection that lives as long as ctx.
func (o *rootOptions) connect(ctx context.Context, name string) (*client.Client, error) {
	return client.Connect(ctx, ctx, client.Config{
		Endpoint:       o.endpoint(),
		Timeout:        o.cfg.Timeout,
		ConnectTimeout: o.cfg.ConnectTimeout,
		Log:            o.logger(name),
	})
}
