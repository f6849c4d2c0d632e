/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/microsoft/debugbridge/internal/breakpoints"
	"github.com/microsoft/debugbridge/internal/dap"
	"github.com/microsoft/debugbridge/internal/execstate"
	"github.com/microsoft/debugbridge/internal/profiles"
	"github.com/microsoft/debugbridge/internal/server"
	"github.com/microsoft/debugbridge/internal/transport"
)

type serveOptions struct {
	adapterAddress string
	adapterCommand []string
	profilesPath   string
}

type serveOutput struct {
	Endpoint string `json:"endpoint"`
	Profiles string `json:"profiles,omitempty"`
}

func newServeCommand(o *rootOptions) *cobra.Command {
	so := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the bridge server next to a debug adapter",
		Long: `Runs the bridge server next to a debug adapter.

	The debug adapter is either reached over TCP (--adapter-address) or started as a child process
	speaking the debug adapter protocol over stdio (--adapter-command, repeated once per argument;
	the '{{type}}' placeholder is replaced with the adapter type of the launch profile).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("adapter-address") {
				o.cfg.AdapterAddress = so.adapterAddress
				o.cfg.AdapterCommand = nil
			}
			if flags.Changed("adapter-command") {
				o.cfg.AdapterCommand = so.adapterCommand
				o.cfg.AdapterAddress = ""
			}
			if flags.Changed("profiles") {
				o.cfg.ProfilesPath = so.profilesPath
			}
			return o.serve(cmd)
		},
	}
	cmd.Flags().StringVar(&so.adapterAddress, "adapter-address", "", "host:port of a debug adapter server (overrides DEBUG_BRIDGE_ADAPTER_ADDRESS)")
	cmd.Flags().StringArrayVar(&so.adapterCommand, "adapter-command", nil, "Debug adapter command line, one argument per flag (overrides DEBUG_BRIDGE_ADAPTER_COMMAND)")
	cmd.Flags().StringVar(&so.profilesPath, "profiles", "", "Launch profiles file (overrides DEBUG_BRIDGE_PROFILES)")
	return cmd
}

func (o *rootOptions) serve(cmd *cobra.Command) error {
	ctx := cmd.Context()
	log := o.logger("serve")

	store, storeErr := profiles.Load(o.cfg.ProfilesPath)
	if storeErr != nil {
		return storeErr
	}

	events := server.NewBroadcaster(ctx, log.WithName("events"), server.ProfilesSource(store, log.WithName("profiles")))
	machine := execstate.NewMachine(execstate.Config{
		Registry:    breakpoints.NewRegistry(),
		Emitter:     events,
		DedupWindow: o.cfg.DedupWindow,
		Log:         log.WithName("state"),
	})
	host := dap.NewAdapterHost(ctx, dap.HostConfig{
		Adapter:       o.cfg.Adapter(),
		Notifications: machine,
		Log:           log.WithName("adapter"),
	})
	machine.BindHost(host)

	srv := server.New(server.Config{
		Host:           host,
		Machine:        machine,
		Events:         events,
		Profiles:       store,
		Log:            log.WithName("server"),
		CommandTimeout: o.cfg.Timeout,
		WebSocket:      transport.WebSocketOptions{Log: log.WithName("transport")},
	})

	ready := make(chan net.Addr, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, o.cfg.Host, o.cfg.Port, ready)
	})
	g.Go(func() error {
		select {
		case addr := <-ready:
			tcpAddr, isTCP := addr.(*net.TCPAddr)
			endpoint := addr.String()
			if isTCP {
				endpoint = transport.EndpointURL(o.cfg.Host, tcpAddr.Port)
			}
			if printErr := writeJSONLine(cmd.OutOrStdout(), serveOutput{Endpoint: endpoint, Profiles: store.Path()}); printErr != nil {
				return fmt.Errorf("could not report the bridge endpoint: %w", printErr)
			}
		case <-gctx.Done():
		}

		<-gctx.Done()
		host.Stop()
		return nil
	})

	return g.Wait()
}
