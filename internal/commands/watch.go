/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/microsoft/debugbridge/internal/protocol"
)

type watchedEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// eventPrinter serializes event output; handlers for different namespaces may run concurrently with reconnects.
type eventPrinter struct {
	lock sync.Mutex
	out  io.Writer
}

func (p *eventPrinter) print(event string, data json.RawMessage) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return writeJSONLine(p.out, watchedEvent{Event: event, Data: data})
}

func newWatchCommand(o *rootOptions) *cobra.Command {
	var reconnect bool
	cmd := &cobra.Command{
		Use:   "watch [namespace...]",
		Short: "Prints bridge events as they happen, one JSON object per line",
		Long: `Prints bridge events as they happen, one JSON object per line.

	Without arguments, all debug ('dap') and bridge ('bridge') events are printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			namespaces := args
			if len(namespaces) == 0 {
				namespaces = []string{protocol.NamespaceDebug, protocol.NamespaceBridge}
			}

			ctx := cmd.Context()
			log := o.logger("watch")
			c, connectErr := o.connect(ctx, "watch")
			if connectErr != nil {
				return fmt.Errorf("could not connect to the bridge at %s: %w", o.endpoint(), connectErr)
			}
			defer c.Close()

			printer := &eventPrinter{out: cmd.OutOrStdout()}
			for _, ns := range namespaces {
				c.OnNamespace(ns, func(name string, data json.RawMessage) {
					if printErr := printer.print(ns+protocol.NamespaceSeparator+name, data); printErr != nil {
						log.Error(printErr, "Could not print event")
					}
				})
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-c.Disconnected():
				}

				if !reconnect {
					return fmt.Errorf("lost connection to the bridge: %w", protocol.ErrConnectionClosed)
				}

				// Subscriptions survive the reconnection, so no event handler needs to be registered again.
				log.Info("Lost connection to the bridge, reconnecting", "Endpoint", o.endpoint())
				if connectErr = c.Connect(ctx); connectErr != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("could not reconnect to the bridge at %s: %w", o.endpoint(), connectErr)
				}
			}
		},
	}
	cmd.Flags().BoolVar(&reconnect, "reconnect", true, "Reconnect when the connection to the bridge is lost")
	return cmd
}

func newWaitCommand(o *rootOptions) *cobra.Command {
	var waitTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <event>...",
		Short: "Waits for the first of the given events and prints it",
		Long: `Waits for the first of the given events (e.g. 'dap:stopped') and prints it.

	Fails if none of the events arrives within the wait timeout.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, connectErr := o.connect(ctx, "wait")
			if connectErr != nil {
				return fmt.Errorf("could not connect to the bridge at %s: %w", o.endpoint(), connectErr)
			}
			defer c.Close()

			waitCtx, cancel := contextUntilDisconnected(ctx, c.Disconnected())
			defer cancel()

			received, waitErr := c.WaitFor(waitCtx, args, waitTimeout)
			if waitErr != nil {
				if ctx.Err() == nil && waitCtx.Err() != nil {
					return fmt.Errorf("lost connection to the bridge while waiting: %w", protocol.ErrConnectionClosed)
				}
				return waitErr
			}
			return writeJSON(cmd.OutOrStdout(), received)
		},
	}
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 0, "How long to wait (0 waits until interrupted)")
	return cmd
}

// contextUntilDisconnected returns a context that is also cancelled when the connection ends.
func contextUntilDisconnected(ctx context.Context, disconnected <-chan struct{}) (context.Context, context.CancelFunc) {
	connCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-disconnected:
			cancel()
		case <-connCtx.Done():
		}
	}()
	return connCtx, cancel
}
