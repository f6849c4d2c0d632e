/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/debugbridge/internal/breakpoints"
	"github.com/microsoft/debugbridge/internal/debughost"
	"github.com/microsoft/debugbridge/internal/debughost/hosttest"
	"github.com/microsoft/debugbridge/internal/events"
	"github.com/microsoft/debugbridge/internal/execstate"
	"github.com/microsoft/debugbridge/internal/profiles"
	"github.com/microsoft/debugbridge/internal/protocol"
	"github.com/microsoft/debugbridge/internal/server"
	"github.com/microsoft/debugbridge/pkg/logger"
	"github.com/microsoft/debugbridge/pkg/testutil"
)

const testTimeout = 30 * time.Second

type testBridge struct {
	port    int
	machine *execstate.Machine
	events  *server.Broadcaster
}

func startTestBridge(t *testing.T, ctx context.Context) *testBridge {
	log := testutil.NewLogForTesting(t.Name())
	events := server.NewBroadcaster(ctx, log, nil)
	host := hosttest.NewFakeHost()
	machine := execstate.NewMachine(execstate.Config{Registry: breakpoints.NewRegistry(), Emitter: events, Log: log})
	machine.BindHost(host)
	host.SetNotifications(machine)

	srv := server.New(server.Config{
		Host:     host,
		Machine:  machine,
		Events:   events,
		Profiles: profiles.NewStore([]debughost.LaunchConfig{{Name: "app", Type: "go", Request: debughost.RequestLaunch}}),
		Log:      log,
	})

	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, listenErr)
	go func() { _ = srv.Serve(ctx, listener, nil) }()

	return &testBridge{
		port:    listener.Addr().(*net.TCPAddr).Port,
		machine: machine,
		events:  events,
	}
}

func runCLI(ctx context.Context, t *testing.T, args ...string) (string, error) {
	log := logger.New(t.Name())
	root := NewRootCommand(log)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	execErr := root.ExecuteContext(ctx)
	return out.String(), execErr
}

func (b *testBridge) args(args ...string) []string {
	return append([]string{"--host", "127.0.0.1", "--port", strconv.Itoa(b.port)}, args...)
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	out, runErr := runCLI(ctx, t, "version")
	require.NoError(t, runErr)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "dev", info["version"])
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := startTestBridge(t, ctx)
	out, runErr := runCLI(ctx, t, b.args("status")...)
	require.NoError(t, runErr)

	st := testutil.MustUnmarshal[protocol.Status](t, []byte(out))
	assert.Equal(t, protocol.PhaseUnknown, st.Phase)
}

func TestBreakpointsCommands(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := startTestBridge(t, ctx)

	out, runErr := runCLI(ctx, t, b.args("breakpoints", "set", "src/loop.c", "10", "11", "--condition", ">5")...)
	require.NoError(t, runErr)
	result := testutil.MustUnmarshal[breakpoints.Result](t, []byte(out))
	assert.Equal(t, breakpoints.KindHitCondition, result.Kind)
	assert.Len(t, result.Breakpoints, 2)

	_, runErr = runCLI(ctx, t, b.args("breakpoints", "clear", "src/loop.c", "10")...)
	require.NoError(t, runErr)

	out, runErr = runCLI(ctx, t, b.args("breakpoints", "list")...)
	require.NoError(t, runErr)
	result = testutil.MustUnmarshal[breakpoints.Result](t, []byte(out))
	require.Len(t, result.Breakpoints, 1)
	assert.Equal(t, 11, result.Breakpoints[0].Line)

	_, runErr = runCLI(ctx, t, b.args("breakpoints", "set", "src/loop.c", "ten")...)
	require.ErrorContains(t, runErr, "'ten' is not a valid line number")
}

func TestHostErrorIsReturned(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := startTestBridge(t, ctx)
	_, runErr := runCLI(ctx, t, b.args("threads")...)
	require.Error(t, runErr)
	assert.Equal(t, "No active debug session", runErr.Error())
}

func TestWaitCommand(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := startTestBridge(t, ctx)

	type cliResult struct {
		out string
		err error
	}
	done := make(chan cliResult, 1)
	go func() {
		out, runErr := runCLI(ctx, t, b.args("wait", protocol.EventOutput, "--wait-timeout", "20s")...)
		done <- cliResult{out, runErr}
	}()

	// The command subscribes after connecting, so keep publishing until it returns.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case res := <-done:
			require.NoError(t, res.err)
			received := testutil.MustUnmarshal[events.Received](t, []byte(res.out))
			assert.Equal(t, protocol.EventOutput, received.Event)
			return
		case <-ticker.C:
			if b.events.Subscribers() > 0 {
				b.machine.Output("console", "ping")
			}
		case <-ctx.Done():
			require.Fail(t, "wait command did not finish")
		}
	}
}

func TestInvalidPortFlag(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	_, runErr := runCLI(ctx, t, "--port", "70000", "status")
	require.ErrorContains(t, runErr, "port 70000 is out of range")
}
