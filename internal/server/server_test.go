/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/debugbridge/internal/breakpoints"
	"github.com/microsoft/debugbridge/internal/debughost"
	"github.com/microsoft/debugbridge/internal/debughost/hosttest"
	"github.com/microsoft/debugbridge/internal/execstate"
	"github.com/microsoft/debugbridge/internal/profiles"
	"github.com/microsoft/debugbridge/internal/protocol"
	"github.com/microsoft/debugbridge/internal/transport"
	"github.com/microsoft/debugbridge/pkg/pointers"
	"github.com/microsoft/debugbridge/pkg/testutil"
)

const testTimeout = 20 * time.Second

type testBridge struct {
	server  *Server
	host    *hosttest.FakeHost
	machine *execstate.Machine
	events  *Broadcaster
}

func newTestBridge(t *testing.T, ctx context.Context, host debughost.Host) *testBridge {
	log := testutil.NewLogForTesting(t.Name())
	events := NewBroadcaster(ctx, log, nil)
	machine := execstate.NewMachine(execstate.Config{
		Registry: breakpoints.NewRegistry(),
		Emitter:  events,
		Log:      log,
	})

	b := &testBridge{machine: machine, events: events}
	if host == nil {
		fake := hosttest.NewFakeHost()
		fake.SetNotifications(machine)
		b.host = fake
		host = fake
	}
	machine.BindHost(host)

	b.server = New(Config{
		Host:    host,
		Machine: machine,
		Events:  events,
		Profiles: profiles.NewStore([]debughost.LaunchConfig{
			{Name: "app", Type: "go", Request: debughost.RequestLaunch},
			{Name: "tests", Type: "go", Request: debughost.RequestLaunch},
		}),
		Log:            log,
		CommandTimeout: 5 * time.Second,
	})
	return b
}

// testClient speaks the wire protocol over a raw connection.
type testClient struct {
	t      *testing.T
	ctx    context.Context
	conn   transport.Conn
	nextID atomic.Int32
	events []protocol.Event
}

func (b *testBridge) connect(t *testing.T, ctx context.Context) *testClient {
	clientEnd, serverEnd := transport.Pipe()
	go b.server.ServeConn(ctx, serverEnd)
	t.Cleanup(func() { _ = clientEnd.Close() })

	require.Eventually(t, func() bool { return b.events.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)
	return &testClient{t: t, ctx: ctx, conn: clientEnd}
}

func (c *testClient) sendRaw(frame string) {
	require.NoError(c.t, c.conn.WriteFrame([]byte(frame)))
}

func (c *testClient) call(command string, data any) protocol.Response {
	id := fmt.Sprintf("req-%d", c.nextID.Add(1))
	req := protocol.Request{ID: id, Command: command}
	if data != nil {
		req.Data = testutil.MustMarshal(c.t, data)
	}
	frame, encodeErr := protocol.Encode(req)
	require.NoError(c.t, encodeErr)
	c.sendRaw(string(frame))
	return c.response(id)
}

// response reads frames until the response with the given id arrives, keeping events for later.
func (c *testClient) response(id string) protocol.Response {
	for {
		decoded := c.read()
		if decoded.Event != nil {
			c.events = append(c.events, *decoded.Event)
			continue
		}
		require.NotNil(c.t, decoded.Response, "server sent a frame that is neither a response nor an event")
		if decoded.Response.ID == id {
			return *decoded.Response
		}
	}
}

func (c *testClient) event(name string) protocol.Event {
	for {
		for i, ev := range c.events {
			if ev.Event == name {
				c.events = append(c.events[:i], c.events[i+1:]...)
				return ev
			}
		}
		decoded := c.read()
		if decoded.Event != nil {
			c.events = append(c.events, *decoded.Event)
		}
	}
}

func (c *testClient) read() protocol.Frame {
	frame, readErr := c.conn.ReadFrame(c.ctx)
	require.NoError(c.t, readErr)
	decoded, decodeErr := protocol.Decode(frame)
	require.NoError(c.t, decodeErr)
	return decoded
}

func requireSuccess(t *testing.T, resp protocol.Response) {
	if !resp.Success {
		require.FailNow(t, "command failed", *resp.Error)
	}
}

func requireFailure(t *testing.T, resp protocol.Response, contains string) {
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Contains(t, *resp.Error, contains)
}

func TestStatusWithoutSession(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := newTestBridge(t, ctx, nil)
	c := b.connect(t, ctx)

	resp := c.call(protocol.CmdStatus, nil)
	requireSuccess(t, resp)
	st := testutil.MustUnmarshal[protocol.Status](t, resp.Data)
	assert.Equal(t, protocol.PhaseUnknown, st.Phase)
	assert.Nil(t, st.StopReason)
	assert.False(t, st.StoppedAtBreakpoint)
}

func TestMalformedFramesKeepConnectionOpen(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := newTestBridge(t, ctx, nil)
	c := b.connect(t, ctx)

	c.sendRaw(`{"id":"bad-1","command":""}`)
	requireFailure(t, c.response("bad-1"), "no command")

	c.sendRaw(`{"id":"bad-2","command":"frobnicate"}`)
	requireFailure(t, c.response("bad-2"), "unknown command 'frobnicate'")

	c.sendRaw(`{"id":"bad-3","command":"control","data":{"action":"jump"}}`)
	requireFailure(t, c.response("bad-3"), "unknown control action")

	c.sendRaw(`{"id":"bad-4","command":"status","data":{"verbose":true}}`)
	requireFailure(t, c.response("bad-4"), "invalid data")

	requireSuccess(t, c.call(protocol.CmdStatus, nil))
}

func TestHostErrorsAreReportedVerbatim(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := newTestBridge(t, ctx, nil)
	c := b.connect(t, ctx)

	resp := c.call(protocol.CmdThreads, nil)
	require.False(t, resp.Success)
	assert.Equal(t, "No active debug session", *resp.Error)
	assert.JSONEq(t, "null", string(resp.Data))
}

type panickingHost struct {
	*hosttest.FakeHost
}

func (panickingHost) Threads(context.Context) ([]dap.Thread, error) {
	panic("adapter state corrupted")
}

func TestHandlerPanicBecomesErrorResponse(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := newTestBridge(t, ctx, panickingHost{hosttest.NewFakeHost()})
	c := b.connect(t, ctx)

	requireFailure(t, c.call(protocol.CmdThreads, nil), "internal error while executing 'threads'")
	requireSuccess(t, c.call(protocol.CmdProfiles, nil))
}

func TestBreakpointCommandsUpdateRegistryAndHost(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := newTestBridge(t, ctx, nil)
	c := b.connect(t, ctx)

	resp := c.call(protocol.CmdBreakpoints, protocol.BreakpointsData{Action: protocol.BreakpointsSet, File: `src\main.c`, Lines: []int{10, 12}, Condition: pointers.To("i == 2")})
	requireSuccess(t, resp)
	result := testutil.MustUnmarshal[breakpoints.Result](t, resp.Data)
	assert.Equal(t, "src/main.c", result.File)
	assert.Equal(t, breakpoints.KindCondition, result.Kind)
	require.Len(t, result.Breakpoints, 2)

	ev := testutil.MustUnmarshal[protocol.BreakpointEvent](t, c.event(protocol.EventBreakpoint).Data)
	assert.Equal(t, protocol.BreakpointNew, ev.Reason)
	assert.Equal(t, "i == 2", *ev.Breakpoint.Condition)
	c.event(protocol.EventBreakpoint)

	pushed := b.host.SourceBreakpoints("src/main.c")
	require.Len(t, pushed, 2)
	assert.Equal(t, "i == 2", pushed[0].Condition)

	resp = c.call(protocol.CmdBreakpoints, protocol.BreakpointsData{Action: protocol.BreakpointsClear, File: "src/main.c", Lines: []int{10}})
	requireSuccess(t, resp)
	ev = testutil.MustUnmarshal[protocol.BreakpointEvent](t, c.event(protocol.EventBreakpoint).Data)
	assert.Equal(t, protocol.BreakpointRemoved, ev.Reason)
	assert.Equal(t, 10, ev.Breakpoint.Line)

	resp = c.call(protocol.CmdBreakpoints, protocol.BreakpointsData{Action: protocol.BreakpointsList})
	requireSuccess(t, resp)
	list := testutil.MustUnmarshal[breakpoints.Result](t, resp.Data)
	require.Len(t, list.Breakpoints, 1)
	assert.Equal(t, 12, list.Breakpoints[0].Line)
	assert.Len(t, b.host.SourceBreakpoints("src/main.c"), 1)
}

func TestBreakpointCommandsSyncStoredPaths(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := newTestBridge(t, ctx, nil)
	c := b.connect(t, ctx)

	requireSuccess(t, c.call(protocol.CmdBreakpoints, protocol.BreakpointsData{Action: protocol.BreakpointsSet, File: "/src/a.c", Lines: []int{10, 20}}))
	require.Len(t, b.host.SourceBreakpoints("/src/a.c"), 2)

	// A shorter path names the same breakpoints; the host must hear about the path they were stored under.
	requireSuccess(t, c.call(protocol.CmdBreakpoints, protocol.BreakpointsData{Action: protocol.BreakpointsClear, File: "a.c", Lines: []int{10}}))
	remaining := b.host.SourceBreakpoints("/src/a.c")
	require.Len(t, remaining, 1)
	assert.Equal(t, 20, remaining[0].Line)
	assert.Empty(t, b.host.SourceBreakpoints("a.c"))

	// Replacing a breakpoint through a shorter path moves it to that path on the host.
	requireSuccess(t, c.call(protocol.CmdBreakpoints, protocol.BreakpointsData{Action: protocol.BreakpointsSet, File: "a.c", Lines: []int{20}, Condition: pointers.To("i > 2")}))
	assert.Empty(t, b.host.SourceBreakpoints("/src/a.c"), "the replaced breakpoint must not stay on the host")
	moved := b.host.SourceBreakpoints("a.c")
	require.Len(t, moved, 1)
	assert.Equal(t, "i > 2", moved[0].Condition)

	requireSuccess(t, c.call(protocol.CmdBreakpoints, protocol.BreakpointsData{Action: protocol.BreakpointsClear, File: "/src/a.c"}))
	assert.Empty(t, b.host.SourceBreakpoints("a.c"))
	assert.Empty(t, b.machine.Registry().List())
}

func TestStartAndControlPublishEvents(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := newTestBridge(t, ctx, nil)
	c := b.connect(t, ctx)

	requireSuccess(t, c.call(protocol.CmdBreakpoints, protocol.BreakpointsData{Action: protocol.BreakpointsSet, File: "/src/main.go", Lines: []int{7}}))

	resp := c.call(protocol.CmdStart, protocol.StartData{Profile: "tests"})
	requireSuccess(t, resp)
	started := testutil.MustUnmarshal[StartResult](t, resp.Data)
	assert.Equal(t, "tests", started.Profile)

	sessionEv := testutil.MustUnmarshal[protocol.SessionStartedEvent](t, c.event(protocol.EventSessionStarted).Data)
	assert.Equal(t, "tests", sessionEv.Name)
	assert.NotEmpty(t, sessionEv.SessionID)

	// The breakpoint set before the session was replayed and is now verified.
	resp = c.call(protocol.CmdBreakpoints, protocol.BreakpointsData{Action: protocol.BreakpointsList})
	requireSuccess(t, resp)
	list := testutil.MustUnmarshal[breakpoints.Result](t, resp.Data)
	require.Len(t, list.Breakpoints, 1)
	require.NotNil(t, list.Breakpoints[0].Verified)
	assert.True(t, *list.Breakpoints[0].Verified)

	b.host.SetThreads(dap.Thread{Id: 3, Name: "main"})
	b.host.SetTopFrame(3, 1000, "/src/main.go", 7, "main.main")
	b.machine.Stopped(ctx, "breakpoint", 3, true)
	stopped := testutil.MustUnmarshal[protocol.StoppedEvent](t, c.event(protocol.EventStopped).Data)
	assert.True(t, stopped.StoppedAtBreakpoint)

	resp = c.call(protocol.CmdControl, protocol.ControlData{Action: protocol.ControlStepOver})
	requireSuccess(t, resp)
	control := testutil.MustUnmarshal[ControlResult](t, resp.Data)
	assert.Equal(t, 3, control.ThreadID)

	continued := testutil.MustUnmarshal[protocol.ContinuedEvent](t, c.event(protocol.EventContinued).Data)
	assert.Equal(t, 3, continued.ThreadID)
	assert.False(t, continued.AllThreadsContinued, "a step resumes the stepped thread only")
	assert.Contains(t, b.host.Calls(), "next 3")

	// A host notification right after the proactive event is suppressed.
	b.machine.Continued(3, true)
	resp = c.call(protocol.CmdControl, protocol.ControlData{Action: protocol.ControlPause})
	requireSuccess(t, resp)
	for _, ev := range c.events {
		assert.NotEqual(t, protocol.EventContinued, ev.Event)
	}
}

func TestContinueReportsWhetherAllThreadsResumed(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := newTestBridge(t, ctx, nil)
	c := b.connect(t, ctx)

	requireSuccess(t, c.call(protocol.CmdStart, protocol.StartData{Profile: "app"}))
	b.host.SetThreads(dap.Thread{Id: 5, Name: "worker"})

	requireSuccess(t, c.call(protocol.CmdControl, protocol.ControlData{Action: protocol.ControlContinue, ThreadID: pointers.To(5)}))
	continued := testutil.MustUnmarshal[protocol.ContinuedEvent](t, c.event(protocol.EventContinued).Data)
	assert.Equal(t, 5, continued.ThreadID)
	assert.True(t, continued.AllThreadsContinued)

	b.host.SetSingleThreaded(true)
	requireSuccess(t, c.call(protocol.CmdControl, protocol.ControlData{Action: protocol.ControlContinue, ThreadID: pointers.To(5)}))
	continued = testutil.MustUnmarshal[protocol.ContinuedEvent](t, c.event(protocol.EventContinued).Data)
	assert.False(t, continued.AllThreadsContinued)
}

func TestStartUnknownProfile(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := newTestBridge(t, ctx, nil)
	c := b.connect(t, ctx)

	requireFailure(t, c.call(protocol.CmdStart, protocol.StartData{Profile: "nope"}), "profile 'nope' not found")
	assert.Empty(t, b.host.Started())

	resp := c.call(protocol.CmdStart, nil)
	requireSuccess(t, resp)
	assert.Equal(t, "app", testutil.MustUnmarshal[StartResult](t, resp.Data).Profile)
}

func TestInspectionCommands(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := newTestBridge(t, ctx, nil)
	c := b.connect(t, ctx)

	b.host.SetActive(true)
	b.host.SetThreads(dap.Thread{Id: 1, Name: "main"})
	b.host.SetTopFrame(1, 1000, "/src/loop.c", 5, "loop")
	b.host.SetScopes(1000,
		dap.Scope{Name: "Locals", VariablesReference: 10},
		dap.Scope{Name: "Registers", VariablesReference: 20},
	)
	b.host.SetVariables(10, dap.Variable{Name: "i", Value: "2", Type: "int"})
	b.host.SetVariables(20, dap.Variable{Name: "rip", Value: "0x1000"})
	b.host.SetEvaluation("i * 2", dap.EvaluateResponseBody{Result: "4", Type: "int"})

	resp := c.call(protocol.CmdVariables, nil)
	requireSuccess(t, resp)
	vars := testutil.MustUnmarshal[VariablesResult](t, resp.Data)
	assert.Equal(t, 1000, vars.FrameID)
	require.Len(t, vars.Scopes, 2)
	assert.Equal(t, "Locals", vars.Scopes[0].Name)

	resp = c.call(protocol.CmdVariables, protocol.VariablesData{Name: "i"})
	requireSuccess(t, resp)
	assert.Equal(t, "2", testutil.MustUnmarshal[dap.Variable](t, resp.Data).Value)

	requireFailure(t, c.call(protocol.CmdVariables, protocol.VariablesData{Name: "missing"}), "variable 'missing' not found")

	resp = c.call(protocol.CmdEvaluate, protocol.EvaluateData{Expression: "i * 2"})
	requireSuccess(t, resp)
	assert.Equal(t, "4", testutil.MustUnmarshal[dap.EvaluateResponseBody](t, resp.Data).Result)

	resp = c.call(protocol.CmdCallStack, nil)
	requireSuccess(t, resp)
	stack := testutil.MustUnmarshal[CallStackResult](t, resp.Data)
	assert.Equal(t, 1, stack.ThreadID)
	require.Len(t, stack.Frames, 1)
	assert.Equal(t, "loop", stack.Frames[0].Name)

	resp = c.call(protocol.CmdRegisters, nil)
	requireSuccess(t, resp)
	var regs struct {
		FrameID   int                        `json:"frameId"`
		Registers map[string]json.RawMessage `json:"registers"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &regs))
	assert.JSONEq(t, `{"value":"0x1000"}`, string(regs.Registers["rip"]))

	resp = c.call(protocol.CmdDisassemble, protocol.DisassembleData{Address: "0x1000", Count: 3})
	requireSuccess(t, resp)
	dis := testutil.MustUnmarshal[DisassembleResult](t, resp.Data)
	assert.Len(t, dis.Instructions, 3)

	// The top frame of the fake host has no instruction pointer.
	requireFailure(t, c.call(protocol.CmdDisassemble, nil), "specify an address")

	b.host.SetMemory("0x2000", "AAEC")
	resp = c.call(protocol.CmdMemory, protocol.MemoryData{Address: "0x2000"})
	requireSuccess(t, resp)
	assert.Equal(t, "AAEC", testutil.MustUnmarshal[dap.ReadMemoryResponseBody](t, resp.Data).Data)
}

func TestDataBreakpointCommands(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := newTestBridge(t, ctx, nil)
	c := b.connect(t, ctx)
	requireSuccess(t, c.call(protocol.CmdStart, protocol.StartData{Profile: "app"}))

	resp := c.call(protocol.CmdDataBreakpointInfo, protocol.DataBreakpointInfoData{Name: "counter"})
	requireSuccess(t, resp)
	info := testutil.MustUnmarshal[dap.DataBreakpointInfoResponseBody](t, resp.Data)
	assert.Equal(t, "data:counter", info.DataId)

	resp = c.call(protocol.CmdSetDataBreakpoints, protocol.SetDataBreakpointsData{Breakpoints: []protocol.DataBreakpointSpec{
		{DataID: info.DataId.(string), AccessType: "write"},
	}})
	requireSuccess(t, resp)
	result := testutil.MustUnmarshal[DataBreakpointsResult](t, resp.Data)
	require.Len(t, result.Breakpoints, 1)
	assert.True(t, result.Breakpoints[0].Verified)

	remembered := b.machine.DataBreakpoints()
	require.Len(t, remembered, 1)
	assert.Equal(t, dap.DataBreakpointAccessType("write"), remembered[0].AccessType)
}

func TestEventsReachEveryClient(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := newTestBridge(t, ctx, nil)
	first := b.connect(t, ctx)

	clientEnd, serverEnd := transport.Pipe()
	go b.server.ServeConn(ctx, serverEnd)
	defer clientEnd.Close()
	require.Eventually(t, func() bool { return b.events.Subscribers() == 2 }, 5*time.Second, 10*time.Millisecond)
	second := &testClient{t: t, ctx: ctx, conn: clientEnd}

	b.machine.Output("stdout", "hello\n")
	for _, c := range []*testClient{first, second} {
		out := testutil.MustUnmarshal[protocol.OutputEvent](t, c.event(protocol.EventOutput).Data)
		assert.Equal(t, "hello\n", out.Output)
	}

	require.NoError(t, clientEnd.Close())
	require.Eventually(t, func() bool { return b.events.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestServeOverWebSocket(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	b := newTestBridge(t, ctx, nil)
	httpServer := httptest.NewServer(b.server)
	defer httpServer.Close()

	endpoint := "ws" + strings.TrimPrefix(httpServer.URL, "http") + transport.EndpointPath
	conn, dialErr := transport.Dial(ctx, endpoint, 0, transport.WebSocketOptions{})
	require.NoError(t, dialErr)
	defer conn.Close()

	require.Eventually(t, func() bool { return b.server.Connections() == 1 }, 5*time.Second, 10*time.Millisecond)
	c := &testClient{t: t, ctx: ctx, conn: conn}

	resp := c.call(protocol.CmdProfiles, nil)
	requireSuccess(t, resp)
	profilesResult := testutil.MustUnmarshal[ProfilesResult](t, resp.Data)
	require.Len(t, profilesResult.Profiles, 2)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return b.server.Connections() == 0 }, 5*time.Second, 10*time.Millisecond)
}
