/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/smallnest/chanx"

	"github.com/microsoft/debugbridge/internal/debughost"
	"github.com/microsoft/debugbridge/internal/protocol"
	"github.com/microsoft/debugbridge/pkg/resiliency"
)

const (
	clientID              = "debugbridge"
	disconnectTimeout     = 2 * time.Second
	stopProcessingTimeout = 5 * time.Second
	eventQueueCapacity    = 16
)

var errNoSession = &protocol.HostError{Message: "No active debug session"}

type HostConfig struct {
	Adapter AdapterConfig

	// Receives session state changes. Required.
	Notifications debughost.Notifications

	Log logr.Logger

	// Overrides how adapter connections are made. Defaults to ConnectAdapter with the Adapter configuration.
	Connect func(ctx context.Context, adapterType string) (Transport, error)
}

// AdapterHost is a debughost.Host backed by a DAP debug adapter.
type AdapterHost struct {
	lifetimeCtx   context.Context
	notifications debughost.Notifications
	connect       func(ctx context.Context, adapterType string) (Transport, error)
	log           logr.Logger

	// Serializes Start calls; a new session replaces the previous one.
	startMu sync.Mutex

	mu                sync.Mutex
	session           *adapterSession
	sourceBreakpoints map[string][]dap.SourceBreakpoint
	dataBreakpoints   []dap.DataBreakpoint
}

var _ debughost.Host = (*AdapterHost)(nil)

type adapterSession struct {
	name         string
	adapterType  string
	client       *Client
	capabilities dap.Capabilities

	events *chanx.UnboundedChan[dap.EventMessage]
	ctx    context.Context
	cancel context.CancelFunc

	initializedOnce sync.Once
	initialized     chan struct{}

	endOnce sync.Once
}

func (s *adapterSession) markInitialized() {
	s.initializedOnce.Do(func() { close(s.initialized) })
}

// NewAdapterHost creates a host. Sessions never outlive lifetimeCtx.
func NewAdapterHost(lifetimeCtx context.Context, cfg HostConfig) *AdapterHost {
	log := cfg.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	connect := cfg.Connect
	if connect == nil {
		adapterCfg := cfg.Adapter
		connect = func(ctx context.Context, adapterType string) (Transport, error) {
			return ConnectAdapter(ctx, adapterCfg, adapterType, log)
		}
	}

	h := &AdapterHost{
		lifetimeCtx:       lifetimeCtx,
		notifications:     cfg.Notifications,
		connect:           connect,
		log:               log,
		sourceBreakpoints: make(map[string][]dap.SourceBreakpoint),
	}

	context.AfterFunc(lifetimeCtx, func() {
		if sess := h.activeSession(); sess != nil {
			h.endSession(sess)
		}
	})

	return h
}

func (h *AdapterHost) activeSession() *adapterSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

func (h *AdapterHost) HasActiveSession() bool {
	return h.activeSession() != nil
}

// Start launches (or attaches to) a debug target, replacing the current session if there is one.
func (h *AdapterHost) Start(ctx context.Context, cfg debughost.LaunchConfig) error {
	request := cfg.Request
	if request == "" {
		request = debughost.RequestLaunch
	}
	if request != debughost.RequestLaunch && request != debughost.RequestAttach {
		return protocol.NewProtocolError("unsupported request type '%s' (expected '%s' or '%s')", request, debughost.RequestLaunch, debughost.RequestAttach)
	}
	launchArgs, marshalErr := json.Marshal(cfg.Arguments)
	if marshalErr != nil {
		return fmt.Errorf("launch configuration '%s' has invalid arguments: %w", cfg.Name, marshalErr)
	}
	if cfg.Arguments == nil {
		launchArgs = []byte("{}")
	}

	h.startMu.Lock()
	defer h.startMu.Unlock()

	if previous := h.activeSession(); previous != nil {
		h.log.Info("Replacing the active debug session", "Previous", previous.name, "New", cfg.Name)
		h.endSession(previous)
	}

	transport, connectErr := h.connect(ctx, cfg.Type)
	if connectErr != nil {
		return &protocol.HostError{Message: fmt.Sprintf("could not connect to debug adapter: %v", connectErr)}
	}

	sessCtx, cancel := context.WithCancel(h.lifetimeCtx)
	sess := &adapterSession{
		name:        cfg.Name,
		adapterType: cfg.Type,
		events:      chanx.NewUnboundedChan[dap.EventMessage](sessCtx, eventQueueCapacity),
		ctx:         sessCtx,
		cancel:      cancel,
		initialized: make(chan struct{}),
	}
	enqueue := func(ev dap.EventMessage) {
		select {
		case sess.events.In <- ev:
		case <-sessCtx.Done():
		}
	}
	sess.client = NewClient(transport, h.log.WithValues("Session", cfg.Name), enqueue, func(readErr error) {
		if readErr != nil {
			h.log.V(1).Info("Debug adapter connection ended", "Session", cfg.Name, "Reason", readErr.Error())
		}
		// Queued behind any pending events, so the session ends after they are processed.
		enqueue(&dap.TerminatedEvent{Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Type: "event"}, Event: "terminated"}})
	})
	go h.processEvents(sess)

	if initErr := h.initialize(ctx, sess); initErr != nil {
		h.abandon(sess)
		return initErr
	}

	h.mu.Lock()
	h.session = sess
	h.mu.Unlock()
	h.notifications.SessionStarted(cfg.Name, cfg.Type)

	launchDone := make(chan error, 1)
	go func() {
		var launchErr error
		if request == debughost.RequestAttach {
			_, launchErr = sess.client.Request(ctx, &dap.AttachRequest{Request: newRequest("attach"), Arguments: launchArgs})
		} else {
			_, launchErr = sess.client.Request(ctx, &dap.LaunchRequest{Request: newRequest("launch"), Arguments: launchArgs})
		}
		launchDone <- launchErr
	}()

	// Some adapters answer the launch request only after configuration is done, others before sending 'initialized'.
	launchFinished := false
	select {
	case <-sess.initialized:
	case launchErr := <-launchDone:
		if launchErr != nil {
			h.endSession(sess)
			return fmt.Errorf("%s of '%s' failed: %w", request, cfg.Name, launchErr)
		}
		launchFinished = true
	case <-ctx.Done():
		h.endSession(sess)
		return ctx.Err()
	}

	if configErr := h.configure(ctx, sess); configErr != nil {
		h.endSession(sess)
		return configErr
	}

	if !launchFinished {
		select {
		case launchErr := <-launchDone:
			if launchErr != nil {
				h.endSession(sess)
				return fmt.Errorf("%s of '%s' failed: %w", request, cfg.Name, launchErr)
			}
		case <-ctx.Done():
			h.endSession(sess)
			return ctx.Err()
		}
	}

	h.log.Info("Debug session started", "Session", cfg.Name, "Type", cfg.Type, "Request", request)
	return nil
}

func (h *AdapterHost) initialize(ctx context.Context, sess *adapterSession) error {
	resp, initErr := sess.client.Request(ctx, &dap.InitializeRequest{
		Request: newRequest("initialize"),
		Arguments: dap.InitializeRequestArguments{
			ClientID:                 clientID,
			ClientName:               "Debug Bridge",
			AdapterID:                sess.adapterType,
			Locale:                   "en-US",
			LinesStartAt1:            true,
			ColumnsStartAt1:          true,
			PathFormat:               "path",
			SupportsVariableType:     true,
			SupportsMemoryReferences: true,
		},
	})
	if initErr != nil {
		return fmt.Errorf("debug adapter initialization failed: %w", initErr)
	}

	if initResp, ok := resp.(*dap.InitializeResponse); ok {
		sess.capabilities = initResp.Body
	}
	return nil
}

// Applies remembered breakpoints to a new session, then finishes the configuration phase.
func (h *AdapterHost) configure(ctx context.Context, sess *adapterSession) error {
	h.mu.Lock()
	sourceBreakpoints := maps.Clone(h.sourceBreakpoints)
	dataBreakpoints := slices.Clone(h.dataBreakpoints)
	h.mu.Unlock()

	for _, path := range slices.Sorted(maps.Keys(sourceBreakpoints)) {
		if _, bpErr := h.setSourceBreakpoints(ctx, sess, path, sourceBreakpoints[path]); bpErr != nil {
			h.log.Info("Could not apply breakpoints to the new session", "File", path, "Error", bpErr.Error())
		}
	}
	if len(dataBreakpoints) > 0 && sess.capabilities.SupportsDataBreakpoints {
		if _, bpErr := h.setDataBreakpoints(ctx, sess, dataBreakpoints); bpErr != nil {
			h.log.Info("Could not apply data breakpoints to the new session", "Error", bpErr.Error())
		}
	}

	if !sess.capabilities.SupportsConfigurationDoneRequest {
		return nil
	}
	if _, doneErr := sess.client.Request(ctx, &dap.ConfigurationDoneRequest{Request: newRequest("configurationDone")}); doneErr != nil {
		return fmt.Errorf("debug adapter configuration failed: %w", doneErr)
	}
	return nil
}

func (h *AdapterHost) processEvents(sess *adapterSession) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case ev, ok := <-sess.events.Out:
			if !ok {
				return
			}
			// A misbehaving notification target must not stop event processing for the session.
			_ = resiliency.Protect(h.log, func() { h.handleEvent(sess, ev) })
		}
	}
}

func (h *AdapterHost) handleEvent(sess *adapterSession, ev dap.EventMessage) {
	switch e := ev.(type) {
	case *dap.InitializedEvent:
		sess.markInitialized()

	case *dap.StoppedEvent:
		ctx, cancel := context.WithTimeout(sess.ctx, stopProcessingTimeout)
		defer cancel()
		h.notifications.Stopped(ctx, e.Body.Reason, e.Body.ThreadId, e.Body.AllThreadsStopped)

	case *dap.ContinuedEvent:
		h.notifications.Continued(e.Body.ThreadId, e.Body.AllThreadsContinued)

	case *dap.OutputEvent:
		h.notifications.Output(e.Body.Category, e.Body.Output)

	case *dap.ExitedEvent:
		h.log.V(1).Info("Debug target exited", "Session", sess.name, "ExitCode", e.Body.ExitCode)

	case *dap.TerminatedEvent:
		h.endSession(sess)

	default:
		h.log.V(1).Info("Ignoring debug adapter event", "Event", ev.GetEvent().Event)
	}
}

// Ends a session exactly once: disconnects from the adapter, stops event processing and notifies.
func (h *AdapterHost) endSession(sess *adapterSession) {
	sess.endOnce.Do(func() {
		h.mu.Lock()
		wasActive := h.session == sess
		if wasActive {
			h.session = nil
			// Data breakpoint IDs are only meaningful within the session that issued them.
			h.dataBreakpoints = nil
		}
		h.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if _, disconnectErr := sess.client.Request(ctx, &dap.DisconnectRequest{
			Request:   newRequest("disconnect"),
			Arguments: &dap.DisconnectArguments{TerminateDebuggee: true},
		}); disconnectErr != nil {
			h.log.V(1).Info("Disconnect request failed", "Session", sess.name, "Error", disconnectErr.Error())
		}
		if closeErr := sess.client.Close(); closeErr != nil {
			h.log.V(1).Info("Failed to close debug adapter connection", "Session", sess.name, "Error", closeErr.Error())
		}
		sess.cancel()

		if wasActive {
			h.log.Info("Debug session ended", "Session", sess.name)
			h.notifications.Terminated()
		}
	})
}

// Tears down a session that never became active.
func (h *AdapterHost) abandon(sess *adapterSession) {
	sess.endOnce.Do(func() {
		_ = sess.client.Close()
		sess.cancel()
	})
}

// Stop ends the active session, if any.
func (h *AdapterHost) Stop() {
	if sess := h.activeSession(); sess != nil {
		h.endSession(sess)
	}
}

func (h *AdapterHost) requireSession() (*adapterSession, error) {
	sess := h.activeSession()
	if sess == nil {
		return nil, errNoSession
	}
	return sess, nil
}

// call sends a request on the active session and checks the response type.
func call[T dap.ResponseMessage](ctx context.Context, sess *adapterSession, req dap.RequestMessage) (T, error) {
	var zero T
	resp, reqErr := sess.client.Request(ctx, req)
	if reqErr != nil {
		return zero, reqErr
	}
	typed, ok := resp.(T)
	if !ok {
		return zero, protocol.NewProtocolError("unexpected response to '%s': %T", req.GetRequest().Command, resp)
	}
	return typed, nil
}

func (h *AdapterHost) Threads(ctx context.Context) ([]dap.Thread, error) {
	sess, sessErr := h.requireSession()
	if sessErr != nil {
		return nil, sessErr
	}
	resp, callErr := call[*dap.ThreadsResponse](ctx, sess, &dap.ThreadsRequest{Request: newRequest("threads")})
	if callErr != nil {
		return nil, callErr
	}
	return resp.Body.Threads, nil
}

func (h *AdapterHost) StackTrace(ctx context.Context, threadID int, levels int) ([]dap.StackFrame, error) {
	sess, sessErr := h.requireSession()
	if sessErr != nil {
		return nil, sessErr
	}
	resp, callErr := call[*dap.StackTraceResponse](ctx, sess, &dap.StackTraceRequest{
		Request:   newRequest("stackTrace"),
		Arguments: dap.StackTraceArguments{ThreadId: threadID, Levels: levels},
	})
	if callErr != nil {
		return nil, callErr
	}
	return resp.Body.StackFrames, nil
}

func (h *AdapterHost) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	sess, sessErr := h.requireSession()
	if sessErr != nil {
		return nil, sessErr
	}
	resp, callErr := call[*dap.ScopesResponse](ctx, sess, &dap.ScopesRequest{
		Request:   newRequest("scopes"),
		Arguments: dap.ScopesArguments{FrameId: frameID},
	})
	if callErr != nil {
		return nil, callErr
	}
	return resp.Body.Scopes, nil
}

func (h *AdapterHost) Variables(ctx context.Context, variablesReference int) ([]dap.Variable, error) {
	sess, sessErr := h.requireSession()
	if sessErr != nil {
		return nil, sessErr
	}
	resp, callErr := call[*dap.VariablesResponse](ctx, sess, &dap.VariablesRequest{
		Request:   newRequest("variables"),
		Arguments: dap.VariablesArguments{VariablesReference: variablesReference},
	})
	if callErr != nil {
		return nil, callErr
	}
	return resp.Body.Variables, nil
}

func (h *AdapterHost) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error) {
	sess, sessErr := h.requireSession()
	if sessErr != nil {
		return nil, sessErr
	}
	resp, callErr := call[*dap.EvaluateResponse](ctx, sess, &dap.EvaluateRequest{
		Request:   newRequest("evaluate"),
		Arguments: dap.EvaluateArguments{Expression: expression, FrameId: frameID, Context: evalContext},
	})
	if callErr != nil {
		return nil, callErr
	}
	return &resp.Body, nil
}

func (h *AdapterHost) Disassemble(ctx context.Context, memoryReference string, instructionOffset int, count int) ([]dap.DisassembledInstruction, error) {
	sess, sessErr := h.requireSession()
	if sessErr != nil {
		return nil, sessErr
	}
	if !sess.capabilities.SupportsDisassembleRequest {
		return nil, &protocol.HostError{Message: fmt.Sprintf("debug adapter '%s' does not support disassembly", sess.adapterType)}
	}
	resp, callErr := call[*dap.DisassembleResponse](ctx, sess, &dap.DisassembleRequest{
		Request: newRequest("disassemble"),
		Arguments: dap.DisassembleArguments{
			MemoryReference:   memoryReference,
			InstructionOffset: instructionOffset,
			InstructionCount:  count,
			ResolveSymbols:    true,
		},
	})
	if callErr != nil {
		return nil, callErr
	}
	return resp.Body.Instructions, nil
}

func (h *AdapterHost) ReadMemory(ctx context.Context, memoryReference string, offset int, count int) (*dap.ReadMemoryResponseBody, error) {
	sess, sessErr := h.requireSession()
	if sessErr != nil {
		return nil, sessErr
	}
	if !sess.capabilities.SupportsReadMemoryRequest {
		return nil, &protocol.HostError{Message: fmt.Sprintf("debug adapter '%s' does not support reading memory", sess.adapterType)}
	}
	resp, callErr := call[*dap.ReadMemoryResponse](ctx, sess, &dap.ReadMemoryRequest{
		Request:   newRequest("readMemory"),
		Arguments: dap.ReadMemoryArguments{MemoryReference: memoryReference, Offset: offset, Count: count},
	})
	if callErr != nil {
		return nil, callErr
	}
	return &resp.Body, nil
}

func (h *AdapterHost) DataBreakpointInfo(ctx context.Context, name string, variablesReference int, frameID int) (*dap.DataBreakpointInfoResponseBody, error) {
	sess, sessErr := h.requireSession()
	if sessErr != nil {
		return nil, sessErr
	}
	resp, callErr := call[*dap.DataBreakpointInfoResponse](ctx, sess, &dap.DataBreakpointInfoRequest{
		Request:   newRequest("dataBreakpointInfo"),
		Arguments: dap.DataBreakpointInfoArguments{Name: name, VariablesReference: variablesReference, FrameId: frameID},
	})
	if callErr != nil {
		return nil, callErr
	}
	return &resp.Body, nil
}

// SetDataBreakpoints replaces the data breakpoints. Without a session they are remembered and reported unverified.
// During a session only the breakpoints the adapter verified are remembered, and they are forgotten when the session ends.
func (h *AdapterHost) SetDataBreakpoints(ctx context.Context, breakpoints []dap.DataBreakpoint) ([]dap.Breakpoint, error) {
	h.mu.Lock()
	sess := h.session
	if sess == nil {
		h.dataBreakpoints = slices.Clone(breakpoints)
		h.mu.Unlock()
		return make([]dap.Breakpoint, len(breakpoints)), nil
	}
	h.mu.Unlock()

	result, bpErr := h.setDataBreakpoints(ctx, sess, breakpoints)
	if bpErr != nil {
		return nil, bpErr
	}

	h.mu.Lock()
	if h.session == sess {
		h.dataBreakpoints = verifiedDataBreakpoints(breakpoints, result)
	}
	h.mu.Unlock()
	return result, nil
}

// Adapters report one result per requested breakpoint, in request order.
func verifiedDataBreakpoints(requested []dap.DataBreakpoint, result []dap.Breakpoint) []dap.DataBreakpoint {
	if len(result) != len(requested) {
		return nil
	}
	var verified []dap.DataBreakpoint
	for i, bp := range requested {
		if result[i].Verified {
			verified = append(verified, bp)
		}
	}
	return verified
}

func (h *AdapterHost) setDataBreakpoints(ctx context.Context, sess *adapterSession, breakpoints []dap.DataBreakpoint) ([]dap.Breakpoint, error) {
	if breakpoints == nil {
		breakpoints = []dap.DataBreakpoint{}
	}
	resp, callErr := call[*dap.SetDataBreakpointsResponse](ctx, sess, &dap.SetDataBreakpointsRequest{
		Request:   newRequest("setDataBreakpoints"),
		Arguments: dap.SetDataBreakpointsArguments{Breakpoints: breakpoints},
	})
	if callErr != nil {
		return nil, callErr
	}
	return resp.Body.Breakpoints, nil
}

// SetBreakpoints replaces the source breakpoints of one file. Without a session they are remembered and reported unverified.
func (h *AdapterHost) SetBreakpoints(ctx context.Context, path string, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	h.mu.Lock()
	if len(breakpoints) == 0 {
		delete(h.sourceBreakpoints, path)
	} else {
		h.sourceBreakpoints[path] = slices.Clone(breakpoints)
	}
	sess := h.session
	h.mu.Unlock()

	if sess == nil {
		unverified := make([]dap.Breakpoint, len(breakpoints))
		for i, bp := range breakpoints {
			unverified[i] = dap.Breakpoint{Line: bp.Line, Source: &dap.Source{Path: path}}
		}
		return unverified, nil
	}
	return h.setSourceBreakpoints(ctx, sess, path, breakpoints)
}

func (h *AdapterHost) setSourceBreakpoints(ctx context.Context, sess *adapterSession, path string, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	if breakpoints == nil {
		breakpoints = []dap.SourceBreakpoint{}
	}
	resp, callErr := call[*dap.SetBreakpointsResponse](ctx, sess, &dap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: path},
			Breakpoints: breakpoints,
		},
	})
	if callErr != nil {
		return nil, callErr
	}
	return resp.Body.Breakpoints, nil
}

func (h *AdapterHost) Continue(ctx context.Context, threadID int) (bool, error) {
	sess, sessErr := h.requireSession()
	if sessErr != nil {
		return false, sessErr
	}
	resp, callErr := call[*dap.ContinueResponse](ctx, sess, &dap.ContinueRequest{
		Request:   newRequest("continue"),
		Arguments: dap.ContinueArguments{ThreadId: threadID},
	})
	if callErr != nil {
		return false, callErr
	}
	return resp.Body.AllThreadsContinued, nil
}

func (h *AdapterHost) Next(ctx context.Context, threadID int) error {
	return h.control(ctx, &dap.NextRequest{Request: newRequest("next"), Arguments: dap.NextArguments{ThreadId: threadID}})
}

func (h *AdapterHost) StepIn(ctx context.Context, threadID int) error {
	return h.control(ctx, &dap.StepInRequest{Request: newRequest("stepIn"), Arguments: dap.StepInArguments{ThreadId: threadID}})
}

func (h *AdapterHost) StepOut(ctx context.Context, threadID int) error {
	return h.control(ctx, &dap.StepOutRequest{Request: newRequest("stepOut"), Arguments: dap.StepOutArguments{ThreadId: threadID}})
}

func (h *AdapterHost) Pause(ctx context.Context, threadID int) error {
	return h.control(ctx, &dap.PauseRequest{Request: newRequest("pause"), Arguments: dap.PauseArguments{ThreadId: threadID}})
}

func (h *AdapterHost) control(ctx context.Context, req dap.RequestMessage) error {
	sess, sessErr := h.requireSession()
	if sessErr != nil {
		return sessErr
	}
	_, reqErr := sess.client.Request(ctx, req)
	return reqErr
}
