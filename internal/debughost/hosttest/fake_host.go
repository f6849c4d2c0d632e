/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package hosttest provides an in-memory debug host for tests.
package hosttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/go-dap"

	"github.com/microsoft/debugbridge/internal/debughost"
	"github.com/microsoft/debugbridge/internal/protocol"
)

var errNoSession = &protocol.HostError{Message: "No active debug session"}

// FakeHost is a programmable debughost.Host. The zero value is not usable; call NewFakeHost.
type FakeHost struct {
	mu sync.Mutex

	active      bool
	threads     []dap.Thread
	frames      map[int][]dap.StackFrame
	stackErr    error
	scopes      map[int][]dap.Scope
	variables   map[int][]dap.Variable
	evaluations map[string]dap.EvaluateResponseBody
	memory      map[string]string

	// Calls records control and breakpoint calls, e.g. "continue 1" or "setBreakpoints a.c [10]".
	calls []string

	sourceBreakpoints map[string][]dap.SourceBreakpoint
	dataBreakpoints   []dap.DataBreakpoint
	started           []debughost.LaunchConfig
	controlErr        error
	startErr          error
	singleThreaded    bool

	notifications debughost.Notifications
}

func NewFakeHost() *FakeHost {
	return &FakeHost{
		frames:            map[int][]dap.StackFrame{},
		scopes:            map[int][]dap.Scope{},
		variables:         map[int][]dap.Variable{},
		evaluations:       map[string]dap.EvaluateResponseBody{},
		memory:            map[string]string{},
		sourceBreakpoints: map[string][]dap.SourceBreakpoint{},
	}
}

func (h *FakeHost) SetActive(active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = active
}

// SetNotifications makes Start report the new session to n.
func (h *FakeHost) SetNotifications(n debughost.Notifications) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifications = n
}

func (h *FakeHost) FailStart(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.startErr = err
}

func (h *FakeHost) SetThreads(threads ...dap.Thread) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.threads = threads
}

// SetTopFrame makes the thread's stack consist of a single frame at the given location.
func (h *FakeHost) SetTopFrame(threadID int, frameID int, file string, line int, function string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames[threadID] = []dap.StackFrame{{
		Id:     frameID,
		Name:   function,
		Source: &dap.Source{Path: file},
		Line:   line,
		Column: 1,
	}}
}

func (h *FakeHost) ClearFrames() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = map[int][]dap.StackFrame{}
}

// FailStackTrace makes StackTrace fail with err (nil restores normal behavior).
func (h *FakeHost) FailStackTrace(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stackErr = err
}

// SetSingleThreaded makes Continue report that only the requested thread was resumed.
func (h *FakeHost) SetSingleThreaded(singleThreaded bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.singleThreaded = singleThreaded
}

func (h *FakeHost) FailControl(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controlErr = err
}

func (h *FakeHost) SetScopes(frameID int, scopes ...dap.Scope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scopes[frameID] = scopes
}

func (h *FakeHost) SetVariables(ref int, vars ...dap.Variable) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.variables[ref] = vars
}

func (h *FakeHost) SetEvaluation(expression string, result dap.EvaluateResponseBody) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evaluations[expression] = result
}

func (h *FakeHost) SetMemory(address string, base64Data string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.memory[address] = base64Data
}

func (h *FakeHost) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *FakeHost) SourceBreakpoints(path string) []dap.SourceBreakpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]dap.SourceBreakpoint(nil), h.sourceBreakpoints[path]...)
}

func (h *FakeHost) DataBreakpoints() []dap.DataBreakpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]dap.DataBreakpoint(nil), h.dataBreakpoints...)
}

func (h *FakeHost) Started() []debughost.LaunchConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]debughost.LaunchConfig(nil), h.started...)
}

func (h *FakeHost) HasActiveSession() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

func (h *FakeHost) Threads(_ context.Context) ([]dap.Thread, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil, errNoSession
	}
	return append([]dap.Thread(nil), h.threads...), nil
}

func (h *FakeHost) StackTrace(_ context.Context, threadID int, levels int) ([]dap.StackFrame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil, errNoSession
	}
	if h.stackErr != nil {
		return nil, h.stackErr
	}
	frames, found := h.frames[threadID]
	if !found {
		return nil, &protocol.HostError{Message: fmt.Sprintf("Thread %d is not paused", threadID)}
	}
	if levels > 0 && levels < len(frames) {
		frames = frames[:levels]
	}
	return append([]dap.StackFrame(nil), frames...), nil
}

func (h *FakeHost) Scopes(_ context.Context, frameID int) ([]dap.Scope, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil, errNoSession
	}
	return h.scopes[frameID], nil
}

func (h *FakeHost) Variables(_ context.Context, ref int) ([]dap.Variable, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil, errNoSession
	}
	vars, found := h.variables[ref]
	if !found {
		return nil, &protocol.HostError{Message: fmt.Sprintf("Invalid variables reference %d", ref)}
	}
	return vars, nil
}

func (h *FakeHost) Evaluate(_ context.Context, expression string, _ int, _ string) (*dap.EvaluateResponseBody, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil, errNoSession
	}
	result, found := h.evaluations[expression]
	if !found {
		return nil, &protocol.HostError{Message: fmt.Sprintf("could not evaluate '%s'", expression)}
	}
	return &result, nil
}

func (h *FakeHost) Disassemble(_ context.Context, memoryReference string, _ int, count int) ([]dap.DisassembledInstruction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil, errNoSession
	}
	instructions := make([]dap.DisassembledInstruction, count)
	for i := range instructions {
		instructions[i] = dap.DisassembledInstruction{Address: fmt.Sprintf("%s+%d", memoryReference, i), Instruction: "nop"}
	}
	return instructions, nil
}

func (h *FakeHost) ReadMemory(_ context.Context, memoryReference string, _ int, _ int) (*dap.ReadMemoryResponseBody, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil, errNoSession
	}
	data, found := h.memory[memoryReference]
	if !found {
		return nil, &protocol.HostError{Message: fmt.Sprintf("Unable to read memory at %s", memoryReference)}
	}
	return &dap.ReadMemoryResponseBody{Address: memoryReference, Data: data}, nil
}

func (h *FakeHost) DataBreakpointInfo(_ context.Context, name string, _ int, _ int) (*dap.DataBreakpointInfoResponseBody, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil, errNoSession
	}
	return &dap.DataBreakpointInfoResponseBody{
		DataId:      "data:" + name,
		Description: name,
		AccessTypes: []dap.DataBreakpointAccessType{"write", "readWrite"},
	}, nil
}

func (h *FakeHost) SetDataBreakpoints(_ context.Context, breakpoints []dap.DataBreakpoint) ([]dap.Breakpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil, errNoSession
	}
	h.dataBreakpoints = append([]dap.DataBreakpoint(nil), breakpoints...)
	h.calls = append(h.calls, fmt.Sprintf("setDataBreakpoints %d", len(breakpoints)))
	result := make([]dap.Breakpoint, len(breakpoints))
	for i := range breakpoints {
		result[i] = dap.Breakpoint{Id: i + 1, Verified: true}
	}
	return result, nil
}

func (h *FakeHost) SetBreakpoints(_ context.Context, path string, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lines := make([]int, len(breakpoints))
	result := make([]dap.Breakpoint, len(breakpoints))
	for i, bp := range breakpoints {
		lines[i] = bp.Line
		result[i] = dap.Breakpoint{Id: i + 1, Verified: h.active, Line: bp.Line, Source: &dap.Source{Path: path}}
	}
	h.sourceBreakpoints[path] = append([]dap.SourceBreakpoint(nil), breakpoints...)
	h.calls = append(h.calls, fmt.Sprintf("setBreakpoints %s %v", path, lines))
	return result, nil
}

func (h *FakeHost) control(name string, threadID int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return errNoSession
	}
	if h.controlErr != nil {
		return h.controlErr
	}
	h.calls = append(h.calls, fmt.Sprintf("%s %d", name, threadID))
	return nil
}

func (h *FakeHost) Continue(_ context.Context, threadID int) (bool, error) {
	if controlErr := h.control("continue", threadID); controlErr != nil {
		return false, controlErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.singleThreaded, nil
}

func (h *FakeHost) Next(_ context.Context, threadID int) error    { return h.control("next", threadID) }
func (h *FakeHost) StepIn(_ context.Context, threadID int) error  { return h.control("stepIn", threadID) }
func (h *FakeHost) StepOut(_ context.Context, threadID int) error { return h.control("stepOut", threadID) }
func (h *FakeHost) Pause(_ context.Context, threadID int) error   { return h.control("pause", threadID) }

func (h *FakeHost) Start(_ context.Context, cfg debughost.LaunchConfig) error {
	h.mu.Lock()
	if h.startErr != nil {
		h.mu.Unlock()
		return h.startErr
	}
	h.started = append(h.started, cfg)
	h.active = true
	h.calls = append(h.calls, "start "+cfg.Name)
	n := h.notifications
	h.mu.Unlock()

	if n != nil {
		n.SessionStarted(cfg.Name, cfg.Type)
	}
	return nil
}

var _ debughost.Host = (*FakeHost)(nil)
