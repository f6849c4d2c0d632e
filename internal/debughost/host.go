/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package debughost defines the capability the bridge needs from the component
// that owns the real debugging session.
package debughost

import (
	"context"

	"github.com/google/go-dap"
)

// FrameSource is the part of the debug host used to derive execution state.
type FrameSource interface {
	Threads(ctx context.Context) ([]dap.Thread, error)
	// StackTrace returns up to levels frames (all frames if levels is 0), innermost first.
	StackTrace(ctx context.Context, threadID int, levels int) ([]dap.StackFrame, error)
}

// VariableSource is the part of the debug host used to expand scopes and variables.
type VariableSource interface {
	Scopes(ctx context.Context, frameID int) ([]dap.Scope, error)
	Variables(ctx context.Context, variablesReference int) ([]dap.Variable, error)
}

// Host is the full debug host capability. Every method fails with an error
// (typically *protocol.HostError) when there is no active session.
type Host interface {
	FrameSource
	VariableSource

	HasActiveSession() bool

	Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error)
	Disassemble(ctx context.Context, memoryReference string, instructionOffset int, count int) ([]dap.DisassembledInstruction, error)
	ReadMemory(ctx context.Context, memoryReference string, offset int, count int) (*dap.ReadMemoryResponseBody, error)

	DataBreakpointInfo(ctx context.Context, name string, variablesReference int, frameID int) (*dap.DataBreakpointInfoResponseBody, error)
	// SetDataBreakpoints replaces all data breakpoints of the session.
	SetDataBreakpoints(ctx context.Context, breakpoints []dap.DataBreakpoint) ([]dap.Breakpoint, error)
	// SetBreakpoints replaces all source breakpoints of one file.
	SetBreakpoints(ctx context.Context, path string, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error)

	// Continue resumes the target and reports whether all threads were resumed, not only threadID.
	Continue(ctx context.Context, threadID int) (bool, error)
	Next(ctx context.Context, threadID int) error
	StepIn(ctx context.Context, threadID int) error
	StepOut(ctx context.Context, threadID int) error
	Pause(ctx context.Context, threadID int) error

	// Start launches (or attaches to) a debug target.
	Start(ctx context.Context, cfg LaunchConfig) error
}

// LaunchConfig describes how to start a debug session.
type LaunchConfig struct {
	Name string `json:"name" yaml:"name"`
	// Debug adapter type, e.g. "go" or "cppdbg".
	Type string `json:"type" yaml:"type"`
	// "launch" or "attach".
	Request string `json:"request" yaml:"request"`
	// Adapter-specific arguments, passed to the adapter verbatim.
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

const (
	RequestLaunch = "launch"
	RequestAttach = "attach"
)

// Notifications is implemented by the component that tracks execution state.
// A host calls it when the debug target changes state.
type Notifications interface {
	SessionStarted(name string, adapterType string)
	Stopped(ctx context.Context, reason string, threadID int, allThreadsStopped bool)
	Continued(threadID int, allThreadsContinued bool)
	Terminated()
	Output(category string, output string)
}
