/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package server

import (
	"github.com/google/go-dap"

	"github.com/microsoft/debugbridge/internal/debughost"
)

// Response data shapes. Commands not listed here respond with protocol.Status,
// breakpoints.Result, or the debug adapter's own response body.

type ScopeVariables struct {
	Name               string         `json:"name"`
	VariablesReference int            `json:"variablesReference"`
	Variables          []dap.Variable `json:"variables"`
}

type VariablesResult struct {
	FrameID int              `json:"frameId"`
	Scopes  []ScopeVariables `json:"scopes"`
}

type CallStackResult struct {
	ThreadID int              `json:"threadId"`
	Frames   []dap.StackFrame `json:"frames"`
}

type ThreadsResult struct {
	Threads []dap.Thread `json:"threads"`
}

type RegistersResult struct {
	FrameID   int                        `json:"frameId"`
	Registers debughost.RegisterCategory `json:"registers"`
}

type DisassembleResult struct {
	Address      string                        `json:"address"`
	Instructions []dap.DisassembledInstruction `json:"instructions"`
}

type DataBreakpointsResult struct {
	Breakpoints []dap.Breakpoint `json:"breakpoints"`
}

type ControlResult struct {
	Action   string `json:"action"`
	ThreadID int    `json:"threadId"`
}

type ProfilesResult struct {
	Profiles []debughost.LaunchConfig `json:"profiles"`
}

type StartResult struct {
	Profile string `json:"profile"`
	Type    string `json:"type"`
	Request string `json:"request"`
}
