/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package protocol

import (
	"bytes"
	"encoding/json"
	"slices"
)

const (
	CmdStatus             = "status"
	CmdVariables          = "variables"
	CmdEvaluate           = "evaluate"
	CmdCallStack          = "callstack"
	CmdThreads            = "threads"
	CmdRegisters          = "registers"
	CmdDisassemble        = "disassemble"
	CmdBreakpoints        = "breakpoints"
	CmdDataBreakpointInfo = "dataBreakpointInfo"
	CmdSetDataBreakpoints = "setDataBreakpoints"
	CmdControl            = "control"
	CmdMemory             = "memory"
	CmdProfiles           = "profiles"
	CmdStart              = "start"
)

// CommandData is the typed payload of a request. Every command has exactly one payload type.
type CommandData interface {
	Command() string
	validate() error
}

type StatusData struct{}

type VariablesData struct {
	// If set, only the variable with this name is returned.
	Name string `json:"name,omitempty"`
}

type EvaluateData struct {
	Expression string `json:"expression"`
	FrameID    *int   `json:"frameId,omitempty"`
	Context    string `json:"context,omitempty"`
}

type CallStackData struct {
	ThreadID *int `json:"threadId,omitempty"`
	Levels   int  `json:"levels,omitempty"`
}

type ThreadsData struct{}

type RegistersData struct {
	FrameID  *int `json:"frameId,omitempty"`
	MaxDepth int  `json:"maxDepth,omitempty"`
}

type DisassembleData struct {
	// Memory reference to start at; defaults to the instruction pointer of the top frame.
	Address string `json:"address,omitempty"`
	Count   int    `json:"count,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

const (
	BreakpointsList  = "list"
	BreakpointsSet   = "set"
	BreakpointsClear = "clear"
)

type BreakpointsData struct {
	Action    string  `json:"action"`
	File      string  `json:"file,omitempty"`
	Lines     []int   `json:"lines,omitempty"`
	Condition *string `json:"condition,omitempty"`
}

type DataBreakpointInfoData struct {
	Name               string `json:"name"`
	VariablesReference *int   `json:"variablesReference,omitempty"`
	FrameID            *int   `json:"frameId,omitempty"`
}

type DataBreakpointSpec struct {
	DataID       string `json:"dataId"`
	AccessType   string `json:"accessType,omitempty"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hitCondition,omitempty"`
}

type SetDataBreakpointsData struct {
	Breakpoints []DataBreakpointSpec `json:"breakpoints"`
}

const (
	ControlContinue = "continue"
	ControlStepOver = "stepOver"
	ControlStepIn   = "stepIn"
	ControlStepOut  = "stepOut"
	ControlPause    = "pause"
)

type ControlData struct {
	Action   string `json:"action"`
	ThreadID *int   `json:"threadId,omitempty"`
}

// Resumes reports whether the action lets the target run.
func (c *ControlData) Resumes() bool {
	return c.Action != ControlPause
}

type MemoryData struct {
	Address string `json:"address"`
	Count   int    `json:"count,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

type ProfilesData struct{}

type StartData struct {
	Profile string `json:"profile,omitempty"`
}

func (*StatusData) Command() string             { return CmdStatus }
func (*VariablesData) Command() string          { return CmdVariables }
func (*EvaluateData) Command() string           { return CmdEvaluate }
func (*CallStackData) Command() string          { return CmdCallStack }
func (*ThreadsData) Command() string            { return CmdThreads }
func (*RegistersData) Command() string          { return CmdRegisters }
func (*DisassembleData) Command() string        { return CmdDisassemble }
func (*BreakpointsData) Command() string        { return CmdBreakpoints }
func (*DataBreakpointInfoData) Command() string { return CmdDataBreakpointInfo }
func (*SetDataBreakpointsData) Command() string { return CmdSetDataBreakpoints }
func (*ControlData) Command() string            { return CmdControl }
func (*MemoryData) Command() string             { return CmdMemory }
func (*ProfilesData) Command() string           { return CmdProfiles }
func (*StartData) Command() string              { return CmdStart }

func (*StatusData) validate() error    { return nil }
func (*VariablesData) validate() error { return nil }
func (*ThreadsData) validate() error   { return nil }
func (*ProfilesData) validate() error  { return nil }
func (*StartData) validate() error     { return nil }

func (d *EvaluateData) validate() error {
	if d.Expression == "" {
		return NewProtocolError("evaluate requires an expression")
	}
	return nil
}

func (d *CallStackData) validate() error {
	if d.Levels < 0 {
		return NewProtocolError("callstack levels must not be negative")
	}
	return nil
}

func (d *RegistersData) validate() error {
	if d.MaxDepth < 0 {
		return NewProtocolError("registers maxDepth must not be negative")
	}
	return nil
}

func (d *DisassembleData) validate() error {
	if d.Count < 0 {
		return NewProtocolError("disassemble count must not be negative")
	}
	return nil
}

func (d *BreakpointsData) validate() error {
	switch d.Action {
	case BreakpointsList:
		return nil
	case BreakpointsSet:
		if d.File == "" {
			return NewProtocolError("breakpoints set requires a file")
		}
		if len(d.Lines) == 0 {
			return NewProtocolError("breakpoints set requires at least one line")
		}
	case BreakpointsClear:
		if d.File == "" {
			return NewProtocolError("breakpoints clear requires a file")
		}
	default:
		return NewProtocolError("unknown breakpoints action '%s'", d.Action)
	}

	if slices.ContainsFunc(d.Lines, func(l int) bool { return l < 1 }) {
		return NewProtocolError("breakpoint lines must be 1 or greater")
	}
	return nil
}

func (d *DataBreakpointInfoData) validate() error {
	if d.Name == "" {
		return NewProtocolError("dataBreakpointInfo requires a name")
	}
	return nil
}

func (d *SetDataBreakpointsData) validate() error {
	for i, bp := range d.Breakpoints {
		if bp.DataID == "" {
			return NewProtocolError("data breakpoint %d has no dataId", i)
		}
		switch bp.AccessType {
		case "", "read", "write", "readWrite":
		default:
			return NewProtocolError("data breakpoint %d has unknown accessType '%s'", i, bp.AccessType)
		}
	}
	return nil
}

func (d *ControlData) validate() error {
	switch d.Action {
	case ControlContinue, ControlStepOver, ControlStepIn, ControlStepOut, ControlPause:
		return nil
	default:
		return NewProtocolError("unknown control action '%s'", d.Action)
	}
}

func (d *MemoryData) validate() error {
	if d.Address == "" {
		return NewProtocolError("memory requires an address")
	}
	if d.Count < 0 {
		return NewProtocolError("memory count must not be negative")
	}
	return nil
}

var commandFactories = map[string]func() CommandData{
	CmdStatus:             func() CommandData { return &StatusData{} },
	CmdVariables:          func() CommandData { return &VariablesData{} },
	CmdEvaluate:           func() CommandData { return &EvaluateData{} },
	CmdCallStack:          func() CommandData { return &CallStackData{} },
	CmdThreads:            func() CommandData { return &ThreadsData{} },
	CmdRegisters:          func() CommandData { return &RegistersData{} },
	CmdDisassemble:        func() CommandData { return &DisassembleData{} },
	CmdBreakpoints:        func() CommandData { return &BreakpointsData{} },
	CmdDataBreakpointInfo: func() CommandData { return &DataBreakpointInfoData{} },
	CmdSetDataBreakpoints: func() CommandData { return &SetDataBreakpointsData{} },
	CmdControl:            func() CommandData { return &ControlData{} },
	CmdMemory:             func() CommandData { return &MemoryData{} },
	CmdProfiles:           func() CommandData { return &ProfilesData{} },
	CmdStart:              func() CommandData { return &StartData{} },
}

// Commands returns the names of every known command, sorted.
func Commands() []string {
	names := make([]string, 0, len(commandFactories))
	for name := range commandFactories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ParseCommandData decodes and validates the payload of a request.
// Unknown commands, unknown fields and invalid values are reported as *ProtocolError.
func ParseCommandData(command string, raw json.RawMessage) (CommandData, error) {
	factory, found := commandFactories[command]
	if !found {
		return nil, NewProtocolError("unknown command '%s'", command)
	}

	data := factory()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if decodeErr := dec.Decode(data); decodeErr != nil {
			return nil, NewProtocolError("invalid data for '%s': %v", command, decodeErr)
		}
	}

	if validateErr := data.validate(); validateErr != nil {
		return nil, validateErr
	}
	return data, nil
}
