/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package protocol

const (
	NamespaceSeparator = ":"

	NamespaceDebug  = "dap"
	NamespaceBridge = "bridge"

	EventSessionStarted    = "dap:session_started"
	EventSessionTerminated = "dap:session_terminated"
	EventStopped           = "dap:stopped"
	EventContinued         = "dap:continued"
	EventBreakpoint        = "dap:breakpoint"
	EventOutput            = "dap:output"
	EventProfilesChanged   = "bridge:profiles_changed"
)

const (
	PhaseUnknown = "unknown"
	PhaseRunning = "running"
	PhaseStopped = "stopped"
)

const (
	StopReasonBreakpoint = "breakpoint"
	// Used when a stop was detected by querying the host rather than reported by it.
	StopReasonUnknown = "unknown"
)

type Location struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function,omitempty"`
	Column   int    `json:"column,omitempty"`
}

type Breakpoint struct {
	File         string  `json:"file"`
	Line         int     `json:"line"`
	Enabled      bool    `json:"enabled"`
	Condition    *string `json:"condition"`
	HitCondition *string `json:"hitCondition"`
	LogMessage   *string `json:"logMessage"`
	// Set once the debug host has confirmed the breakpoint.
	Verified *bool `json:"verified,omitempty"`
}

// Status is the data of a successful status response.
type Status struct {
	Phase               string      `json:"phase"`
	StopReason          *string     `json:"stop_reason"`
	StopLocation        *Location   `json:"stop_location"`
	StoppedAtBreakpoint bool        `json:"stopped_at_breakpoint"`
	ThreadID            *int        `json:"thread_id,omitempty"`
	Breakpoint          *Breakpoint `json:"breakpoint,omitempty"`
	SessionID           string      `json:"session_id,omitempty"`
	SessionName         string      `json:"session_name,omitempty"`
}

type SessionStartedEvent struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name,omitempty"`
	Type      string `json:"type,omitempty"`
}

type SessionTerminatedEvent struct {
	SessionID string `json:"sessionId"`
}

type StoppedEvent struct {
	Reason              string      `json:"reason"`
	ThreadID            int         `json:"threadId"`
	AllThreadsStopped   bool        `json:"allThreadsStopped,omitempty"`
	Location            *Location   `json:"location"`
	StoppedAtBreakpoint bool        `json:"stoppedAtBreakpoint"`
	Breakpoint          *Breakpoint `json:"breakpoint,omitempty"`
}

type ContinuedEvent struct {
	ThreadID            int  `json:"threadId"`
	AllThreadsContinued bool `json:"allThreadsContinued,omitempty"`
}

const (
	BreakpointNew     = "new"
	BreakpointChanged = "changed"
	BreakpointRemoved = "removed"
)

type BreakpointEvent struct {
	Reason     string     `json:"reason"`
	Breakpoint Breakpoint `json:"breakpoint"`
}

type OutputEvent struct {
	Category string `json:"category,omitempty"`
	Output   string `json:"output"`
}

type ProfilesChangedEvent struct {
	Profiles []string `json:"profiles"`
}
