/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package execstate

import (
	"fmt"
	"time"

	"github.com/google/go-dap"
	"github.com/google/uuid"

	"github.com/microsoft/debugbridge/internal/breakpoints"
	"github.com/microsoft/debugbridge/internal/protocol"
)

// executionState is the derived view of the debug target. The zero value is the "unknown" state.
type executionState struct {
	phase        string
	stopReason   *string
	location     *protocol.Location
	atBreakpoint bool
	threadID     *int
	breakpoint   *protocol.Breakpoint
}

func (s executionState) status() protocol.Status {
	phase := s.phase
	if phase == "" {
		phase = protocol.PhaseUnknown
	}
	return protocol.Status{
		Phase:               phase,
		StopReason:          s.stopReason,
		StopLocation:        s.location,
		StoppedAtBreakpoint: s.atBreakpoint,
		ThreadID:            s.threadID,
		Breakpoint:          s.breakpoint,
	}
}

func runningState(threadID *int) executionState {
	return executionState{phase: protocol.PhaseRunning, threadID: threadID}
}

// SessionContext holds everything tied to one debug session.
// It is created when the session starts and discarded when it terminates.
// All fields are guarded by the owning Machine.
type SessionContext struct {
	ID          string
	Name        string
	AdapterType string
	StartedAt   time.Time

	state executionState
	// Incremented on every committed state change; lets slow derivations detect that they are stale.
	generation uint64

	dataBreakpoints []dap.DataBreakpoint
	verified        map[string]bool
}

func newSessionContext(name, adapterType string) *SessionContext {
	return &SessionContext{
		ID:          uuid.NewString(),
		Name:        name,
		AdapterType: adapterType,
		StartedAt:   time.Now(),
		state:       runningState(nil),
		verified:    make(map[string]bool),
	}
}

func (s *SessionContext) commit(state executionState) {
	s.state = state
	s.generation++
}

func verifiedKey(file string, line int) string {
	return fmt.Sprintf("%s:%d", breakpoints.NormalizePath(file), line)
}
