/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package execstate

import (
	"github.com/google/go-dap"

	"github.com/microsoft/debugbridge/internal/breakpoints"
	"github.com/microsoft/debugbridge/internal/protocol"
)

// RecordVerified caches the debug host's verdict on the source breakpoints of one file.
// The cache lives as long as the current session.
func (m *Machine) RecordVerified(file string, results []dap.Breakpoint, requestedLines []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}

	for i, bp := range results {
		line := bp.Line
		if line == 0 && i < len(requestedLines) {
			// Adapters may omit the line of breakpoints they could not verify.
			line = requestedLines[i]
		}
		if line > 0 {
			m.session.verified[verifiedKey(file, line)] = bp.Verified
		}
	}
}

// ForgetVerified drops cached verdicts for removed breakpoints.
func (m *Machine) ForgetVerified(file string, lines []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	for _, line := range lines {
		delete(m.session.verified, verifiedKey(file, line))
	}
}

// BreakpointInfo describes a registry record, including its verification state in the current session.
func (m *Machine) BreakpointInfo(rec breakpoints.Record) protocol.Breakpoint {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	return m.breakpointInfo(sess, rec)
}

func (m *Machine) breakpointInfo(sess *SessionContext, rec breakpoints.Record) protocol.Breakpoint {
	info := rec.Info()
	if sess == nil {
		return info
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if verified, found := sess.verified[verifiedKey(rec.File, rec.Line)]; found {
		info.Verified = &verified
	}
	return info
}

// SetDataBreakpoints remembers the data breakpoints of the current session.
func (m *Machine) SetDataBreakpoints(bps []dap.DataBreakpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	m.session.dataBreakpoints = append([]dap.DataBreakpoint(nil), bps...)
}

func (m *Machine) DataBreakpoints() []dap.DataBreakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return append([]dap.DataBreakpoint(nil), m.session.dataBreakpoints...)
}
