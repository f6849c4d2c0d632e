/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package execstate derives a coherent view of the debug target (running, stopped, and why)
// from the notifications of the debug host and the known breakpoints.
package execstate

import (
	"context"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/go-logr/logr"

	"github.com/microsoft/debugbridge/internal/breakpoints"
	"github.com/microsoft/debugbridge/internal/debughost"
	"github.com/microsoft/debugbridge/internal/protocol"
)

// Emitter publishes outbound events.
type Emitter interface {
	Emit(event string, payload any)
}

type EmitterFunc func(event string, payload any)

func (f EmitterFunc) Emit(event string, payload any) { f(event, payload) }

type Config struct {
	Host        debughost.FrameSource
	Registry    *breakpoints.Registry
	Emitter     Emitter
	DedupWindow time.Duration
	Log         logr.Logger
}

// Machine owns the current SessionContext and applies state transitions to it.
// Debug host calls are never made while the lock is held.
type Machine struct {
	host     debughost.FrameSource
	registry *breakpoints.Registry
	emitter  Emitter
	dedup    *continuedDeduplicator
	log      logr.Logger

	mu      sync.Mutex
	session *SessionContext
}

func NewMachine(cfg Config) *Machine {
	log := cfg.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = EmitterFunc(func(string, any) {})
	}
	registry := cfg.Registry
	if registry == nil {
		registry = breakpoints.NewRegistry()
	}

	return &Machine{
		host:     cfg.Host,
		registry: registry,
		emitter:  emitter,
		dedup:    newContinuedDeduplicator(cfg.DedupWindow),
		log:      log,
	}
}

// BindHost sets the debug host used to derive execution state.
// The host usually needs the machine for its notifications, so it is often bound after construction.
func (m *Machine) BindHost(host debughost.FrameSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.host = host
}

func (m *Machine) frameSource() debughost.FrameSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.host
}

func (m *Machine) Registry() *breakpoints.Registry {
	return m.registry
}

// Session returns a snapshot of the current session identity, or nil if there is none.
func (m *Machine) Session() *SessionContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return &SessionContext{ID: m.session.ID, Name: m.session.Name, AdapterType: m.session.AdapterType, StartedAt: m.session.StartedAt}
}

// SessionStarted replaces any previous session with a fresh one in the running phase.
func (m *Machine) SessionStarted(name string, adapterType string) {
	sess := newSessionContext(name, adapterType)

	m.mu.Lock()
	previous := m.session
	m.session = sess
	m.mu.Unlock()

	m.dedup.reset()
	if previous != nil {
		m.log.Info("Debug session replaced without termination", "previous", previous.ID, "session", sess.ID)
	}
	m.log.V(1).Info("Debug session started", "session", sess.ID, "name", name, "type", adapterType)
	m.emitter.Emit(protocol.EventSessionStarted, protocol.SessionStartedEvent{SessionID: sess.ID, Name: name, Type: adapterType})
}

// Stopped records a stop reported by the debug host, then resolves the stop location
// and checks it against the breakpoint registry.
// The stop itself is committed even if the location cannot be resolved.
func (m *Machine) Stopped(ctx context.Context, reason string, threadID int, allThreadsStopped bool) {
	m.mu.Lock()
	if m.session == nil {
		m.log.Info("Stop reported without an active session, assuming one", "thread", threadID)
		m.session = newSessionContext("", "")
	}
	sess := m.session
	hostReason := reason
	sess.commit(executionState{phase: protocol.PhaseStopped, stopReason: &hostReason, threadID: &threadID})
	generation := sess.generation
	m.mu.Unlock()

	state := executionState{phase: protocol.PhaseStopped, stopReason: &hostReason, threadID: &threadID}
	loc, locErr := m.topFrameLocation(ctx, threadID)
	if locErr != nil {
		m.log.V(1).Info("Could not resolve stop location", "thread", threadID, "error", locErr.Error())
	} else if loc != nil {
		state.location = loc
		m.applyBreakpointMatch(sess, &state)
	}

	m.mu.Lock()
	committed := m.session == sess && sess.generation == generation
	if committed {
		sess.commit(state)
	}
	m.mu.Unlock()

	if !committed {
		m.log.V(1).Info("State changed while resolving stop location, location discarded", "thread", threadID)
	}

	m.log.V(1).Info("Target stopped", "reason", *state.stopReason, "thread", threadID, "atBreakpoint", state.atBreakpoint)
	m.emitter.Emit(protocol.EventStopped, protocol.StoppedEvent{
		Reason:              *state.stopReason,
		ThreadID:            threadID,
		AllThreadsStopped:   allThreadsStopped,
		Location:            state.location,
		StoppedAtBreakpoint: state.atBreakpoint,
		Breakpoint:          state.breakpoint,
	})
}

// Continued handles a continued notification from the debug host.
// It is not re-emitted if a proactive continued event was just published for the same thread.
func (m *Machine) Continued(threadID int, allThreadsContinued bool) {
	m.setRunning(threadID)

	if m.dedup.shouldSuppress(threadID) {
		m.log.V(1).Info("Suppressing duplicate continued event", "thread", threadID)
		return
	}
	m.emitter.Emit(protocol.EventContinued, protocol.ContinuedEvent{ThreadID: threadID, AllThreadsContinued: allThreadsContinued})
}

// Resumed is called after a resume command (continue or step) succeeded.
// The continued event is published right away, since some hosts report it late or not at all.
func (m *Machine) Resumed(threadID int, allThreadsContinued bool) {
	m.setRunning(threadID)
	m.dedup.record(threadID)
	m.emitter.Emit(protocol.EventContinued, protocol.ContinuedEvent{ThreadID: threadID, AllThreadsContinued: allThreadsContinued})
}

func (m *Machine) setRunning(threadID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	tid := threadID
	m.session.commit(runningState(&tid))
}

// Terminated discards the session and everything tied to it.
func (m *Machine) Terminated() {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.mu.Unlock()

	m.dedup.reset()
	if sess == nil {
		m.log.V(1).Info("Termination reported without an active session")
		return
	}

	m.log.V(1).Info("Debug session terminated", "session", sess.ID)
	m.emitter.Emit(protocol.EventSessionTerminated, protocol.SessionTerminatedEvent{SessionID: sess.ID})
}

// Output forwards debuggee output.
func (m *Machine) Output(category string, output string) {
	m.emitter.Emit(protocol.EventOutput, protocol.OutputEvent{Category: category, Output: output})
}

// Status cross-checks the committed state against the live debug host.
// A top frame that resolves is taken as proof that the target is stopped, and is committed
// (if nothing else changed meanwhile) so that stops the host never reported are not lost.
// Debug host failures never fail Status; the last known state is reported instead.
func (m *Machine) Status(ctx context.Context) protocol.Status {
	m.mu.Lock()
	sess := m.session
	if sess == nil {
		m.mu.Unlock()
		return executionState{}.status()
	}
	known := sess.state
	generation := sess.generation
	m.mu.Unlock()

	derived, derivedOK := m.deriveFromHost(ctx, sess, known)
	if !derivedOK {
		return sessionStatus(sess, presumeRunning(known))
	}

	m.mu.Lock()
	if m.session == sess && sess.generation == generation {
		sess.commit(derived)
	}
	m.mu.Unlock()

	return sessionStatus(sess, derived)
}

func sessionStatus(sess *SessionContext, state executionState) protocol.Status {
	st := state.status()
	st.SessionID = sess.ID
	st.SessionName = sess.Name
	return st
}

// presumeRunning is a heuristic: a live session whose state was never observed and whose
// frames cannot be queried is reported as running rather than stalled. It is not committed.
// A target that crashed without the host noticing would also be reported as running.
func presumeRunning(known executionState) executionState {
	if known.phase == "" || known.phase == protocol.PhaseUnknown {
		return runningState(known.threadID)
	}
	return known
}

func (m *Machine) deriveFromHost(ctx context.Context, sess *SessionContext, known executionState) (executionState, bool) {
	if m.frameSource() == nil {
		return known, false
	}

	threadID, threadErr := m.resolveThread(ctx, known)
	if threadErr != nil {
		m.log.V(1).Info("Could not determine thread for status", "error", threadErr.Error())
		return known, false
	}

	loc, locErr := m.topFrameLocation(ctx, threadID)
	if locErr != nil || loc == nil {
		return known, false
	}

	derived := known
	derived.phase = protocol.PhaseStopped
	derived.location = loc
	derived.threadID = &threadID

	sameLocation := known.location != nil && *known.location == *loc
	switch {
	case known.phase != protocol.PhaseStopped || known.stopReason == nil:
		// The stop was never reported; the reason can only come from a breakpoint match.
		unknownReason := protocol.StopReasonUnknown
		derived.stopReason = &unknownReason
		derived.atBreakpoint = false
		derived.breakpoint = nil
	case !sameLocation:
		// The target moved without telling us.
		if *known.stopReason == protocol.StopReasonBreakpoint {
			unknownReason := protocol.StopReasonUnknown
			derived.stopReason = &unknownReason
		}
		derived.atBreakpoint = false
		derived.breakpoint = nil
	}
	m.applyBreakpointMatch(sess, &derived)
	return derived, true
}

func (m *Machine) resolveThread(ctx context.Context, known executionState) (int, error) {
	if known.threadID != nil {
		return *known.threadID, nil
	}

	host := m.frameSource()
	if host == nil {
		return 0, &protocol.HostError{Message: "No active debug session"}
	}
	threads, threadsErr := host.Threads(ctx)
	if threadsErr != nil {
		return 0, threadsErr
	}
	if len(threads) == 0 {
		return 0, &protocol.HostError{Message: "debug target has no threads"}
	}
	return threads[0].Id, nil
}

func (m *Machine) topFrameLocation(ctx context.Context, threadID int) (*protocol.Location, error) {
	host := m.frameSource()
	if host == nil {
		return nil, nil
	}

	frames, stackErr := host.StackTrace(ctx, threadID, 1)
	if stackErr != nil {
		return nil, stackErr
	}
	if len(frames) == 0 {
		return nil, nil
	}
	return frameLocation(frames[0]), nil
}

func frameLocation(frame dap.StackFrame) *protocol.Location {
	if frame.Source == nil || frame.Line <= 0 {
		return nil
	}
	file := frame.Source.Path
	if file == "" {
		file = frame.Source.Name
	}
	if file == "" {
		return nil
	}
	return &protocol.Location{
		File:     breakpoints.NormalizePath(file),
		Line:     frame.Line,
		Function: frame.Name,
		Column:   frame.Column,
	}
}

// applyBreakpointMatch upgrades the stop reason when the stop location has a known breakpoint.
func (m *Machine) applyBreakpointMatch(sess *SessionContext, state *executionState) {
	if state.location == nil {
		return
	}

	rec, found := m.registry.Lookup(state.location.File, state.location.Line)
	if !found {
		return
	}

	reason := protocol.StopReasonBreakpoint
	info := m.breakpointInfo(sess, rec)
	state.stopReason = &reason
	state.atBreakpoint = true
	state.breakpoint = &info
}
