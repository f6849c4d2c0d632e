/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package server

import (
	"context"
	"fmt"

	"github.com/google/go-dap"

	"github.com/microsoft/debugbridge/internal/breakpoints"
	"github.com/microsoft/debugbridge/internal/debughost"
	"github.com/microsoft/debugbridge/internal/protocol"
	"github.com/microsoft/debugbridge/pkg/pointers"
)

const (
	defaultDisassembleCount = 20
	defaultMemoryCount      = 64
)

// execute runs one parsed command. Debug host errors are returned as they are,
// so that their message reaches the client verbatim.
func (s *Server) execute(ctx context.Context, data protocol.CommandData) (any, error) {
	switch d := data.(type) {
	case *protocol.StatusData:
		return s.machine.Status(ctx), nil
	case *protocol.VariablesData:
		return s.variables(ctx, d)
	case *protocol.EvaluateData:
		return s.evaluate(ctx, d)
	case *protocol.CallStackData:
		return s.callStack(ctx, d)
	case *protocol.ThreadsData:
		threads, threadsErr := s.host.Threads(ctx)
		if threadsErr != nil {
			return nil, threadsErr
		}
		return ThreadsResult{Threads: nonNil(threads)}, nil
	case *protocol.RegistersData:
		return s.registers(ctx, d)
	case *protocol.DisassembleData:
		return s.disassemble(ctx, d)
	case *protocol.BreakpointsData:
		return s.breakpoints(ctx, d)
	case *protocol.DataBreakpointInfoData:
		return s.host.DataBreakpointInfo(ctx, d.Name, pointers.GetValueOrDefault(d.VariablesReference, 0), pointers.GetValueOrDefault(d.FrameID, 0))
	case *protocol.SetDataBreakpointsData:
		return s.setDataBreakpoints(ctx, d)
	case *protocol.ControlData:
		return s.control(ctx, d)
	case *protocol.MemoryData:
		count := d.Count
		if count == 0 {
			count = defaultMemoryCount
		}
		return s.host.ReadMemory(ctx, d.Address, d.Offset, count)
	case *protocol.ProfilesData:
		return ProfilesResult{Profiles: nonNil(s.profiles.List())}, nil
	case *protocol.StartData:
		return s.start(ctx, d)
	default:
		return nil, protocol.NewProtocolError("command '%s' is not supported by this server", data.Command())
	}
}

// resolveThread picks the thread a command applies to: the requested one, else the thread of the
// last known stop, else the first thread of the target.
func (s *Server) resolveThread(ctx context.Context, requested *int) (int, error) {
	if requested != nil {
		return *requested, nil
	}
	if st := s.machine.Status(ctx); st.ThreadID != nil {
		return *st.ThreadID, nil
	}

	threads, threadsErr := s.host.Threads(ctx)
	if threadsErr != nil {
		return 0, threadsErr
	}
	if len(threads) == 0 {
		return 0, &protocol.HostError{Message: "Debug target has no threads"}
	}
	return threads[0].Id, nil
}

func (s *Server) topFrame(ctx context.Context) (dap.StackFrame, error) {
	threadID, threadErr := s.resolveThread(ctx, nil)
	if threadErr != nil {
		return dap.StackFrame{}, threadErr
	}
	frames, stackErr := s.host.StackTrace(ctx, threadID, 1)
	if stackErr != nil {
		return dap.StackFrame{}, stackErr
	}
	if len(frames) == 0 {
		return dap.StackFrame{}, &protocol.HostError{Message: fmt.Sprintf("Thread %d has no stack frames", threadID)}
	}
	return frames[0], nil
}

func (s *Server) frameID(ctx context.Context, requested *int) (int, error) {
	if requested != nil {
		return *requested, nil
	}
	frame, frameErr := s.topFrame(ctx)
	if frameErr != nil {
		return 0, frameErr
	}
	return frame.Id, nil
}

func (s *Server) variables(ctx context.Context, d *protocol.VariablesData) (any, error) {
	frameID, frameErr := s.frameID(ctx, nil)
	if frameErr != nil {
		return nil, frameErr
	}
	scopes, scopesErr := s.host.Scopes(ctx, frameID)
	if scopesErr != nil {
		return nil, scopesErr
	}

	result := VariablesResult{FrameID: frameID, Scopes: []ScopeVariables{}}
	for _, scope := range scopes {
		if scope.VariablesReference <= 0 {
			continue
		}
		vars, varsErr := s.host.Variables(ctx, scope.VariablesReference)
		if varsErr != nil {
			return nil, varsErr
		}

		if d.Name != "" {
			for _, v := range vars {
				if v.Name == d.Name {
					return v, nil
				}
			}
			continue
		}
		result.Scopes = append(result.Scopes, ScopeVariables{
			Name:               scope.Name,
			VariablesReference: scope.VariablesReference,
			Variables:          nonNil(vars),
		})
	}

	if d.Name != "" {
		return nil, &protocol.NotFoundError{Kind: "variable", Name: d.Name}
	}
	return result, nil
}

func (s *Server) evaluate(ctx context.Context, d *protocol.EvaluateData) (any, error) {
	frameID := 0
	if d.FrameID != nil {
		frameID = *d.FrameID
	} else if frame, frameErr := s.topFrame(ctx); frameErr == nil {
		frameID = frame.Id
	}
	evalContext := d.Context
	if evalContext == "" {
		evalContext = "repl"
	}
	return s.host.Evaluate(ctx, d.Expression, frameID, evalContext)
}

func (s *Server) callStack(ctx context.Context, d *protocol.CallStackData) (any, error) {
	threadID, threadErr := s.resolveThread(ctx, d.ThreadID)
	if threadErr != nil {
		return nil, threadErr
	}
	frames, stackErr := s.host.StackTrace(ctx, threadID, d.Levels)
	if stackErr != nil {
		return nil, stackErr
	}
	return CallStackResult{ThreadID: threadID, Frames: nonNil(frames)}, nil
}

func (s *Server) registers(ctx context.Context, d *protocol.RegistersData) (any, error) {
	frameID, frameErr := s.frameID(ctx, d.FrameID)
	if frameErr != nil {
		return nil, frameErr
	}
	tree, treeErr := debughost.BuildRegisterTree(ctx, s.host, frameID, d.MaxDepth)
	if treeErr != nil {
		return nil, treeErr
	}
	return RegistersResult{FrameID: frameID, Registers: tree}, nil
}

func (s *Server) disassemble(ctx context.Context, d *protocol.DisassembleData) (any, error) {
	address := d.Address
	if address == "" {
		frame, frameErr := s.topFrame(ctx)
		if frameErr != nil {
			return nil, frameErr
		}
		if frame.InstructionPointerReference == "" {
			return nil, &protocol.HostError{Message: "Top frame has no instruction pointer; specify an address"}
		}
		address = frame.InstructionPointerReference
	}
	count := d.Count
	if count == 0 {
		count = defaultDisassembleCount
	}

	instructions, disErr := s.host.Disassemble(ctx, address, d.Offset, count)
	if disErr != nil {
		return nil, disErr
	}
	return DisassembleResult{Address: address, Instructions: nonNil(instructions)}, nil
}

func (s *Server) breakpoints(ctx context.Context, d *protocol.BreakpointsData) (any, error) {
	registry := s.machine.Registry()

	switch d.Action {
	case protocol.BreakpointsList:
		recs := registry.List()
		infos := make([]protocol.Breakpoint, len(recs))
		for i, rec := range recs {
			infos[i] = s.machine.BreakpointInfo(rec)
		}
		return breakpoints.Result{Breakpoints: infos}, nil

	case protocol.BreakpointsSet:
		conditionText := ""
		if d.Condition != nil {
			conditionText = *d.Condition
		}
		result, setErr := registry.Set(d.File, d.Lines, conditionText)
		if setErr != nil {
			return nil, setErr
		}
		for _, change := range result.Changes {
			if change.Previous != nil {
				s.machine.ForgetVerified(change.Previous.File, []int{change.Previous.Line})
			}
		}
		for _, file := range result.StoredFiles {
			s.syncBreakpoints(ctx, file)
		}
		s.publishChanges(result.Changes)
		return s.withVerification(result), nil

	default:
		result := registry.Clear(d.File, d.Lines)
		for _, change := range result.Changes {
			s.machine.ForgetVerified(change.Record.File, []int{change.Record.Line})
		}
		for _, file := range result.StoredFiles {
			s.syncBreakpoints(ctx, file)
		}
		s.publishChanges(result.Changes)
		return result, nil
	}
}

// syncBreakpoints replaces the debug host's breakpoints for a stored path with the registry's.
// The registry stays authoritative: a host failure is logged and does not fail the command.
func (s *Server) syncBreakpoints(ctx context.Context, file string) {
	recs := s.machine.Registry().StoredIn(file)
	sourceBps := make([]dap.SourceBreakpoint, len(recs))
	lines := make([]int, len(recs))
	for i, rec := range recs {
		lines[i] = rec.Line
		sourceBps[i] = dap.SourceBreakpoint{Line: rec.Line}
		if rec.Condition != nil {
			sourceBps[i].Condition = *rec.Condition
		}
		if rec.HitCondition != nil {
			sourceBps[i].HitCondition = *rec.HitCondition
		}
		if rec.LogMessage != nil {
			sourceBps[i].LogMessage = *rec.LogMessage
		}
	}

	results, setErr := s.host.SetBreakpoints(ctx, file, sourceBps)
	if setErr != nil {
		s.log.V(1).Info("Could not push breakpoints to the debug host", "File", file, "Error", setErr.Error())
		return
	}
	s.machine.RecordVerified(file, results, lines)
}

func (s *Server) publishChanges(changes []breakpoints.Change) {
	for _, change := range changes {
		info := s.machine.BreakpointInfo(change.Record)
		if change.Reason == protocol.BreakpointRemoved {
			info = change.Record.Info()
		}
		s.events.Emit(protocol.EventBreakpoint, protocol.BreakpointEvent{Reason: change.Reason, Breakpoint: info})
	}
}

func (s *Server) withVerification(result breakpoints.Result) breakpoints.Result {
	for i, bp := range result.Breakpoints {
		if rec, found := s.machine.Registry().Lookup(bp.File, bp.Line); found {
			result.Breakpoints[i] = s.machine.BreakpointInfo(rec)
		}
	}
	return result
}

func (s *Server) setDataBreakpoints(ctx context.Context, d *protocol.SetDataBreakpointsData) (any, error) {
	bps := make([]dap.DataBreakpoint, len(d.Breakpoints))
	for i, spec := range d.Breakpoints {
		bps[i] = dap.DataBreakpoint{
			DataId:       spec.DataID,
			AccessType:   dap.DataBreakpointAccessType(spec.AccessType),
			Condition:    spec.Condition,
			HitCondition: spec.HitCondition,
		}
	}

	results, setErr := s.host.SetDataBreakpoints(ctx, bps)
	if setErr != nil {
		return nil, setErr
	}
	s.machine.SetDataBreakpoints(bps)
	return DataBreakpointsResult{Breakpoints: nonNil(results)}, nil
}

func (s *Server) control(ctx context.Context, d *protocol.ControlData) (any, error) {
	threadID, threadErr := s.resolveThread(ctx, d.ThreadID)
	if threadErr != nil {
		return nil, threadErr
	}

	var controlErr error
	// Steps report only the stepped thread; other threads may stay suspended.
	allThreadsContinued := false
	switch d.Action {
	case protocol.ControlContinue:
		allThreadsContinued, controlErr = s.host.Continue(ctx, threadID)
	case protocol.ControlStepOver:
		controlErr = s.host.Next(ctx, threadID)
	case protocol.ControlStepIn:
		controlErr = s.host.StepIn(ctx, threadID)
	case protocol.ControlStepOut:
		controlErr = s.host.StepOut(ctx, threadID)
	case protocol.ControlPause:
		controlErr = s.host.Pause(ctx, threadID)
	}
	if controlErr != nil {
		return nil, controlErr
	}

	if d.Resumes() {
		s.machine.Resumed(threadID, allThreadsContinued)
	}
	return ControlResult{Action: d.Action, ThreadID: threadID}, nil
}

func (s *Server) start(ctx context.Context, d *protocol.StartData) (any, error) {
	var profile debughost.LaunchConfig
	var profileErr error
	if d.Profile != "" {
		profile, profileErr = s.profiles.Get(d.Profile)
	} else {
		profile, profileErr = s.profiles.Default()
	}
	if profileErr != nil {
		return nil, profileErr
	}

	if startErr := s.host.Start(ctx, profile); startErr != nil {
		return nil, startErr
	}

	// Breakpoints outlive sessions; make sure the new session knows all of them.
	for _, file := range s.machine.Registry().Files() {
		s.syncBreakpoints(ctx, file)
	}
	return StartResult{Profile: profile.Name, Type: profile.Type, Request: profile.Request}, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
