/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/microsoft/debugbridge/internal/protocol"
)

// runBridgeCommand sends a single request to the bridge and prints the response data.
func (o *rootOptions) runBridgeCommand(cmd *cobra.Command, data protocol.CommandData) error {
	ctx := cmd.Context()
	c, connectErr := o.connect(ctx, data.Command())
	if connectErr != nil {
		return fmt.Errorf("could not connect to the bridge at %s: %w", o.endpoint(), connectErr)
	}
	defer c.Close()

	result, sendErr := c.Send(ctx, data.Command(), data, o.cfg.Timeout)
	if sendErr != nil {
		return sendErr
	}
	return writeJSON(cmd.OutOrStdout(), result)
}

func newBridgeCommands(o *rootOptions) []*cobra.Command {
	return []*cobra.Command{
		{
			Use:   protocol.CmdStatus,
			Short: "Shows whether the debug target is running or stopped, and why",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.runBridgeCommand(cmd, &protocol.StatusData{})
			},
		},
		{
			Use:   protocol.CmdVariables + " [name]",
			Short: "Lists the variables of the current frame, or shows a single variable",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data := &protocol.VariablesData{}
				if len(args) == 1 {
					data.Name = args[0]
				}
				return o.runBridgeCommand(cmd, data)
			},
		},
		newEvaluateCommand(o),
		newCallStackCommand(o),
		{
			Use:   protocol.CmdThreads,
			Short: "Lists the threads of the debug target",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.runBridgeCommand(cmd, &protocol.ThreadsData{})
			},
		},
		newRegistersCommand(o),
		newDisassembleCommand(o),
		newDataBreakpointInfoCommand(o),
		newSetDataBreakpointsCommand(o),
		newControlCommand(o),
		newMemoryCommand(o),
		{
			Use:   protocol.CmdProfiles,
			Short: "Lists the launch profiles known to the bridge",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.runBridgeCommand(cmd, &protocol.ProfilesData{})
			},
		},
		{
			Use:   protocol.CmdStart + " [profile]",
			Short: "Starts a debug session using a launch profile (the first one by default)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data := &protocol.StartData{}
				if len(args) == 1 {
					data.Profile = args[0]
				}
				return o.runBridgeCommand(cmd, data)
			},
		},
	}
}

func newControlCommand(o *rootOptions) *cobra.Command {
	var threadID int
	cmd := &cobra.Command{
		Use:       protocol.CmdControl + " <action>",
		Short:     "Resumes, steps, or pauses the debug target",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{protocol.ControlContinue, protocol.ControlStepOver, protocol.ControlStepIn, protocol.ControlStepOut, protocol.ControlPause},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runBridgeCommand(cmd, &protocol.ControlData{Action: args[0], ThreadID: optionalInt(cmd, "thread", threadID)})
		},
	}
	cmd.Flags().IntVar(&threadID, "thread", 0, "Thread to control (defaults to the stopped thread)")
	return cmd
}

func newEvaluateCommand(o *rootOptions) *cobra.Command {
	var frameID int
	var evalContext string
	cmd := &cobra.Command{
		Use:   protocol.CmdEvaluate + " <expression>",
		Short: "Evaluates an expression in the current frame",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runBridgeCommand(cmd, &protocol.EvaluateData{
				Expression: strings.Join(args, " "),
				FrameID:    optionalInt(cmd, "frame", frameID),
				Context:    evalContext,
			})
		},
	}
	cmd.Flags().IntVar(&frameID, "frame", 0, "Frame to evaluate in (defaults to the top frame)")
	cmd.Flags().StringVar(&evalContext, "context", "", "Evaluation context, e.g. 'watch' or 'repl'")
	return cmd
}

func newCallStackCommand(o *rootOptions) *cobra.Command {
	var threadID, levels int
	cmd := &cobra.Command{
		Use:   protocol.CmdCallStack,
		Short: "Shows the call stack of a thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.runBridgeCommand(cmd, &protocol.CallStackData{ThreadID: optionalInt(cmd, "thread", threadID), Levels: levels})
		},
	}
	cmd.Flags().IntVar(&threadID, "thread", 0, "Thread to inspect (defaults to the stopped thread)")
	cmd.Flags().IntVar(&levels, "levels", 0, "Maximum number of frames (0 for all)")
	return cmd
}

func newRegistersCommand(o *rootOptions) *cobra.Command {
	var frameID, maxDepth int
	cmd := &cobra.Command{
		Use:   protocol.CmdRegisters,
		Short: "Shows the CPU registers of a frame",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.runBridgeCommand(cmd, &protocol.RegistersData{FrameID: optionalInt(cmd, "frame", frameID), MaxDepth: maxDepth})
		},
	}
	cmd.Flags().IntVar(&frameID, "frame", 0, "Frame to inspect (defaults to the top frame)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Maximum depth of register categories to expand")
	return cmd
}

func newDisassembleCommand(o *rootOptions) *cobra.Command {
	data := &protocol.DisassembleData{}
	cmd := &cobra.Command{
		Use:   protocol.CmdDisassemble,
		Short: "Disassembles code at an address (the instruction pointer by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.runBridgeCommand(cmd, data)
		},
	}
	cmd.Flags().StringVar(&data.Address, "address", "", "Memory reference to start at")
	cmd.Flags().IntVar(&data.Count, "count", 0, "Number of instructions")
	cmd.Flags().IntVar(&data.Offset, "offset", 0, "Instruction offset from the address")
	return cmd
}

func newDataBreakpointInfoCommand(o *rootOptions) *cobra.Command {
	var variablesReference, frameID int
	cmd := &cobra.Command{
		Use:   protocol.CmdDataBreakpointInfo + " <name>",
		Short: "Asks whether a data breakpoint can be set on a variable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runBridgeCommand(cmd, &protocol.DataBreakpointInfoData{
				Name:               args[0],
				VariablesReference: optionalInt(cmd, "variables-reference", variablesReference),
				FrameID:            optionalInt(cmd, "frame", frameID),
			})
		},
	}
	cmd.Flags().IntVar(&variablesReference, "variables-reference", 0, "Container of the variable")
	cmd.Flags().IntVar(&frameID, "frame", 0, "Frame of the variable")
	return cmd
}

func newSetDataBreakpointsCommand(o *rootOptions) *cobra.Command {
	var condition, hitCondition string
	cmd := &cobra.Command{
		Use:   protocol.CmdSetDataBreakpoints + " [dataId[=accessType]...]",
		Short: "Replaces all data breakpoints; without arguments, removes them",
		RunE: func(cmd *cobra.Command, args []string) error {
			data := &protocol.SetDataBreakpointsData{Breakpoints: []protocol.DataBreakpointSpec{}}
			for _, arg := range args {
				dataID, accessType, _ := strings.Cut(arg, "=")
				data.Breakpoints = append(data.Breakpoints, protocol.DataBreakpointSpec{
					DataID:       dataID,
					AccessType:   accessType,
					Condition:    condition,
					HitCondition: hitCondition,
				})
			}
			return o.runBridgeCommand(cmd, data)
		},
	}
	cmd.Flags().StringVar(&condition, "condition", "", "Condition applied to every data breakpoint")
	cmd.Flags().StringVar(&hitCondition, "hit-condition", "", "Hit condition applied to every data breakpoint")
	return cmd
}

func newMemoryCommand(o *rootOptions) *cobra.Command {
	data := &protocol.MemoryData{}
	cmd := &cobra.Command{
		Use:   protocol.CmdMemory + " <address>",
		Short: "Reads debuggee memory (base64 encoded)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data.Address = args[0]
			return o.runBridgeCommand(cmd, data)
		},
	}
	cmd.Flags().IntVar(&data.Count, "count", 0, "Number of bytes (64 by default)")
	cmd.Flags().IntVar(&data.Offset, "offset", 0, "Byte offset from the address")
	return cmd
}

func newBreakpointsCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   protocol.CmdBreakpoints,
		Short: "Lists, sets, or clears source breakpoints",
	}

	var condition string
	setCmd := &cobra.Command{
		Use:   protocol.BreakpointsSet + " <file> <line>...",
		Short: "Sets breakpoints; the condition may be an expression, a hit count like '>5', or a log message with {braces}",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, linesErr := parseLines(args[1:])
			if linesErr != nil {
				return linesErr
			}
			data := &protocol.BreakpointsData{Action: protocol.BreakpointsSet, File: args[0], Lines: lines}
			if cmd.Flags().Changed("condition") {
				data.Condition = &condition
			}
			return o.runBridgeCommand(cmd, data)
		},
	}
	setCmd.Flags().StringVar(&condition, "condition", "", "Breakpoint condition, hit condition, or log message")

	cmd.AddCommand(
		&cobra.Command{
			Use:   protocol.BreakpointsList,
			Short: "Lists all breakpoints",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.runBridgeCommand(cmd, &protocol.BreakpointsData{Action: protocol.BreakpointsList})
			},
		},
		setCmd,
		&cobra.Command{
			Use:   protocol.BreakpointsClear + " <file> [line...]",
			Short: "Clears the breakpoints of a file, or only those at the given lines",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				lines, linesErr := parseLines(args[1:])
				if linesErr != nil {
					return linesErr
				}
				return o.runBridgeCommand(cmd, &protocol.BreakpointsData{Action: protocol.BreakpointsClear, File: args[0], Lines: lines})
			},
		},
	)
	return cmd
}
