/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/debugbridge/internal/version"
)

// If set, the value of this variable is written to the log as one of the first log messages.
const DEBUG_BRIDGE_LOGGING_CONTEXT = "DEBUG_BRIDGE_LOGGING_CONTEXT"

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(cmd.OutOrStdout(), version.Current())
		},
	}
}

// LogVersion logs the program identity at startup.
func LogVersion(log logr.Logger, programStartMsg string) {
	launchPath, pathErr := os.Executable()
	if pathErr != nil {
		launchPath = os.Args[0]
	}

	log.V(1).Info(programStartMsg,
		"PID", os.Getpid(),
		"Exe", launchPath,
		"Args", os.Args[1:],
		"Version", version.Current().Version,
	)

	if logContext, found := os.LookupEnv(DEBUG_BRIDGE_LOGGING_CONTEXT); found && len(logContext) > 0 {
		log.V(1).Info(logContext)
	}
}
