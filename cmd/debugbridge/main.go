/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/microsoft/debugbridge/internal/commands"
	"github.com/microsoft/debugbridge/pkg/logger"
	"github.com/microsoft/debugbridge/pkg/resiliency"
)

const (
	errCommandError = 1
)

func main() {
	log := logger.New("debugbridge")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	exitCode := run(ctx, log)
	cancel()
	log.Flush()
	os.Exit(exitCode)
}

func run(ctx context.Context, log *logger.Logger) (exitCode int) {
	defer func() {
		if panicErr := resiliency.MakePanicError(recover(), log.Logger); panicErr != nil {
			fmt.Fprintln(os.Stderr, panicErr)
			exitCode = errCommandError
		}
	}()

	root := commands.NewRootCommand(log)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return errCommandError
	}
	return 0
}
