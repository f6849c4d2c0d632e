/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
)

var (
	// ErrProtocol is returned for malformed frames, unknown commands, or invalid command data.
	ErrProtocol = errors.New("protocol error")

	// ErrTimeout is returned when no response (or awaited event) arrives within the allotted time.
	ErrTimeout = errors.New("timed out")

	// ErrConnectionClosed is returned for commands that were pending when the connection went away,
	// and for commands issued after it did.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrHost is returned when the debug host could not serve a request.
	ErrHost = errors.New("debug host error")

	// ErrNotFound is returned when a named variable, profile, or similar entity does not exist.
	ErrNotFound = errors.New("not found")
)

type ProtocolError struct {
	Reason string
}

func NewProtocolError(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", ErrProtocol.Error(), e.Reason)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

type TimeoutError struct {
	// The command (or the awaited event names) that timed out.
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("'%s' %s after %s", e.Command, ErrTimeout.Error(), e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// HostError carries the message reported by the debug host verbatim.
type HostError struct {
	Message string
}

func (e *HostError) Error() string { return e.Message }

func (e *HostError) Unwrap() error { return ErrHost }

type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' %s", e.Kind, e.Name, ErrNotFound.Error())
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IsConnectionError returns true if the error means the connection to the peer is gone.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionClosed)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// FilterContextError drops context cancellation errors that are expected because ctx is already done.
func FilterContextError(err error, ctx context.Context, log logr.Logger) error {
	if err == nil || ctx.Err() == nil {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.V(1).Info("Filtering redundant context error", "error", err)
		return nil
	}
	return err
}
