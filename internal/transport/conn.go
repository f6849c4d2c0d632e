/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package transport moves JSON frames between the bridge client and the bridge server.
package transport

import (
	"context"
)

// Conn is a bidirectional, message-oriented connection carrying one JSON document per frame.
// ReadFrame must only be called from one goroutine at a time; WriteFrame and Close are goroutine-safe.
type Conn interface {
	// ReadFrame blocks until the next frame arrives, the connection fails, or ctx is done.
	// Once the connection is closed it returns an error wrapping protocol.ErrConnectionClosed.
	ReadFrame(ctx context.Context) ([]byte, error)

	WriteFrame(frame []byte) error

	// Close closes the connection. Blocked ReadFrame calls return with an error. Safe to call more than once.
	Close() error

	// RemoteAddr describes the peer, for logging.
	RemoteAddr() string
}
