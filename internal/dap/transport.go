/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
)

var ErrTransportClosed = errors.New("debug adapter transport is closed")

// Transport provides DAP message I/O with a debug adapter.
// ReadMessage must be called from one goroutine only; WriteMessage and Close are goroutine-safe.
type Transport interface {
	// ReadMessage blocks until a complete DAP message is available.
	ReadMessage() (dap.Message, error)

	WriteMessage(msg dap.Message) error

	// Close releases the connection. Blocked ReadMessage calls return with an error.
	Close() error
}

// streamTransport carries DAP messages over a pair of byte streams (a TCP connection or process stdio).
type streamTransport struct {
	reader *bufio.Reader
	writer *bufio.Writer
	closer func() error

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

func newStreamTransport(r io.Reader, w io.Writer, closer func() error) *streamTransport {
	return &streamTransport{
		reader: bufio.NewReader(r),
		writer: bufio.NewWriter(w),
		closer: closer,
		closed: make(chan struct{}),
	}
}

// NewTCPTransport creates a Transport backed by a network connection.
func NewTCPTransport(conn net.Conn) Transport {
	return newStreamTransport(conn, conn, conn.Close)
}

// NewStdioTransport creates a Transport backed by the standard streams of an adapter process.
// stdout is the adapter's output (read by us); stdin is the adapter's input (written by us).
func NewStdioTransport(stdout io.ReadCloser, stdin io.WriteCloser, onClose func() error) Transport {
	return newStreamTransport(stdout, stdin, func() error {
		var errs []error
		if closeErr := stdin.Close(); closeErr != nil {
			errs = append(errs, fmt.Errorf("failed to close adapter stdin: %w", closeErr))
		}
		if closeErr := stdout.Close(); closeErr != nil {
			errs = append(errs, fmt.Errorf("failed to close adapter stdout: %w", closeErr))
		}
		if onClose != nil {
			errs = append(errs, onClose())
		}
		return errors.Join(errs...)
	})
}

func (t *streamTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *streamTransport) ReadMessage() (dap.Message, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}

	msg, readErr := dap.ReadProtocolMessage(t.reader)
	if readErr != nil {
		if t.isClosed() {
			return nil, ErrTransportClosed
		}
		return nil, fmt.Errorf("failed to read DAP message: %w", readErr)
	}

	return msg, nil
}

func (t *streamTransport) WriteMessage(msg dap.Message) error {
	if t.isClosed() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if writeErr := dap.WriteProtocolMessage(t.writer, msg); writeErr != nil {
		return fmt.Errorf("failed to write DAP message: %w", writeErr)
	}
	if flushErr := t.writer.Flush(); flushErr != nil {
		return fmt.Errorf("failed to flush DAP message: %w", flushErr)
	}

	return nil
}

func (t *streamTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.closeErr = t.closer()
	})
	return t.closeErr
}
