/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"

	"github.com/microsoft/debugbridge/internal/protocol"
	"github.com/microsoft/debugbridge/pkg/resiliency"
)

// Handler receives everything an Adapter reads from its connection.
type Handler interface {
	// HandleFrame is called for every inbound frame, in arrival order, from the read loop goroutine.
	HandleFrame(frame []byte)

	// HandleDisconnect is called exactly once when the connection stops delivering frames,
	// whether because of a peer close, a transport failure, or a local Close.
	HandleDisconnect(err error)
}

// Adapter owns a Conn, runs its read loop, and turns connection loss into a single disconnect notification.
type Adapter struct {
	conn Conn
	log  logr.Logger

	disconnectOnce sync.Once
	done           chan struct{}
	err            error
}

func NewAdapter(conn Conn, log logr.Logger) *Adapter {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Adapter{
		conn: conn,
		log:  log.WithValues("Remote", conn.RemoteAddr()),
		done: make(chan struct{}),
	}
}

// Run reads frames until the connection ends or ctx is done, then notifies the handler and returns the cause.
// Run must be called at most once.
func (a *Adapter) Run(ctx context.Context, handler Handler) error {
	for {
		frame, readErr := a.conn.ReadFrame(ctx)
		if readErr != nil {
			a.disconnect(handler, readErr)
			return a.err
		}

		// A failing handler must not take the connection down; Protect logs the panic.
		_ = resiliency.Protect(a.log, func() { handler.HandleFrame(frame) })
	}
}

func (a *Adapter) disconnect(handler Handler, cause error) {
	a.disconnectOnce.Do(func() {
		_ = a.conn.Close()

		if !errors.Is(cause, protocol.ErrConnectionClosed) && !errors.Is(cause, context.Canceled) {
			cause = errors.Join(protocol.ErrConnectionClosed, cause)
		}
		a.err = cause
		close(a.done)

		a.log.V(1).Info("Connection ended", "Reason", cause.Error())
		if handler != nil {
			_ = resiliency.Protect(a.log, func() { handler.HandleDisconnect(cause) })
		}
	})
}

// Send writes a single frame to the peer.
func (a *Adapter) Send(frame []byte) error {
	select {
	case <-a.done:
		return a.err
	default:
	}
	return a.conn.WriteFrame(frame)
}

// Close closes the connection. The running read loop observes the closure and reports the disconnect.
func (a *Adapter) Close() error {
	return a.conn.Close()
}

// Done is closed once the connection has ended.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Err returns the reason the connection ended, or nil while it is still open.
func (a *Adapter) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}
