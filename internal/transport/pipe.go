/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/microsoft/debugbridge/internal/protocol"
)

// pipeState is shared by both ends of a pipe; closing either end closes both.
type pipeState struct {
	once   sync.Once
	closed chan struct{}
}

type pipeEnd struct {
	name  string
	state *pipeState
	in    <-chan []byte
	out   chan<- []byte
}

// Pipe returns two connected in-memory connections. Frames written to one end are read from the other.
// Used by tests and by in-process bridge clients.
func Pipe() (Conn, Conn) {
	state := &pipeState{closed: make(chan struct{})}
	aToB := make(chan []byte, 64)
	bToA := make(chan []byte, 64)
	a := &pipeEnd{name: "pipe:a", state: state, in: bToA, out: aToB}
	b := &pipeEnd{name: "pipe:b", state: state, in: aToB, out: bToA}
	return a, b
}

func (p *pipeEnd) ReadFrame(ctx context.Context) ([]byte, error) {
	// Frames already delivered are still readable after the peer closes.
	select {
	case frame := <-p.in:
		return frame, nil
	default:
	}

	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.state.closed:
		return nil, fmt.Errorf("%s: %w", p.name, protocol.ErrConnectionClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) WriteFrame(frame []byte) error {
	select {
	case <-p.state.closed:
		return fmt.Errorf("%s: %w", p.name, protocol.ErrConnectionClosed)
	default:
	}

	select {
	case p.out <- slices.Clone(frame):
		return nil
	case <-p.state.closed:
		return fmt.Errorf("%s: %w", p.name, protocol.ErrConnectionClosed)
	}
}

func (p *pipeEnd) Close() error {
	p.state.once.Do(func() { close(p.state.closed) })
	return nil
}

func (p *pipeEnd) RemoteAddr() string {
	return p.name
}
