/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package broker correlates outbound command requests with their responses.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/microsoft/debugbridge/internal/protocol"
)

const DefaultTimeout = 10 * time.Second

// FrameSender transmits one encoded frame to the peer.
type FrameSender interface {
	Send(frame []byte) error
}

// Broker multiplexes many concurrent commands over a single connection.
// Every command resolves exactly once: with the response, with a timeout, or with a connection error.
type Broker struct {
	sender         FrameSender
	log            logr.Logger
	defaultTimeout time.Duration
	pending        *pendingMap
	ids            *idGenerator
}

func New(sender FrameSender, log logr.Logger, defaultTimeout time.Duration) *Broker {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}

	return &Broker{
		sender:         sender,
		log:            log,
		defaultTimeout: defaultTimeout,
		pending:        newPendingMap(),
		ids:            newIDGenerator(),
	}
}

// Send issues a command and blocks until its response arrives, the timeout elapses,
// the connection closes, or ctx is cancelled. A zero timeout means the broker default.
// Failed commands report *protocol.HostError, *protocol.TimeoutError,
// or an error wrapping protocol.ErrConnectionClosed.
func (b *Broker) Send(ctx context.Context, command string, data any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}

	var rawData json.RawMessage
	if data != nil {
		if raw, isRaw := data.(json.RawMessage); isRaw {
			rawData = raw
		} else {
			marshalled, marshalErr := json.Marshal(data)
			if marshalErr != nil {
				return nil, protocol.NewProtocolError("could not encode data for '%s': %v", command, marshalErr)
			}
			rawData = marshalled
		}
	}

	id := b.ids.next()
	frame, encodeErr := protocol.Encode(&protocol.Request{ID: id, Command: command, Data: rawData})
	if encodeErr != nil {
		return nil, protocol.NewProtocolError("could not encode request '%s': %v", command, encodeErr)
	}

	pc := &pendingCommand{
		id:      id,
		command: command,
		timeout: timeout,
		started: time.Now(),
		result:  make(chan outcome, 1),
	}
	if !b.pending.add(pc, b.expire) {
		return nil, fmt.Errorf("cannot send '%s': %w", command, protocol.ErrConnectionClosed)
	}

	b.log.V(1).Info("Sending command", "id", id, "command", command)
	if sendErr := b.sender.Send(frame); sendErr != nil {
		if b.pending.take(id) != nil {
			pc.timer.Stop()
			return nil, fmt.Errorf("failed to send '%s': %w", command, sendErr)
		}
		// Someone else (disconnect, most likely) already resolved the command.
	}

	select {
	case o := <-pc.result:
		return o.data, o.err
	case <-ctx.Done():
		if b.pending.take(id) != nil {
			pc.timer.Stop()
			return nil, ctx.Err()
		}
		o := <-pc.result
		return o.data, o.err
	}
}

// HandleResponse resolves the command the response belongs to.
// Returns false if no such command is pending (it may already have timed out).
func (b *Broker) HandleResponse(resp *protocol.Response) bool {
	pc := b.pending.take(resp.ID)
	if pc == nil {
		b.log.V(1).Info("Dropping response for unknown or expired command", "id", resp.ID)
		return false
	}

	b.log.V(1).Info("Command completed", "id", pc.id, "command", pc.command, "success", resp.Success, "elapsed", time.Since(pc.started))
	if resp.Success {
		pc.resolve(outcome{data: resp.Data})
		return true
	}

	msg := fmt.Sprintf("command '%s' failed", pc.command)
	if resp.Error != nil && *resp.Error != "" {
		msg = *resp.Error
	}
	pc.resolve(outcome{err: &protocol.HostError{Message: msg}})
	return true
}

func (b *Broker) expire(id string) {
	pc := b.pending.take(id)
	if pc == nil {
		return
	}

	b.log.V(1).Info("Command timed out", "id", id, "command", pc.command, "timeout", pc.timeout)
	pc.resolve(outcome{err: &protocol.TimeoutError{Command: pc.command, Timeout: pc.timeout}})
}

// Close fails every pending command with a connection error and makes subsequent Send calls fail fast.
// It is safe to call more than once.
func (b *Broker) Close(cause error) {
	drained := b.pending.drain()
	if len(drained) == 0 {
		return
	}

	closedErr := protocol.ErrConnectionClosed
	if cause != nil {
		closedErr = fmt.Errorf("%w: %w", protocol.ErrConnectionClosed, cause)
	}

	b.log.V(1).Info("Failing pending commands", "count", len(drained), "cause", cause)
	for _, pc := range drained {
		pc.resolve(outcome{err: closedErr})
	}
}

// Pending returns the number of in-flight commands.
func (b *Broker) Pending() int {
	return b.pending.len()
}
