/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"

	"github.com/microsoft/debugbridge/internal/protocol"
)

var ErrAdapterDisconnected = errors.New("debug adapter connection closed")

// sequenceCounter generates DAP sequence numbers for messages we originate.
type sequenceCounter struct {
	seq atomic.Int64
}

func (c *sequenceCounter) Next() int {
	return int(c.seq.Add(1))
}

// pendingRequestMap tracks requests awaiting a response, keyed by request sequence number.
type pendingRequestMap struct {
	mu       sync.Mutex
	requests map[int]chan dap.ResponseMessage
	closed   bool
}

func newPendingRequestMap() *pendingRequestMap {
	return &pendingRequestMap{requests: make(map[int]chan dap.ResponseMessage)}
}

// Add registers a request. Returns false if the map has been drained (the connection is gone).
func (m *pendingRequestMap) Add(seq int, ch chan dap.ResponseMessage) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.requests[seq] = ch
	return true
}

// Take retrieves and removes a pending request. Returns nil if there is none.
func (m *pendingRequestMap) Take(seq int) chan dap.ResponseMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, found := m.requests[seq]
	if !found {
		return nil
	}
	delete(m.requests, seq)
	return ch
}

func (m *pendingRequestMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// DrainWithError closes every response channel so that waiting callers observe the disconnect.
func (m *pendingRequestMap) DrainWithError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, ch := range m.requests {
		close(ch)
	}
	m.requests = make(map[int]chan dap.ResponseMessage)
}

// Client sends requests to a debug adapter and correlates the responses.
// Events are handed to the event callback on the read loop goroutine, in arrival order.
type Client struct {
	transport Transport
	log       logr.Logger
	seq       sequenceCounter
	pending   *pendingRequestMap

	onEvent  func(dap.EventMessage)
	onClosed func(error)

	done chan struct{}
	err  error
}

func NewClient(transport Transport, log logr.Logger, onEvent func(dap.EventMessage), onClosed func(error)) *Client {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	c := &Client{
		transport: transport,
		log:       log,
		pending:   newPendingRequestMap(),
		onEvent:   onEvent,
		onClosed:  onClosed,
		done:      make(chan struct{}),
	}

	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	var loopErr error
	defer func() {
		c.err = loopErr
		c.pending.DrainWithError()
		close(c.done)
		if c.onClosed != nil {
			c.onClosed(loopErr)
		}
	}()

	for {
		msg, readErr := c.transport.ReadMessage()
		if readErr != nil {
			var fieldErr *dap.DecodeProtocolMessageFieldError
			if errors.As(readErr, &fieldErr) {
				// Unknown (custom) commands and events are not fatal; the stream is still in sync.
				c.log.V(1).Info("Ignoring unsupported DAP message", "Error", readErr.Error())
				continue
			}
			loopErr = readErr
			return
		}

		switch m := msg.(type) {
		case dap.ResponseMessage:
			resp := m.GetResponse()
			if ch := c.pending.Take(resp.RequestSeq); ch != nil {
				ch <- m
			} else {
				c.log.V(1).Info("Dropping response to an unknown request", "RequestSeq", resp.RequestSeq, "Command", resp.Command)
			}

		case dap.EventMessage:
			if c.onEvent != nil {
				c.onEvent(m)
			}

		case dap.RequestMessage:
			c.rejectReverseRequest(m)

		default:
			c.log.V(1).Info("Ignoring unexpected DAP message", "Type", fmt.Sprintf("%T", msg))
		}
	}
}

// The bridge has no terminal or UI to offer, so reverse requests (runInTerminal, startDebugging) are declined.
func (c *Client) rejectReverseRequest(m dap.RequestMessage) {
	req := m.GetRequest()
	c.log.V(1).Info("Declining reverse request", "Command", req.Command)

	resp := &dap.ErrorResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: c.seq.Next(), Type: "response"},
			RequestSeq:      req.Seq,
			Success:         false,
			Command:         req.Command,
			Message:         "not supported",
		},
	}
	if writeErr := c.transport.WriteMessage(resp); writeErr != nil {
		c.log.V(1).Info("Failed to decline reverse request", "Command", req.Command, "Error", writeErr.Error())
	}
}

// Request sends a request and waits for its response.
// An unsuccessful response is returned as a *protocol.HostError carrying the adapter's message.
func (c *Client) Request(ctx context.Context, req dap.RequestMessage) (dap.ResponseMessage, error) {
	request := req.GetRequest()
	seq := c.seq.Next()
	request.Seq = seq
	request.Type = "request"

	respChan := make(chan dap.ResponseMessage, 1)
	if !c.pending.Add(seq, respChan) {
		return nil, fmt.Errorf("'%s' could not be sent: %w", request.Command, ErrAdapterDisconnected)
	}

	if writeErr := c.transport.WriteMessage(req); writeErr != nil {
		c.pending.Take(seq)
		return nil, fmt.Errorf("failed to send '%s' request: %w", request.Command, writeErr)
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, fmt.Errorf("'%s' got no response: %w", request.Command, ErrAdapterDisconnected)
		}
		if failure := responseFailure(resp); failure != nil {
			return nil, failure
		}
		return resp, nil

	case <-ctx.Done():
		c.pending.Take(seq)
		return nil, ctx.Err()
	}
}

func responseFailure(resp dap.ResponseMessage) error {
	r := resp.GetResponse()
	if r.Success {
		return nil
	}

	msg := r.Message
	if errResp, isErrResp := resp.(*dap.ErrorResponse); isErrResp && errResp.Body.Error != nil && errResp.Body.Error.Format != "" {
		msg = errResp.Body.Error.Format
	}
	if msg == "" {
		msg = fmt.Sprintf("'%s' failed", r.Command)
	}
	return &protocol.HostError{Message: msg}
}

func (c *Client) Close() error {
	return c.transport.Close()
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the read loop ended; only valid after Done is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}
