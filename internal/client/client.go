/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package client connects to a bridge server and exposes its commands and events.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/microsoft/debugbridge/internal/broker"
	"github.com/microsoft/debugbridge/internal/events"
	"github.com/microsoft/debugbridge/internal/protocol"
	"github.com/microsoft/debugbridge/internal/transport"
)

const connectedPollInterval = 50 * time.Millisecond

// DialFunc opens a connection to the bridge server.
type DialFunc func(ctx context.Context) (transport.Conn, error)

type Config struct {
	// WebSocket URL of the bridge server, see transport.EndpointURL.
	Endpoint string

	// Default timeout for commands sent without an explicit one.
	Timeout time.Duration

	// How long to keep retrying while the server is not reachable. Zero means a single attempt.
	ConnectTimeout time.Duration

	Log logr.Logger

	// Replaces the WebSocket dialer, mostly for testing.
	Dial DialFunc
}

// connection is everything that lives only as long as one transport connection.
type connection struct {
	adapter *transport.Adapter
	broker  *broker.Broker
}

// Client correlates commands with responses and routes events to subscribers.
// Event subscriptions belong to the client and survive reconnection; pending commands do not.
// Event handlers run on the connection read loop and must not wait for command responses.
type Client struct {
	lifetimeCtx context.Context
	log         logr.Logger
	timeout     time.Duration
	dial        DialFunc
	dispatcher  *events.Dispatcher

	lock sync.Mutex
	conn *connection
}

func New(lifetimeCtx context.Context, cfg Config) *Client {
	log := cfg.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = broker.DefaultTimeout
	}

	dial := cfg.Dial
	if dial == nil {
		endpoint := cfg.Endpoint
		connectTimeout := cfg.ConnectTimeout
		dial = func(ctx context.Context) (transport.Conn, error) {
			return transport.Dial(ctx, endpoint, connectTimeout, transport.WebSocketOptions{Log: log})
		}
	}

	return &Client{
		lifetimeCtx: lifetimeCtx,
		log:         log,
		timeout:     timeout,
		dial:        dial,
		dispatcher:  events.NewDispatcher(log),
	}
}

// Connect creates a client and connects it to the server.
func Connect(ctx context.Context, lifetimeCtx context.Context, cfg Config) (*Client, error) {
	c := New(lifetimeCtx, cfg)
	if connectErr := c.Connect(ctx); connectErr != nil {
		return nil, connectErr
	}
	return c, nil
}

// Connect opens a new connection to the server, replacing the current one if there is any.
func (c *Client) Connect(ctx context.Context) error {
	conn, dialErr := c.dial(ctx)
	if dialErr != nil {
		return dialErr
	}

	adapter := transport.NewAdapter(conn, c.log)
	cn := &connection{adapter: adapter, broker: broker.New(adapter, c.log, c.timeout)}

	c.lock.Lock()
	previous := c.conn
	c.conn = cn
	c.lock.Unlock()

	if previous != nil {
		_ = previous.adapter.Close()
	}

	go func() {
		_ = adapter.Run(c.lifetimeCtx, frameRouter{client: c, conn: cn})
	}()
	c.log.V(1).Info("Connected to bridge", "Remote", conn.RemoteAddr())
	return nil
}

func (c *Client) current() *connection {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.conn
}

func (c *Client) Connected() bool {
	cn := c.current()
	return cn != nil && cn.adapter.Err() == nil
}

// WaitConnected blocks until the client has a live connection, or ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	return wait.PollUntilContextCancel(ctx, connectedPollInterval, true, func(_ context.Context) (bool, error) {
		return c.Connected(), nil
	})
}

// Disconnected returns a channel that is closed when the current connection ends.
// Without a connection the returned channel is already closed.
func (c *Client) Disconnected() <-chan struct{} {
	if cn := c.current(); cn != nil {
		return cn.adapter.Done()
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Send issues a command and waits for its response data. A zero timeout means the client default.
func (c *Client) Send(ctx context.Context, command string, data any, timeout time.Duration) (json.RawMessage, error) {
	cn := c.current()
	if cn == nil {
		return nil, fmt.Errorf("cannot send '%s': %w", command, protocol.ErrConnectionClosed)
	}
	return cn.broker.Send(ctx, command, data, timeout)
}

// Pending returns the number of commands waiting for a response on the current connection.
func (c *Client) Pending() int {
	if cn := c.current(); cn != nil {
		return cn.broker.Pending()
	}
	return 0
}

func (c *Client) Events() *events.Dispatcher {
	return c.dispatcher
}

func (c *Client) On(event string, h events.Handler) events.Handle {
	return c.dispatcher.On(event, h)
}

func (c *Client) Off(event string, handles ...events.Handle) {
	c.dispatcher.Off(event, handles...)
}

func (c *Client) OnNamespace(namespace string, h events.NamespaceHandler) events.Handle {
	return c.dispatcher.OnNamespace(namespace, h)
}

func (c *Client) OffNamespace(namespace string, handles ...events.Handle) {
	c.dispatcher.OffNamespace(namespace, handles...)
}

func (c *Client) WaitFor(ctx context.Context, names []string, timeout time.Duration) (events.Received, error) {
	return c.dispatcher.WaitFor(ctx, names, timeout)
}

// Close ends the current connection. Pending commands fail with a connection error.
func (c *Client) Close() error {
	cn := c.current()
	if cn == nil {
		return nil
	}
	closeErr := cn.adapter.Close()
	<-cn.adapter.Done()
	return closeErr
}

// frameRouter routes inbound frames by shape: responses to the broker of the connection
// they arrived on, events to the client-wide dispatcher.
type frameRouter struct {
	client *Client
	conn   *connection
}

func (r frameRouter) HandleFrame(frame []byte) {
	decoded, decodeErr := protocol.Decode(frame)
	if decodeErr != nil {
		r.client.log.V(1).Info("Ignoring malformed frame", "Error", decodeErr.Error())
		return
	}

	switch {
	case decoded.Response != nil:
		r.conn.broker.HandleResponse(decoded.Response)
	case decoded.Event != nil:
		r.client.dispatcher.Dispatch(decoded.Event.Event, decoded.Event.Data)
	default:
		r.client.log.V(1).Info("Ignoring request frame sent by the server")
	}
}

func (r frameRouter) HandleDisconnect(err error) {
	r.conn.broker.Close(err)
	r.client.log.V(1).Info("Disconnected from bridge", "Reason", err.Error())
}
