/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/microsoft/debugbridge/internal/protocol"
	"github.com/microsoft/debugbridge/pkg/resiliency"
)

const (
	// Path of the bridge WebSocket endpoint.
	EndpointPath = "/bridge"

	defaultPingPeriod   = 20 * time.Second
	defaultWriteTimeout = 10 * time.Second
	closeWriteTimeout = 100 * time.Millisecond
	maxFrameSize      = 16 * 1024 * 1024
)

type wsConn struct {
	conn *websocket.Conn
	log  logr.Logger

	// Gorilla connections support one concurrent data writer only. Control frames need no lock.
	writeMu      sync.Mutex
	writeTimeout time.Duration

	// Zero when keepalive is disabled.
	readTimeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

type WebSocketOptions struct {
	// How often to ping the peer. Zero means the default; negative disables keepalive.
	PingPeriod time.Duration
	// How long a single frame write may take before the connection is considered dead. Zero means the default.
	WriteTimeout time.Duration
	Log          logr.Logger
}

func newWSConn(conn *websocket.Conn, opts WebSocketOptions) *wsConn {
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	c := &wsConn{
		conn:         conn,
		log:          log.WithValues("Remote", conn.RemoteAddr().String()),
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
	conn.SetReadLimit(maxFrameSize)

	pingPeriod := opts.PingPeriod
	if pingPeriod == 0 {
		pingPeriod = defaultPingPeriod
	}
	if pingPeriod > 0 {
		// A pong (or any frame) proves the peer is alive and extends the read deadline.
		c.readTimeout = 2*pingPeriod + pingPeriod/2
		conn.SetPongHandler(func(string) error {
			c.extendReadDeadline()
			return nil
		})
		go c.doPinging(pingPeriod)
	}

	return c
}

func (c *wsConn) extendReadDeadline() {
	if c.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
}

func (c *wsConn) doPinging(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			pingErr := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(period))
			if pingErr != nil {
				c.log.V(1).Info("Failed to send ping", "Error", pingErr.Error())
			}
		}
	}
}

func (c *wsConn) ReadFrame(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		// Unblock the read; the connection is not usable after a cancelled read anyway.
		_ = c.Close()
	})
	defer stop()

	for {
		// Pongs are only processed while a read is in progress, so the deadline counts from the start of each read.
		c.extendReadDeadline()
		msgType, msg, readErr := c.conn.ReadMessage()
		if readErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, c.readError(readErr)
		}

		// Ping, pong and close frames are handled by the library.
		switch msgType {
		case websocket.TextMessage, websocket.BinaryMessage:
			return msg, nil
		default:
			c.log.V(1).Info("Ignoring unexpected message type", "Type", msgType)
		}
	}
}

func (c *wsConn) readError(readErr error) error {
	select {
	case <-c.closed:
		return fmt.Errorf("read failed: %w", protocol.ErrConnectionClosed)
	default:
	}

	var closeErr *websocket.CloseError
	if errors.As(readErr, &closeErr) {
		return fmt.Errorf("%w: %w", protocol.ErrConnectionClosed, readErr)
	}
	// Any other read failure leaves the connection unusable.
	return fmt.Errorf("%w: read failed: %w", protocol.ErrConnectionClosed, readErr)
}

func (c *wsConn) WriteFrame(frame []byte) error {
	select {
	case <-c.closed:
		return protocol.ErrConnectionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// A peer that stops reading must not block the writer (and everyone waiting for it) forever.
	if deadlineErr := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); deadlineErr != nil {
		return fmt.Errorf("failed to write frame: %w", deadlineErr)
	}
	if writeErr := c.conn.WriteMessage(websocket.TextMessage, frame); writeErr != nil {
		return fmt.Errorf("failed to write frame: %w", writeErr)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)

		// Closing is best-effort, so errors are only logged.
		// WriteControl is safe to use alongside a data write that may be blocked.
		closeMsgErr := c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout),
		)
		if closeMsgErr != nil && !errors.Is(closeMsgErr, websocket.ErrCloseSent) {
			c.log.V(1).Info("Failed to send close message", "Error", closeMsgErr.Error())
		}

		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// EndpointURL returns the WebSocket URL of a bridge server.
func EndpointURL(host string, port int) string {
	u := url.URL{Scheme: "ws", Host: hostPort(host, port), Path: EndpointPath}
	return u.String()
}

func hostPort(host string, port int) string {
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Dial connects to a bridge server, retrying with backoff until it succeeds, maxElapsed passes, or ctx is done.
// A zero maxElapsed makes a single attempt.
func Dial(ctx context.Context, endpoint string, maxElapsed time.Duration, opts WebSocketOptions) (Conn, error) {
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
	}

	attempt := func() (*websocket.Conn, error) {
		conn, resp, dialErr := dialer.DialContext(ctx, endpoint, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if dialErr != nil {
			log.V(1).Info("Failed to connect to the bridge, retrying...", "Endpoint", endpoint, "Error", dialErr.Error())
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, resiliency.Permanent(fmt.Errorf("bridge rejected the connection (%s): %w", resp.Status, dialErr))
			}
			return nil, dialErr
		}
		return conn, nil
	}

	var conn *websocket.Conn
	var dialErr error
	if maxElapsed <= 0 {
		conn, dialErr = attempt()
	} else {
		conn, dialErr = resiliency.RetryGet(ctx, resiliency.ConnectBackoff(maxElapsed), attempt)
	}
	if dialErr != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", endpoint, dialErr)
	}

	return newWSConn(conn, opts), nil
}

// Upgrader accepts bridge WebSocket connections on the server side.
type Upgrader struct {
	upgrader websocket.Upgrader
	opts     WebSocketOptions
}

func NewUpgrader(opts WebSocketOptions) *Upgrader {
	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The bridge listens on a trusted local channel; browsers are not expected clients.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		opts: opts,
	}
}

func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	conn, upgradeErr := u.upgrader.Upgrade(w, r, nil)
	if upgradeErr != nil {
		return nil, upgradeErr
	}
	return newWSConn(conn, u.opts), nil
}
