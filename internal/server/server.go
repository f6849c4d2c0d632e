/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package server implements the bridge end of the protocol: it executes commands against the
// debug host and broadcasts debug events to every connected client.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/microsoft/debugbridge/internal/debughost"
	"github.com/microsoft/debugbridge/internal/execstate"
	"github.com/microsoft/debugbridge/internal/profiles"
	"github.com/microsoft/debugbridge/internal/protocol"
	"github.com/microsoft/debugbridge/internal/transport"
	"github.com/microsoft/debugbridge/pkg/resiliency"
	"github.com/microsoft/debugbridge/pkg/syncmap"
)

const (
	DefaultCommandTimeout = 10 * time.Second
	shutdownTimeout       = 5 * time.Second
)

type Config struct {
	Host     debughost.Host
	Machine  *execstate.Machine
	Events   *Broadcaster
	Profiles *profiles.Store
	Log      logr.Logger

	// Upper bound for executing a single command, debug host calls included.
	CommandTimeout time.Duration

	// Options for accepted WebSocket connections.
	WebSocket transport.WebSocketOptions
}

type Server struct {
	host           debughost.Host
	machine        *execstate.Machine
	events         *Broadcaster
	profiles       *profiles.Store
	log            logr.Logger
	commandTimeout time.Duration
	upgrader       *transport.Upgrader

	// Connections being served, keyed by connection ID.
	conns   syncmap.Map[string, *transport.Adapter]
	connsWg sync.WaitGroup
}

func New(cfg Config) *Server {
	log := cfg.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	store := cfg.Profiles
	if store == nil {
		store = profiles.NewStore(nil)
	}
	wsOpts := cfg.WebSocket
	if wsOpts.Log.GetSink() == nil {
		wsOpts.Log = log
	}

	return &Server{
		host:           cfg.Host,
		machine:        cfg.Machine,
		events:         cfg.Events,
		profiles:       store,
		log:            log,
		commandTimeout: timeout,
		upgrader:       transport.NewUpgrader(wsOpts),
	}
}

// ServeHTTP accepts a bridge WebSocket connection and serves it until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, upgradeErr := s.upgrader.Upgrade(w, r)
	if upgradeErr != nil {
		s.log.V(1).Info("Rejected connection", "Remote", r.RemoteAddr, "Error", upgradeErr.Error())
		return
	}

	// The request context is not tied to the hijacked connection; the connection ends on its own.
	s.ServeConn(context.WithoutCancel(r.Context()), conn)
}

// ServeConn serves one client connection until it closes or ctx is done.
// Requests are executed concurrently; events are delivered in broadcast order.
func (s *Server) ServeConn(ctx context.Context, conn transport.Conn) {
	connID := uuid.NewString()
	log := s.log.WithValues("Connection", connID, "Remote", conn.RemoteAddr())
	adapter := transport.NewAdapter(conn, log)

	s.connsWg.Add(1)
	s.conns.Store(connID, adapter)
	defer func() {
		s.conns.Delete(connID)
		s.connsWg.Done()
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := s.events.Subscribe()
	defer sub.Cancel()

	var requests sync.WaitGroup
	go s.forwardEvents(connCtx, adapter, sub.Notifications(), log)

	log.V(1).Info("Client connected")
	runErr := adapter.Run(connCtx, connHandler{
		frame: func(frame []byte) {
			requests.Add(1)
			go func() {
				defer requests.Done()
				s.handleFrame(connCtx, adapter, frame, log)
			}()
		},
		disconnect: func(error) { cancel() },
	})
	requests.Wait()

	if filtered := protocol.FilterContextError(runErr, connCtx, log); filtered != nil && !errors.Is(filtered, protocol.ErrConnectionClosed) {
		log.Error(filtered, "Connection failed")
	}
	log.V(1).Info("Client disconnected")
}

type connHandler struct {
	frame      func([]byte)
	disconnect func(error)
}

func (h connHandler) HandleFrame(frame []byte)    { h.frame(frame) }
func (h connHandler) HandleDisconnect(err error) { h.disconnect(err) }

func (s *Server) forwardEvents(ctx context.Context, adapter *transport.Adapter, frames <-chan []byte, log logr.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, isOpen := <-frames:
			if !isOpen {
				return
			}
			if sendErr := adapter.Send(frame); sendErr != nil {
				log.V(1).Info("Could not deliver event", "Error", sendErr.Error())
				return
			}
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, adapter *transport.Adapter, frame []byte, log logr.Logger) {
	resp := s.respond(ctx, frame, log)
	if resp == nil {
		return
	}

	out, encodeErr := protocol.Encode(resp)
	if encodeErr != nil {
		log.Error(encodeErr, "Could not encode response", "ID", resp.ID)
		return
	}
	if sendErr := adapter.Send(out); sendErr != nil {
		log.V(1).Info("Could not send response", "ID", resp.ID, "Error", sendErr.Error())
	}
}

// respond executes a request frame and builds its response. Malformed frames get an error response
// (echoing the request id when one can be recovered) and never end the connection.
func (s *Server) respond(ctx context.Context, frame []byte, log logr.Logger) *protocol.Response {
	decoded, decodeErr := protocol.Decode(frame)
	if decodeErr != nil {
		log.V(1).Info("Malformed frame", "Error", decodeErr.Error())
		return protocol.NewErrorResponse(protocol.RequestID(frame), decodeErr)
	}
	if decoded.Request == nil {
		log.V(1).Info("Ignoring frame that is not a request")
		return nil
	}

	req := decoded.Request
	data, parseErr := protocol.ParseCommandData(req.Command, req.Data)
	if parseErr != nil {
		return protocol.NewErrorResponse(req.ID, parseErr)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	started := time.Now()
	var result any
	var execErr error
	if panicErr := resiliency.Protect(log, func() { result, execErr = s.execute(cmdCtx, data) }); panicErr != nil {
		execErr = fmt.Errorf("internal error while executing '%s': %w", req.Command, panicErr)
	}
	if execErr != nil && errors.Is(execErr, context.DeadlineExceeded) && ctx.Err() == nil {
		execErr = &protocol.TimeoutError{Command: req.Command, Timeout: s.commandTimeout}
	}
	log.V(1).Info("Command executed", "ID", req.ID, "Command", req.Command, "Duration", time.Since(started), "Success", execErr == nil)

	if execErr != nil {
		return protocol.NewErrorResponse(req.ID, execErr)
	}
	resp, respErr := protocol.NewSuccessResponse(req.ID, result)
	if respErr != nil {
		return protocol.NewErrorResponse(req.ID, respErr)
	}
	return resp
}

// Connections returns the number of connected clients.
func (s *Server) Connections() int {
	return s.conns.Len()
}

// closeConnections closes every client connection and waits until they are no longer served.
func (s *Server) closeConnections() {
	s.conns.Range(func(_ string, adapter *transport.Adapter) bool {
		_ = adapter.Close()
		return true
	})
	s.connsWg.Wait()
}

// ListenAndServe serves the bridge endpoint on host:port until ctx is done.
// If ready is not nil, it receives the bound address once the server is listening.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int, ready chan<- net.Addr) error {
	var lc net.ListenConfig
	listener, listenErr := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if listenErr != nil {
		return fmt.Errorf("could not listen on %s:%d: %w", host, port, listenErr)
	}
	return s.Serve(ctx, listener, ready)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener, ready chan<- net.Addr) error {
	mux := http.NewServeMux()
	mux.Handle(transport.EndpointPath, s)
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("Bridge server listening", "Address", listener.Addr().String())
	if ready != nil {
		ready <- listener.Addr()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by the HTTP server.
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		s.closeConnections()
		s.events.Close()
		return shutdownErr
	})

	waitErr := g.Wait()
	s.log.Info("Bridge server stopped")
	return protocol.FilterContextError(waitErr, ctx, s.log)
}
