// Package server implements the connection-accepting side of a tcplink
// peer: it binds a listener, accepts connections, and runs the
// request/response exchange loop for each one.
//
// Per-connection pipeline:
//
//	Accept conn → go handleConn
//	  → Receive request → middleware chain → handler → Send response
//	  → repeat until the peer closes, then close the connection
//
// Each connection lives in its own goroutine, so a slow or misbehaving
// client never stalls the accept loop or other clients. A failure on one
// connection (handler error, framing error) closes that connection only.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tcplink/codec"
	"tcplink/message"
	"tcplink/middleware"
	"tcplink/protocol"
	"tcplink/registry"
	"tcplink/transport"
)

// ErrNotListening is returned by Serve before a listener is attached.
var ErrNotListening = errors.New("server: not listening")

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default is zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithConnOptions forwards options to every accepted framed connection
// (max frame size, per-operation timeout).
func WithConnOptions(opts ...transport.Option) Option {
	return func(s *Server) {
		s.connOpts = opts
	}
}

// WithErrorResponse maps a handler error to a response message that is sent
// before the failed connection is closed. Without it the server closes the
// connection without responding.
func WithErrorResponse(fn func(err error) message.Message) Option {
	return func(s *Server) {
		s.errResponse = fn
	}
}

// WithRegistry publishes advertiseAddr under service on the given registry
// when the server starts listening, and removes it on Shutdown. The
// advertised address differs from the bind address when the server binds a
// wildcard like ":9000" but peers need a routable host.
func WithRegistry(reg registry.Registry, service, advertiseAddr string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.service = service
		s.advertiseAddr = advertiseAddr
		s.registerTTL = ttl
	}
}

// Server accepts connections and answers one request per exchange with the
// response produced by the application handler.
type Server struct {
	codec       codec.Codec
	handler     middleware.HandlerFunc
	middlewares []middleware.Middleware
	chain       middleware.HandlerFunc
	connOpts    []transport.Option
	errResponse func(err error) message.Message
	logger      *zap.Logger

	registry      registry.Registry
	service       string
	advertiseAddr string
	registerTTL   int64

	listener net.Listener
	mu       sync.Mutex
	conns    map[*transport.Conn]struct{}
	wg       sync.WaitGroup // in-flight exchanges, drained on Shutdown
	shutdown atomic.Bool
}

// New creates a server. The codec must match the clients'; the handler is
// the application-supplied function that turns a request into a response.
func New(c codec.Codec, handler middleware.HandlerFunc, opts ...Option) *Server {
	s := &Server{
		codec:   c,
		handler: handler,
		logger:  zap.NewNop(),
		conns:   make(map[*transport.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use appends a middleware. Middlewares run in the order they are added,
// outermost first. Must be called before ListenAndServe or Serve.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// ListenAndServe binds the address and runs the accept loop until Shutdown.
// A bind failure is returned immediately and the server never starts
// accepting.
func (s *Server) ListenAndServe(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", address, err)
	}
	return s.Serve(ln)
}

// Serve runs the accept loop on an existing listener. It returns nil after
// Shutdown, or the accept error that stopped it.
func (s *Server) Serve(ln net.Listener) error {
	if ln == nil {
		return ErrNotListening
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// Build the middleware chain once, not per request.
	s.chain = middleware.Chain(s.middlewares...)(s.handler)

	if s.registry != nil {
		addr := s.advertiseAddr
		if addr == "" {
			addr = ln.Addr().String()
		}
		if err := s.registry.Register(s.service, registry.Endpoint{Addr: addr}, s.registerTTL); err != nil {
			ln.Close()
			return fmt.Errorf("server: register %s: %w", s.service, err)
		}
	}

	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))

	for {
		raw, err := ln.Accept()
		if err != nil {
			// Shutdown closes the listener, which surfaces here as an
			// accept error. The flag tells an intentional close apart
			// from a real failure.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(raw)
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConn runs the exchange loop for one accepted connection: receive a
// request, run it through the chain, send the response, repeat. The loop
// ends when the peer closes cleanly, a protocol error occurs, or the
// handler fails.
func (s *Server) handleConn(raw net.Conn) {
	conn := transport.NewConn(raw, s.codec, s.connOpts...)
	s.trackConn(conn, true)
	defer func() {
		s.trackConn(conn, false)
		conn.Close()
	}()

	remote := raw.RemoteAddr().String()
	s.logger.Debug("connection accepted", zap.String("remote", remote))

	for {
		req, err := conn.Receive()
		if err != nil {
			if errors.Is(err, protocol.ErrConnectionClosed) {
				s.logger.Debug("connection closed by peer", zap.String("remote", remote))
			} else {
				s.logger.Warn("receive failed",
					zap.String("remote", remote),
					zap.Error(err))
			}
			return
		}

		s.wg.Add(1)
		resp, err := s.chain(context.Background(), req)
		if err != nil {
			// Handler failures are isolated to this connection: report,
			// optionally answer with the application's error response,
			// then close.
			s.logger.Warn("handler failed",
				zap.String("remote", remote),
				zap.String("tag", req.Tag()),
				zap.Error(err))
			if s.errResponse != nil {
				if em := s.errResponse(err); em != nil {
					if sendErr := conn.Send(em); sendErr != nil {
						s.logger.Warn("error response not sent",
							zap.String("remote", remote),
							zap.Error(sendErr))
					}
				}
			}
			s.wg.Done()
			return
		}

		err = conn.Send(resp)
		s.wg.Done()
		if err != nil {
			s.logger.Warn("send failed",
				zap.String("remote", remote),
				zap.Error(err))
			return
		}
	}
}

func (s *Server) trackConn(conn *transport.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// Shutdown stops the server gracefully:
//  1. Deregister from the registry, so clients stop resolving this address
//  2. Set the shutdown flag, then close the listener (order matters: the
//     flag must be visible before Accept fails)
//  3. Wait for in-flight exchanges up to the timeout
//  4. Close the connections that remain
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.registry != nil {
		addr := s.advertiseAddr
		if addr == "" {
			if a := s.Addr(); a != nil {
				addr = a.String()
			}
		}
		if err := s.registry.Deregister(s.service, addr); err != nil {
			s.logger.Warn("deregister failed", zap.Error(err))
		}
	}

	s.shutdown.Store(true)
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.New("server: timeout waiting for in-flight exchanges")
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	return err
}
