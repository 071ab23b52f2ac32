// Package server is a local stand-in for the chat provider. It issues
// conversations over HTTP and answers invocations on a websocket chat hub
// using the same framing as the real service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	// CreatePath is the conversation-create endpoint.
	CreatePath = "/turing/conversation/create"
	// ChatHubPath is the chat hub websocket endpoint.
	ChatHubPath = "/sydney/ChatHub"
)

// Responder produces the full reply for a prompt.
type Responder func(prompt string) string

// EchoResponder replies with the prompt.
func EchoResponder(prompt string) string {
	return "You said: " + prompt
}

// Option configures a Server.
type Option func(*Server)

// WithResponder replaces the reply generator.
func WithResponder(r Responder) Option {
	return func(s *Server) {
		s.responder = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithUpdateDelay pauses between streamed updates.
func WithUpdateDelay(d time.Duration) Option {
	return func(s *Server) {
		s.updateDelay = d
	}
}

// Server represents the provider simulator
type Server struct {
	address     string
	hub         *Hub
	responder   Responder
	updateDelay time.Duration
	log         *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	stopped  bool
	ready    chan struct{}
	wg       sync.WaitGroup
}

// New creates a new Server instance
func New(address string, opts ...Option) *Server {
	s := &Server{
		address:   address,
		hub:       NewHub(),
		responder: EchoResponder,
		log:       zap.NewNop(),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router serving both endpoints.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(CreatePath, s.handleCreate).Methods(http.MethodGet)
	r.HandleFunc(ChatHubPath, s.handleChatHub)
	return r
}

// Start listens and serves until Stop is called. It returns nil after Stop.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()
	close(s.ready)

	s.log.Info("server started", zap.String("addr", listener.Addr().String()))

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// track registers a stream handler with Stop. It reports false once the
// server is stopping.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Stop stops the server and waits for open streams to finish
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Warn("shutdown timed out", zap.Error(err))
			srv.Close()
		}
	}
	s.hub.closeStreams()
	s.wg.Wait()
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Hub returns the server's registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// CreateURL returns the conversation-create URL of a started server.
func (s *Server) CreateURL() string {
	return "http://" + s.Addr() + CreatePath
}

// ChatHubURL returns the chat hub URL of a started server.
func (s *Server) ChatHubURL() string {
	return "ws://" + s.Addr() + ChatHubPath
}

