package main

// Native-socket server: listener lifecycle + per-connection accept loop,
// adapted from the teacher's internal/rtmp/server/server.go (Start/Stop/
// acceptLoop shape), swapping RTMP's conn.Accept/handshake for this core's
// native.Listen/native.Accept and a graph.Core-backed Dispatcher in place of
// a stream Registry.

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/alxayo/mediagraph-core/internal/graph"
	"github.com/alxayo/mediagraph-core/internal/metrics"
	"github.com/alxayo/mediagraph-core/internal/protocol/native"
)

// Server owns the bound native-protocol Unix socket and every connection
// accepted on it.
type Server struct {
	core    *graph.Core
	metrics *metrics.Metrics
	log     *slog.Logger

	mu          sync.RWMutex
	listener    *native.Listener
	dispatchers map[string]*native.Dispatcher
	acceptingWg sync.WaitGroup
	closing     bool
}

// NewServer constructs an unstarted Server.
func NewServer(core *graph.Core, m *metrics.Metrics, log *slog.Logger) *Server {
	return &Server{
		core:        core,
		metrics:     m,
		log:         log.With("component", "native_server"),
		dispatchers: make(map[string]*native.Dispatcher),
	}
}

// Start binds the native socket under socketName and launches the accept
// loop. Safe to call only once.
func (s *Server) Start(socketName string) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	ln, err := native.Listen(socketName)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("native socket listening", "path", ln.Path())
	s.acceptingWg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.acceptingWg.Done()
	for {
		s.mu.RLock()
		ln := s.listener
		closing := s.closing
		s.mu.RUnlock()
		if ln == nil {
			return
		}

		conn, err := native.Accept(ln.UnixListener)
		if err != nil {
			if closing || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		if s.metrics != nil {
			s.metrics.ClientsAccepted.Inc()
		}

		disp := native.NewDispatcher(s.core, conn)
		s.mu.Lock()
		s.dispatchers[conn.ID()] = disp
		s.mu.Unlock()
		conn.Start()
		s.log.Info("client connected", "conn_id", conn.ID(), "uid", conn.UID, "pid", conn.PID)

		go s.watchDisconnect(conn, disp)
	}
}

// watchDisconnect tears the client down once its connection's loops stop,
// whether from an explicit Close during shutdown or the peer hanging up
// (§7 "peer disconnect destroys the client").
func (s *Server) watchDisconnect(conn *native.Conn, disp *native.Dispatcher) {
	<-conn.Done()
	disp.Close()
	s.mu.Lock()
	delete(s.dispatchers, conn.ID())
	s.mu.Unlock()
	s.log.Info("client disconnected", "conn_id", conn.ID())
}

// Stop stops accepting new connections, closes every tracked connection, and
// waits for the accept loop to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	ln := s.listener
	if ln == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.listener = nil
	dispatchers := make([]*native.Dispatcher, 0, len(s.dispatchers))
	for _, d := range s.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	s.dispatchers = make(map[string]*native.Dispatcher)
	s.mu.Unlock()

	closeErr := ln.Close()
	for _, d := range dispatchers {
		d.Close()
	}
	s.acceptingWg.Wait()
	s.log.Info("native server stopped")
	return closeErr
}
