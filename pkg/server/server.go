package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plazachat/plaza/pkg/protocol"
)

var (
	normalLog = log.New(os.Stdout, "", log.LstdFlags)
	debugLog  = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// Server accepts connections and runs one handler goroutine per client.
// It owns the registry for the lifetime of the process.
type Server struct {
	config   Config
	registry *Registry
	router   *Router
	metrics  *Metrics

	listener      net.Listener
	wsServer      *http.Server
	metricsServer *http.Server

	nextSessionID atomic.Uint64
	shutdown      chan struct{}
	wg            sync.WaitGroup

	// Every live connection, pre-login ones included. The registry only
	// holds Active sessions, but shutdown has to reach all of them.
	connMu sync.Mutex
	conns  map[uint64]*SafeConn
}

// NewServer creates a server with the given configuration.
func NewServer(config Config) *Server {
	metrics := NewMetrics()
	registry := NewRegistry(metrics)

	return &Server{
		config:   config,
		registry: registry,
		router:   NewRouter(registry, metrics),
		metrics:  metrics,
		shutdown: make(chan struct{}),
		conns:    make(map[uint64]*SafeConn),
	}
}

// EnableDebugLogging turns on the debug logger.
func (s *Server) EnableDebugLogging() {
	debugLog.SetOutput(os.Stderr)
}

// Registry exposes the session registry, mainly for tests and embedding.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Router exposes the message router.
func (s *Server) Router() *Router {
	return s.router
}

// Addr returns the bound TCP address, valid after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the TCP listener (and the optional WebSocket and metrics
// endpoints) and begins accepting connections. A bind failure is fatal and
// reported to the caller.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.TCPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	normalLog.Printf("TCP server listening on %s", listener.Addr())

	if s.config.WSPort > 0 {
		if err := s.startWebSocketServer(); err != nil {
			s.listener.Close()
			return err
		}
	}

	if s.config.MetricsPort > 0 {
		if err := s.startMetricsServer(); err != nil {
			s.stopHTTPServers()
			s.listener.Close()
			return err
		}
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop stops accepting, closes every registered session (which drives each
// handler's normal cleanup, logout broadcasts included), and waits for the
// handlers to finish.
func (s *Server) Stop() error {
	close(s.shutdown)

	if s.listener != nil {
		s.listener.Close()
	}
	s.stopHTTPServers()

	s.connMu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	normalLog.Printf("server stopped")
	return nil
}

func (s *Server) stopHTTPServers() {
	if s.wsServer != nil {
		s.wsServer.Close()
	}
	if s.metricsServer != nil {
		s.metricsServer.Close()
	}
}

// acceptLoop accepts incoming connections until shutdown.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				normalLog.Printf("accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// serveConn runs the per-connection loop: read a frame, decode, dispatch.
// Transport errors are terminal and run the Closed transition; a malformed
// payload skips the single offending frame and keeps reading.
func (s *Server) serveConn(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	sess := NewSession(s.nextSessionID.Add(1), NewSafeConn(conn))
	s.metrics.RecordSessionCreated()
	debugLog.Printf("session %d: connection from %s", sess.ID, conn.RemoteAddr())

	s.connMu.Lock()
	s.conns[sess.ID] = sess.Conn
	s.connMu.Unlock()

	// The connection may have been accepted while Stop was closing the
	// others; don't let it linger past shutdown.
	select {
	case <-s.shutdown:
		sess.Conn.Close()
	default:
	}

	// Runs even when the session never reached Active.
	defer func() {
		s.router.CloseSession(sess)
		s.connMu.Lock()
		delete(s.conns, sess.ID)
		s.connMu.Unlock()
		s.metrics.RecordSessionDisconnected()
	}()

	for {
		if s.config.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}

		payload, err := protocol.ReadFrame(sess.Conn)
		if err != nil {
			if protocol.IsTerminal(err) {
				debugLog.Printf("session %d: disconnected: %v", sess.ID, err)
			} else {
				normalLog.Printf("session %d: read error: %v", sess.ID, err)
			}
			return
		}

		msg, err := protocol.Decode(payload)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedMessage) {
				normalLog.Printf("session %d: %v (frame skipped)", sess.ID, err)
				s.metrics.RecordMalformedFrame()
				continue
			}
			normalLog.Printf("session %d: decode error: %v", sess.ID, err)
			return
		}

		debugLog.Printf("session %d: recv %s (%d bytes)", sess.ID, msg.MessageType(), len(payload))
		s.router.HandleMessage(sess, msg)
	}
}

func (s *Server) startMetricsServer() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.MetricsPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics port %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	s.metricsServer = &http.Server{Handler: mux}

	normalLog.Printf("metrics listening on http://%s/metrics", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			normalLog.Printf("metrics server error: %v", err)
		}
	}()

	return nil
}
