// Package endpoint owns the agent's unix socket. It accepts any number of
// concurrent connections; within one connection requests are decoded,
// dispatched, and answered strictly in arrival order, so a connection never
// sees out-of-order pipelining. Ordering across connections is unspecified.
package endpoint

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/appchainio/agentd/internal/dispatch"
	"github.com/appchainio/agentd/internal/protocol"
	"github.com/appchainio/agentd/pkg/logging"
	"github.com/appchainio/agentd/pkg/metrics"
)

// DiscoveryPrefix starts the line announcing the bound socket path on
// stdout. Launching processes scan combined output for it.
const DiscoveryPrefix = "UNIX_SOCKET_PATH="

// Options configures the socket endpoint.
type Options struct {
	// SocketPath is the unix socket path to bind.
	SocketPath string
	// Format is the wire format for all connections.
	Format protocol.Format
	// Announce receives the discovery line; defaults to os.Stdout.
	Announce io.Writer
}

// Server is the socket endpoint.
type Server struct {
	opts       Options
	dispatcher *dispatch.Dispatcher
	logger     *logging.Logger
	metrics    *metrics.Metrics

	listener  net.Listener
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a socket endpoint. metrics may be nil.
func New(dispatcher *dispatch.Dispatcher, logger *logging.Logger, m *metrics.Metrics, opts Options) *Server {
	if opts.Announce == nil {
		opts.Announce = os.Stdout
	}
	return &Server{
		opts:       opts,
		dispatcher: dispatcher,
		logger:     logger.WithField("component", "endpoint"),
		metrics:    m,
		closed:     make(chan struct{}),
	}
}

// Start binds the socket, announces its path for discovery, and begins
// accepting connections in the background.
func (s *Server) Start(ctx context.Context) error {
	// A stale socket file from an unclean shutdown would block the bind.
	_ = os.Remove(s.opts.SocketPath)

	listener, err := net.Listen("unix", s.opts.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to bind socket %s: %w", s.opts.SocketPath, err)
	}
	s.listener = listener

	path, err := filepath.Abs(s.opts.SocketPath)
	if err != nil {
		path = s.opts.SocketPath
	}
	fmt.Fprintf(s.opts.Announce, "%s%s\n", DiscoveryPrefix, path)
	s.logger.Info("listening", "socket", path, "format", string(s.opts.Format))

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Addr returns the bound socket path.
func (s *Server) Addr() string {
	return s.opts.SocketPath
}

// Close stops accepting, closes the listener, and removes the socket file.
// It is idempotent.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		_ = os.Remove(s.opts.SocketPath)
	})
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			s.logger.Error("accept failed", "error", err)
			return
		}

		if s.metrics != nil {
			s.metrics.ConnectionsTotal.Inc()
			s.metrics.ConnectionsOpen.Inc()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				conn.Close()
				if s.metrics != nil {
					s.metrics.ConnectionsOpen.Dec()
				}
			}()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	switch s.opts.Format {
	case protocol.FormatText:
		s.serveText(ctx, conn)
	default:
		s.serveCBOR(ctx, conn)
	}
}

// serveText reads newline-terminated command lines. Text mode has no caller
// correlation id; responses carry a per-connection sequence number.
func (s *Server) serveText(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	seq := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		seq++
		req := &protocol.CommandRequest{Command: line, ID: seq}
		if !s.respond(ctx, conn, req) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("connection read failed", "error", err)
	}
}

// serveCBOR reads back-to-back CBOR maps. The accumulation buffer preserves
// partial messages across reads; one read may also carry several complete
// messages, all of which are served before the next read.
func (s *Server) serveCBOR(ctx context.Context, conn net.Conn) {
	var stream protocol.StreamBuffer
	chunk := make([]byte, 64*1024)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			stream.Append(chunk[:n])
			var req protocol.CommandRequest
			for stream.Next(&req) {
				if !s.respond(ctx, conn, &req) {
					return
				}
				req = protocol.CommandRequest{}
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("connection read failed", "error", err)
			}
			return
		}
	}
}

// respond dispatches one request and writes its response. The response is
// fully written before the caller decodes the next request, which is what
// guarantees in-order responses within a connection.
func (s *Server) respond(ctx context.Context, conn net.Conn, req *protocol.CommandRequest) bool {
	s.logger.Debug("dispatching", "command", req.Command, "request_id", req.ID)

	resp := s.dispatcher.Dispatch(ctx, req)
	resp.ID = req.ID

	data, err := protocol.EncodeResponse(s.opts.Format, resp)
	if err != nil {
		s.logger.Error("failed to encode response", "error", err)
		return false
	}
	if _, err := conn.Write(data); err != nil {
		s.logger.Debug("connection write failed", "error", err)
		return false
	}
	return true
}
