// Package chainbridge is the client library for the agent socket. It can
// spawn the agent process and discover its socket from the announce line,
// or attach to an already-running agent's socket directly. Commands are
// multiplexed over one CBOR connection and correlated by request id, so
// callers may issue commands from any number of goroutines.
package chainbridge

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/lesismal/nbio"

	"github.com/appchainio/agentd/internal/protocol"
	"github.com/appchainio/agentd/pkg/errors"
	"github.com/appchainio/agentd/pkg/logging"
)

// DiscoveryPrefix starts the line a spawned agent prints to announce its
// socket path.
const DiscoveryPrefix = "UNIX_SOCKET_PATH="

// State is the client's connection state.
type State string

const (
	// StateDisconnected means the client has no live connection.
	StateDisconnected State = "disconnected"
	// StateConnecting means a dial or reconnect attempt is in flight.
	StateConnecting State = "connecting"
	// StateConnected means commands can be issued.
	StateConnected State = "connected"
	// StateClosing means Stop is tearing the client down. The state
	// returns to StateDisconnected once teardown completes; reconnects
	// stay disabled.
	StateClosing State = "closing"
)

// Response statuses as they appear on the wire.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
	StatusPending = "PENDING"
)

// Request is one command frame sent to the agent.
type Request struct {
	Command string `cbor:"command"`
	Payload []byte `cbor:"payload,omitempty"`
	ID      int    `cbor:"id,omitempty"`
}

// Response is one response frame received from the agent. ID echoes the
// request id; TX is set when the command caused a transaction to be
// broadcast (including PENDING outcomes).
type Response struct {
	Status string      `cbor:"status"`
	Data   interface{} `cbor:"data,omitempty"`
	Error  string      `cbor:"error,omitempty"`
	ID     int         `cbor:"id,omitempty"`
	TX     string      `cbor:"tx,omitempty"`
}

// ErrNoData is returned by the typed data accessors when a response carries
// no data. Callers use it to distinguish "state is undefined" from a
// malformed response.
var ErrNoData = errors.New("chainbridge: no data")

// Options configures a Client.
type Options struct {
	// DialRetries bounds connect and reconnect attempts.
	DialRetries int
	// DialTimeout bounds each individual dial.
	DialTimeout time.Duration
	// CommandTimeout bounds each command's wait for a response.
	CommandTimeout time.Duration
	// ReconnectBackoff is the pause between dial attempts.
	ReconnectBackoff time.Duration
	// Logger receives client diagnostics; nil discards them.
	Logger *logging.Logger
}

// DefaultOptions returns the default client options.
func DefaultOptions() Options {
	return Options{
		DialRetries:      15,
		DialTimeout:      10 * time.Second,
		CommandTimeout:   50 * time.Second,
		ReconnectBackoff: 2 * time.Second,
	}
}

// Client is a connection to an agent socket.
type Client struct {
	opts   Options
	logger *logging.Logger

	cmd        *exec.Cmd
	socketPath string

	engine *nbio.Engine

	mu        sync.Mutex
	conn      *nbio.Conn
	state     State
	stopped   bool
	idCounter int
	pending   map[int]chan *Response
	stream    protocol.StreamBuffer
}

// Dial creates a client that attaches to an existing agent socket.
func Dial(socketPath string, opts Options) *Client {
	return newClient(nil, socketPath, opts)
}

// Spawn creates a client that launches the agent process and discovers the
// socket path from its output.
func Spawn(opts Options, name string, args ...string) *Client {
	return newClient(exec.Command(name, args...), "", opts)
}

func newClient(cmd *exec.Cmd, socketPath string, opts Options) *Client {
	defaults := DefaultOptions()
	if opts.DialRetries <= 0 {
		opts.DialRetries = defaults.DialRetries
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaults.DialTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaults.CommandTimeout
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = defaults.ReconnectBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(logging.Config{Level: logging.ErrorLevel, Output: io.Discard})
	}

	return &Client{
		opts:       opts,
		logger:     logger.WithField("component", "chainbridge"),
		cmd:        cmd,
		socketPath: socketPath,
		state:      StateDisconnected,
		pending:    make(map[int]chan *Response),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// SocketPath returns the socket path, once known. For spawned agents it is
// empty until Start discovers it.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Start launches the agent process if one was configured, discovers the
// socket path from its output, and connects. It blocks until connected or
// the dial retry budget is exhausted.
func (c *Client) Start() error {
	if c.cmd != nil {
		if err := c.spawn(); err != nil {
			return err
		}
	}

	engine := nbio.NewEngine(nbio.Config{})
	engine.OnData(c.onData)
	engine.OnClose(c.onClose)
	if err := engine.Start(); err != nil {
		return errors.BridgeWrap(err, errors.OpStart, "event engine start failed")
	}
	c.engine = engine

	return c.connect()
}

// spawn launches the agent and scans its combined output for the socket
// announce line. Scanning stops at the first match; the process keeps its
// pipes after that, so output scanning must not be resumed.
func (c *Client) spawn() error {
	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		return errors.BridgeWrap(err, errors.OpStart, "stdout pipe failed")
	}
	stderr, err := c.cmd.StderrPipe()
	if err != nil {
		return errors.BridgeWrap(err, errors.OpStart, "stderr pipe failed")
	}
	if err := c.cmd.Start(); err != nil {
		return errors.BridgeWrap(err, errors.OpStart, "agent process start failed")
	}

	scanner := bufio.NewScanner(io.MultiReader(stdout, stderr))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, DiscoveryPrefix) {
			c.socketPath = strings.TrimPrefix(line, DiscoveryPrefix)
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.BridgeWrap(err, errors.OpStart, "agent output scan failed")
	}
	if c.socketPath == "" {
		return errors.BridgeErrorf(errors.BridgeErrSocketDiscovery,
			"agent exited without announcing a socket path")
	}

	c.logger.Debug("discovered agent socket", "socket", c.socketPath)
	return nil
}

// connect dials the socket with retries and backoff.
func (c *Client) connect() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	for attempt := 1; attempt <= c.opts.DialRetries; attempt++ {
		c.logger.Debug("dialing agent socket",
			"socket", c.socketPath, "attempt", attempt, "retries", c.opts.DialRetries)

		conn, err := nbio.DialTimeout("unix", c.socketPath, c.opts.DialTimeout)
		if err == nil {
			nconn, aerr := c.engine.AddConn(conn)
			if aerr == nil {
				c.mu.Lock()
				if c.stopped {
					c.mu.Unlock()
					nconn.Close()
					return nil
				}
				c.conn = nconn
				c.state = StateConnected
				c.stream = protocol.StreamBuffer{}
				c.mu.Unlock()
				c.logger.Debug("connected to agent socket", "socket", c.socketPath)
				return nil
			}
			// The raw dialed conn is not owned by the engine yet, so it
			// must be closed here or it leaks.
			conn.Close()
			err = aerr
		}

		if c.isStopped() {
			return nil
		}
		c.logger.Debug("dial failed", "socket", c.socketPath, "error", err)
		if attempt < c.opts.DialRetries {
			time.Sleep(c.opts.ReconnectBackoff)
		}
	}

	c.mu.Lock()
	if c.state == StateConnecting {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	return errors.BridgeErrorf(errors.BridgeErrDialFailed,
		"failed to connect to %s after %d attempts", c.socketPath, c.opts.DialRetries)
}

// onData accumulates raw reads and delivers every complete response to its
// waiting caller. A response whose id has no waiter (a late arrival after a
// command timeout) is dropped.
func (c *Client) onData(conn *nbio.Conn, data []byte) {
	c.mu.Lock()
	c.stream.Append(data)
	var delivery []struct {
		ch   chan *Response
		resp *Response
	}
	for {
		resp := &Response{}
		if !c.stream.Next(resp) {
			break
		}
		if ch, ok := c.pending[resp.ID]; ok {
			delete(c.pending, resp.ID)
			delivery = append(delivery, struct {
				ch   chan *Response
				resp *Response
			}{ch, resp})
		} else {
			c.logger.Debug("dropping uncorrelated response", "id", resp.ID)
		}
	}
	c.mu.Unlock()

	// Channels are buffered, so delivery outside the lock never blocks.
	for _, d := range delivery {
		d.ch <- d.resp
	}
}

// onClose drops the connection and, unless the client is stopping,
// reconnects with the same bounded retry budget used by Start.
func (c *Client) onClose(conn *nbio.Conn, err error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.logger.Debug("connection closed", "error", err)
	if err := c.connect(); err != nil {
		c.logger.Error("reconnect failed", "error", err)
	}
}

// engineStopTimeout bounds the event engine teardown in Stop.
const engineStopTimeout = 5 * time.Second

// Stop tears the client down: no further reconnects, the event engine is
// stopped, a spawned agent receives SIGTERM, and its socket file is removed
// best-effort. The client ends in StateDisconnected. Stop is idempotent.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.state = StateClosing
	conn := c.conn
	c.conn = nil
	pending := c.pending
	c.pending = make(map[int]chan *Response)
	c.mu.Unlock()

	// In-flight commands fail fast instead of burning their full timeout.
	for id, ch := range pending {
		ch <- &Response{
			Status: StatusFailure,
			Error:  "client stopped",
			ID:     id,
		}
	}

	// Close the conn before tearing the engine down: an engine still
	// holding an idle conn never finishes a bare Stop. The shutdown is
	// bounded regardless.
	if conn != nil {
		conn.Close()
	}
	if c.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), engineStopTimeout)
		c.engine.Shutdown(ctx)
		cancel()
	}

	defer func() {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
	}()

	if c.cmd != nil && c.cmd.Process != nil {
		if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			return errors.BridgeWrap(err, errors.OpStop, "failed to signal agent process")
		}
		// The agent removes its own socket on shutdown; this is a backstop
		// for an agent that died before cleanup.
		os.Remove(c.socketPath)
	}

	return nil
}

// Command issues one command and waits for its response, bounded by the
// configured command timeout.
func (c *Client) Command(command string, payload []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.CommandTimeout)
	defer cancel()
	return c.CommandContext(ctx, command, payload)
}

// CommandContext issues one command and waits for its response or the
// context's cancellation. Safe for concurrent use.
func (c *Client) CommandContext(ctx context.Context, command string, payload []byte) (*Response, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		return nil, errors.BridgeErrorf(errors.BridgeErrNotConnected,
			"cannot issue %q: client is %s", command, state)
	}
	c.idCounter++
	req := Request{Command: command, Payload: payload, ID: c.idCounter}
	ch := make(chan *Response, 1)
	c.pending[req.ID] = ch
	conn := c.conn
	c.mu.Unlock()

	data, err := cbor.Marshal(req)
	if err != nil {
		c.abandon(req.ID)
		return nil, errors.NewBridgeError(errors.BridgeErrEncode, "request encode failed", err)
	}
	if _, err := conn.Write(data); err != nil {
		c.abandon(req.ID)
		return nil, errors.NewBridgeError(errors.BridgeErrWrite, "request write failed", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.abandon(req.ID)
		return nil, errors.BridgeErrorf(errors.BridgeErrTimeout,
			"no response to request id=%d: %s", req.ID, command)
	}
}

// abandon forgets a pending request so a late response is dropped instead
// of delivered.
func (c *Client) abandon(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
