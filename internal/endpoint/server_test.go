package endpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/appchainio/agentd/internal/backend"
	"github.com/appchainio/agentd/internal/dispatch"
	"github.com/appchainio/agentd/internal/protocol"
	"github.com/appchainio/agentd/internal/txqueue"
	"github.com/appchainio/agentd/pkg/logging"
)

// echoRuntime confirms every transaction immediately and answers queries
// with the query path itself.
type echoRuntime struct {
	nonce uint64
}

func (r *echoRuntime) Query(ctx context.Context, path string) (interface{}, error) {
	return path, nil
}

func (r *echoRuntime) Transaction(ctx context.Context, effect backend.Effect, nonce *uint64) (*backend.SignedTx, error) {
	n := r.nonce
	if nonce != nil {
		n = *nonce
	}
	r.nonce = n + 1
	return &backend.SignedTx{ID: fmt.Sprintf("tx-%d", n), Nonce: n, Effect: effect}, nil
}

func (r *echoRuntime) Send(ctx context.Context, tx *backend.SignedTx) error {
	return nil
}

func (r *echoRuntime) PollStatus(ctx context.Context, txID string, onWaiting func(attempt int), interval time.Duration, maxRetries int) (*backend.TxStatus, error) {
	return &backend.TxStatus{Code: backend.TxConfirmed, Data: txID}, nil
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.ErrorLevel, Output: io.Discard})
}

func startServer(t *testing.T, format protocol.Format) (*Server, *bytes.Buffer) {
	t.Helper()

	logger := testLogger()
	queue := txqueue.New(&echoRuntime{}, logger, nil, nil, txqueue.Options{
		Depth:          16,
		PollInterval:   time.Millisecond,
		PollMaxRetries: 3,
	})
	ctx, cancel := context.WithCancel(context.Background())
	queue.Start(ctx)

	dispatcher := dispatch.New(queue, logger, nil)
	if err := dispatcher.RegisterQuery("util", "echo", func(ctx context.Context, req dispatch.Request) (interface{}, error) {
		return strings.Join(req.Args, " "), nil
	}); err != nil {
		t.Fatalf("register query: %v", err)
	}
	if err := dispatcher.RegisterMutation("util", "touch", func(ctx context.Context, req dispatch.Request) (backend.Effect, error) {
		return backend.Effect{Kind: "util/touch"}, nil
	}); err != nil {
		t.Fatalf("register mutation: %v", err)
	}

	announce := &bytes.Buffer{}
	server := New(dispatcher, logger, nil, Options{
		SocketPath: filepath.Join(t.TempDir(), "agentd.sock"),
		Format:     format,
		Announce:   announce,
	})
	if err := server.Start(ctx); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		server.Close()
		cancel()
		queue.Wait()
	})
	return server, announce
}

func dialServer(t *testing.T, server *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", server.Addr())
	if err != nil {
		t.Fatalf("dial %s: %v", server.Addr(), err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readResponse(t *testing.T, stream *protocol.StreamBuffer, conn net.Conn) *protocol.CommandResponse {
	t.Helper()
	var resp protocol.CommandResponse
	chunk := make([]byte, 4096)
	for {
		if stream.Next(&resp) {
			return &resp
		}
		n, err := conn.Read(chunk)
		if err != nil {
			t.Fatalf("read response: %v", err)
		}
		stream.Append(chunk[:n])
	}
}

func TestDiscoveryLine(t *testing.T) {
	server, announce := startServer(t, protocol.FormatCBOR)

	line := strings.TrimSpace(announce.String())
	if !strings.HasPrefix(line, DiscoveryPrefix) {
		t.Fatalf("announce line %q missing %q prefix", line, DiscoveryPrefix)
	}
	path := strings.TrimPrefix(line, DiscoveryPrefix)
	if !filepath.IsAbs(path) {
		t.Fatalf("announced path %q is not absolute", path)
	}
	if path != server.Addr() {
		t.Fatalf("announced path %q, bound %q", path, server.Addr())
	}
}

func TestQueryRoundTrip(t *testing.T) {
	server, _ := startServer(t, protocol.FormatCBOR)
	conn := dialServer(t, server)

	data, err := protocol.EncodeRequest(protocol.FormatCBOR, &protocol.CommandRequest{
		Command: "util echo hello world",
		ID:      7,
	})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var stream protocol.StreamBuffer
	resp := readResponse(t, &stream, conn)
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("status = %q (%s), want SUCCESS", resp.Status, resp.Error)
	}
	if resp.ID != 7 {
		t.Fatalf("response id = %d, want 7", resp.ID)
	}
	if got, _ := resp.Data.(string); got != "hello world" {
		t.Fatalf("data = %v, want %q", resp.Data, "hello world")
	}
}

func TestResponsesStayInOrder(t *testing.T) {
	server, _ := startServer(t, protocol.FormatCBOR)
	conn := dialServer(t, server)

	// A mix of queries and queued mutations, written as one burst. The
	// endpoint must answer them in arrival order even though mutations
	// detour through the transaction queue.
	const total = 20
	var burst []byte
	for i := 1; i <= total; i++ {
		command := "util echo fast"
		if i%3 == 0 {
			command = "util touch"
		}
		data, err := protocol.EncodeRequest(protocol.FormatCBOR, &protocol.CommandRequest{Command: command, ID: i})
		if err != nil {
			t.Fatalf("encode request %d: %v", i, err)
		}
		burst = append(burst, data...)
	}
	if _, err := conn.Write(burst); err != nil {
		t.Fatalf("write burst: %v", err)
	}

	var stream protocol.StreamBuffer
	for i := 1; i <= total; i++ {
		resp := readResponse(t, &stream, conn)
		if resp.ID != i {
			t.Fatalf("response %d arrived with id %d", i, resp.ID)
		}
		if resp.Status != protocol.StatusSuccess {
			t.Fatalf("response %d: status %q (%s)", i, resp.Status, resp.Error)
		}
	}
}

func TestUnknownCommandFails(t *testing.T) {
	server, _ := startServer(t, protocol.FormatCBOR)
	conn := dialServer(t, server)

	data, _ := protocol.EncodeRequest(protocol.FormatCBOR, &protocol.CommandRequest{Command: "no such", ID: 1})
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var stream protocol.StreamBuffer
	resp := readResponse(t, &stream, conn)
	if resp.Status != protocol.StatusFailure {
		t.Fatalf("status = %q, want FAILURE", resp.Status)
	}
	if resp.Error == "" {
		t.Fatal("failure response carries no error message")
	}
}

func TestTextMode(t *testing.T) {
	server, _ := startServer(t, protocol.FormatText)
	conn := dialServer(t, server)

	if _, err := conn.Write([]byte("util echo one\nutil echo two\n")); err != nil {
		t.Fatalf("write lines: %v", err)
	}

	reader := bufio.NewReader(conn)
	for i, want := range []string{"one", "two"} {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read response line %d: %v", i+1, err)
		}
		var resp protocol.CommandResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("decode response line %q: %v", line, err)
		}
		if resp.Status != protocol.StatusSuccess {
			t.Fatalf("line %d: status %q (%s)", i+1, resp.Status, resp.Error)
		}
		// Text mode correlates by per-connection sequence number.
		if resp.ID != i+1 {
			t.Fatalf("line %d: sequence id %d", i+1, resp.ID)
		}
		if got, _ := resp.Data.(string); got != want {
			t.Fatalf("line %d: data %v, want %q", i+1, resp.Data, want)
		}
	}
}

func TestCloseRemovesSocketFile(t *testing.T) {
	server, _ := startServer(t, protocol.FormatCBOR)

	path := server.Addr()
	if err := server.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := net.Dial("unix", path); err == nil {
		t.Fatal("socket still accepts connections after Close")
	}
	// Idempotent.
	if err := server.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
