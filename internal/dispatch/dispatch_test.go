package dispatch

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/appchainio/agentd/internal/backend"
	"github.com/appchainio/agentd/internal/protocol"
	"github.com/appchainio/agentd/internal/txqueue"
	"github.com/appchainio/agentd/pkg/logging"
)

// stubRuntime confirms every transaction immediately.
type stubRuntime struct {
	nonce   uint64
	effects []backend.Effect
}

func (r *stubRuntime) Query(ctx context.Context, path string) (interface{}, error) {
	return nil, nil
}

func (r *stubRuntime) Transaction(ctx context.Context, effect backend.Effect, nonce *uint64) (*backend.SignedTx, error) {
	n := r.nonce
	if nonce != nil {
		n = *nonce
	}
	r.nonce = n + 1
	return &backend.SignedTx{ID: fmt.Sprintf("tx-%d", n), Nonce: n, Effect: effect}, nil
}

func (r *stubRuntime) Send(ctx context.Context, tx *backend.SignedTx) error {
	r.effects = append(r.effects, tx.Effect)
	return nil
}

func (r *stubRuntime) PollStatus(ctx context.Context, txID string, onWaiting func(attempt int), interval time.Duration, maxRetries int) (*backend.TxStatus, error) {
	return &backend.TxStatus{Code: backend.TxConfirmed, Data: "applied"}, nil
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.ErrorLevel, Output: io.Discard})
}

func newDispatcher(t *testing.T) (*Dispatcher, *stubRuntime) {
	t.Helper()
	runtime := &stubRuntime{}
	queue := txqueue.New(runtime, testLogger(), nil, nil, txqueue.Options{
		Depth:          16,
		PollInterval:   time.Millisecond,
		PollMaxRetries: 3,
	})
	ctx, cancel := context.WithCancel(context.Background())
	queue.Start(ctx)
	t.Cleanup(func() {
		cancel()
		queue.Wait()
	})
	return New(queue, testLogger(), nil), runtime
}

func TestParseCommand(t *testing.T) {
	key, args, err := ParseCommand("token transfer alice 10")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if key.Namespace != "token" || key.Verb != "transfer" {
		t.Fatalf("key = %v", key)
	}
	if len(args) != 2 || args[0] != "alice" || args[1] != "10" {
		t.Fatalf("args = %v", args)
	}

	if _, _, err := ParseCommand("token"); err == nil {
		t.Fatal("single token parsed without error")
	}
	if _, _, err := ParseCommand("   "); err == nil {
		t.Fatal("blank command parsed without error")
	}

	// Extra whitespace between tokens is insignificant.
	key, args, err = ParseCommand("  pki   getDocument   4  ")
	if err != nil {
		t.Fatalf("parse padded: %v", err)
	}
	if key.Verb != "getDocument" || len(args) != 1 || args[0] != "4" {
		t.Fatalf("padded parse = %v %v", key, args)
	}
}

func TestRegisterRejectsDuplicatesAndEmptyKeys(t *testing.T) {
	d, _ := newDispatcher(t)

	query := func(ctx context.Context, req Request) (interface{}, error) { return nil, nil }
	mutation := func(ctx context.Context, req Request) (backend.Effect, error) { return backend.Effect{}, nil }
	direct := func(ctx context.Context, req Request) (interface{}, error) { return nil, nil }

	if err := d.RegisterQuery("ns", "get", query); err != nil {
		t.Fatalf("register query: %v", err)
	}
	if err := d.RegisterQuery("ns", "get", query); err == nil {
		t.Fatal("duplicate query registered")
	}
	// Neither of the other kinds may shadow a query.
	if err := d.RegisterMutation("ns", "get", mutation); err == nil {
		t.Fatal("mutation shadowed an existing query")
	}
	if err := d.RegisterDirect("ns", "get", direct); err == nil {
		t.Fatal("direct command shadowed an existing query")
	}
	if err := d.RegisterDirect("ns", "local", direct); err != nil {
		t.Fatalf("register direct: %v", err)
	}
	if err := d.RegisterQuery("ns", "local", query); err == nil {
		t.Fatal("query shadowed an existing direct command")
	}
	if err := d.RegisterQuery("", "get", query); err == nil {
		t.Fatal("empty namespace registered")
	}
	if err := d.RegisterQuery("ns", "nil", nil); err == nil {
		t.Fatal("nil handler registered")
	}
}

func TestQueryRunsInline(t *testing.T) {
	d, runtime := newDispatcher(t)

	if err := d.RegisterQuery("util", "join", func(ctx context.Context, req Request) (interface{}, error) {
		return strings.Join(req.Args, "+"), nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	resp := d.Dispatch(context.Background(), &protocol.CommandRequest{Command: "util join a b c"})
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("status = %q (%s)", resp.Status, resp.Error)
	}
	if resp.Data != "a+b+c" {
		t.Fatalf("data = %v", resp.Data)
	}
	// Queries never touch the transaction path.
	if len(runtime.effects) != 0 {
		t.Fatalf("query broadcast %d effects", len(runtime.effects))
	}
}

func TestDirectCommandBypassesQueue(t *testing.T) {
	d, runtime := newDispatcher(t)

	store := map[string][]byte{}
	if err := d.RegisterDirect("store", "write", func(ctx context.Context, req Request) (interface{}, error) {
		store[req.Args[0]] = req.Payload
		return req.Args[0], nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	resp := d.Dispatch(context.Background(), &protocol.CommandRequest{
		Command: "store write k1",
		Payload: []byte("v1"),
	})
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("status = %q (%s)", resp.Status, resp.Error)
	}
	if string(store["k1"]) != "v1" {
		t.Fatalf("store = %v", store)
	}
	// The write happened locally; nothing reached the transaction path.
	if resp.TX != "" {
		t.Fatalf("direct response carries tx id %q", resp.TX)
	}
	if len(runtime.effects) != 0 {
		t.Fatalf("direct command broadcast %d effects", len(runtime.effects))
	}
}

func TestMutationRoutesThroughQueue(t *testing.T) {
	d, runtime := newDispatcher(t)

	if err := d.RegisterMutation("faucet", "setEnabled", func(ctx context.Context, req Request) (backend.Effect, error) {
		return backend.Effect{
			Kind:   "faucet/setEnabled",
			Params: map[string]interface{}{"enabled": req.Args[0] == "1"},
		}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	resp := d.Dispatch(context.Background(), &protocol.CommandRequest{Command: "faucet setEnabled 1"})
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("status = %q (%s)", resp.Status, resp.Error)
	}
	if resp.TX == "" {
		t.Fatal("mutation response carries no tx id")
	}
	if len(runtime.effects) != 1 || runtime.effects[0].Kind != "faucet/setEnabled" {
		t.Fatalf("broadcast effects = %+v", runtime.effects)
	}
}

func TestHandlerErrorsSurfaceAsFailure(t *testing.T) {
	d, _ := newDispatcher(t)

	if err := d.RegisterQuery("bad", "query", func(ctx context.Context, req Request) (interface{}, error) {
		return nil, fmt.Errorf("boom")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.RegisterMutation("bad", "mutation", func(ctx context.Context, req Request) (backend.Effect, error) {
		return backend.Effect{}, fmt.Errorf("invalid arguments")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, command := range []string{"bad query", "bad mutation", "no such", "oneword"} {
		resp := d.Dispatch(context.Background(), &protocol.CommandRequest{Command: command})
		if resp.Status != protocol.StatusFailure {
			t.Fatalf("%q: status = %q, want FAILURE", command, resp.Status)
		}
		if resp.Error == "" {
			t.Fatalf("%q: failure carries no error text", command)
		}
	}
}
