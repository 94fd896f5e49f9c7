package txqueue

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/appchainio/agentd/internal/backend"
	"github.com/appchainio/agentd/internal/protocol"
	"github.com/appchainio/agentd/pkg/logging"
)

// mockRuntime implements backend.Runtime in process. It records nonce usage
// and concurrent broadcast counts, and can inject per-effect failures,
// randomized broadcast latency, and delayed confirmation.
type mockRuntime struct {
	mu          sync.Mutex
	usedNonces  []uint64
	nextNonce   uint64
	statuses    map[string]*backend.TxStatus
	failSend    map[string]bool
	failBuild   map[string]bool
	neverSettle map[string]bool
	sendDelay   func() time.Duration

	inFlight    int32
	maxInFlight int32
	txSeq       int32
}

func newMockRuntime() *mockRuntime {
	return &mockRuntime{
		statuses:    make(map[string]*backend.TxStatus),
		failSend:    make(map[string]bool),
		failBuild:   make(map[string]bool),
		neverSettle: make(map[string]bool),
	}
}

func (m *mockRuntime) Query(ctx context.Context, path string) (interface{}, error) {
	return nil, fmt.Errorf("unexpected query %q", path)
}

func (m *mockRuntime) Transaction(ctx context.Context, effect backend.Effect, nonce *uint64) (*backend.SignedTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failBuild[effect.Kind] {
		return nil, fmt.Errorf("signing refused for %s", effect.Kind)
	}

	used := m.nextNonce
	if nonce != nil {
		used = *nonce
	}
	id := fmt.Sprintf("tx-%d", atomic.AddInt32(&m.txSeq, 1))
	return &backend.SignedTx{
		ID:        id,
		Signer:    "signer",
		Nonce:     used,
		Effect:    effect,
		Timestamp: time.Now().Unix(),
	}, nil
}

func (m *mockRuntime) Send(ctx context.Context, tx *backend.SignedTx) error {
	n := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	for {
		max := atomic.LoadInt32(&m.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&m.maxInFlight, max, n) {
			break
		}
	}

	if m.sendDelay != nil {
		time.Sleep(m.sendDelay())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend[tx.Effect.Kind] {
		return fmt.Errorf("broadcast rejected for %s", tx.Effect.Kind)
	}
	m.usedNonces = append(m.usedNonces, tx.Nonce)
	m.nextNonce = tx.Nonce + 1
	if !m.neverSettle[tx.Effect.Kind] {
		m.statuses[tx.ID] = &backend.TxStatus{Code: backend.TxConfirmed, Data: tx.Effect.Kind}
	}
	return nil
}

func (m *mockRuntime) PollStatus(ctx context.Context, txID string, onWaiting func(int), interval time.Duration, maxRetries int) (*backend.TxStatus, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		m.mu.Lock()
		status, ok := m.statuses[txID]
		m.mu.Unlock()
		if ok && status.Terminal() {
			return status, nil
		}
		if onWaiting != nil {
			onWaiting(attempt + 1)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return &backend.TxStatus{Code: backend.TxUnknown}, nil
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.ErrorLevel, Output: io.Discard, ServiceName: "test"})
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.PollInterval = time.Millisecond
	opts.PollMaxRetries = 5
	return opts
}

func startQueue(t *testing.T, rt backend.Runtime, opts Options) *Queue {
	t.Helper()
	q := New(rt, testLogger(), nil, nil, opts)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() {
		cancel()
		q.Wait()
	})
	return q
}

// Futures must resolve in submission order regardless of each broadcast's
// individual latency.
func TestFIFOResolutionOrder(t *testing.T) {
	rt := newMockRuntime()
	rt.sendDelay = func() time.Duration {
		return time.Duration(rand.Intn(5)) * time.Millisecond
	}
	q := startQueue(t, rt, testOptions())

	const n = 10
	futures := make([]*Future, n)
	for i := 0; i < n; i++ {
		futures[i] = q.Submit(
			backend.Effect{Kind: "faucet/drip", Params: map[string]interface{}{"seq": i}},
			&protocol.CommandRequest{Command: "faucet drip", ID: i + 1},
		)
	}

	// Resolution order equals submission order: once the last future has
	// resolved, every earlier future must already hold its response.
	if resp, err := futures[n-1].Wait(context.Background()); err != nil || resp.Status != protocol.StatusSuccess {
		t.Fatalf("last future: resp=%+v err=%v", resp, err)
	}
	for i := 0; i < n-1; i++ {
		select {
		case resp := <-futures[i].Done():
			if resp.Status != protocol.StatusSuccess {
				t.Fatalf("future %d: %+v", i, resp)
			}
		default:
			t.Fatalf("future %d unresolved after future %d resolved", i, n-1)
		}
	}

	// The worker consumed nonces in submission order as well.
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i := 1; i < len(rt.usedNonces); i++ {
		if rt.usedNonces[i] != rt.usedNonces[i-1]+1 {
			t.Fatalf("nonces out of order: %v", rt.usedNonces)
		}
	}
	if len(rt.usedNonces) != n {
		t.Fatalf("expected %d broadcasts, got %d", n, len(rt.usedNonces))
	}
}

func TestSingleFlightBroadcast(t *testing.T) {
	rt := newMockRuntime()
	rt.sendDelay = func() time.Duration { return 2 * time.Millisecond }
	q := startQueue(t, rt, testOptions())

	var futures []*Future
	for i := 0; i < 8; i++ {
		futures = append(futures, q.Submit(backend.Effect{Kind: "token/transfer"}, nil))
	}
	for _, f := range futures {
		if _, err := f.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if max := atomic.LoadInt32(&rt.maxInFlight); max != 1 {
		t.Fatalf("observed %d concurrent broadcasts, want 1", max)
	}
}

func TestNonceMonotonicity(t *testing.T) {
	rt := newMockRuntime()
	rt.nextNonce = 41
	q := startQueue(t, rt, testOptions())

	for i := 0; i < 5; i++ {
		resp, err := q.Submit(backend.Effect{Kind: "faucet/drip"}, nil).Wait(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if resp.Status != protocol.StatusSuccess {
			t.Fatalf("submission %d: %+v", i, resp)
		}
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i, nonce := range rt.usedNonces {
		if want := uint64(41 + i); nonce != want {
			t.Fatalf("submission %d used nonce %d, want %d (all: %v)", i, nonce, want, rt.usedNonces)
		}
	}

	n, known := q.TrackedNonce()
	if !known || n != 46 {
		t.Fatalf("tracked nonce = %d known=%v, want 46 true", n, known)
	}
}

// One failing task resolves only its own future; the worker proceeds and
// later tasks still broadcast with correct nonces.
func TestFailingTaskDoesNotBlockQueue(t *testing.T) {
	rt := newMockRuntime()
	rt.failSend["networks/register"] = true
	q := startQueue(t, rt, testOptions())

	f1 := q.Submit(backend.Effect{Kind: "faucet/drip"}, nil)
	f2 := q.Submit(backend.Effect{Kind: "networks/register"}, nil)
	f3 := q.Submit(backend.Effect{Kind: "faucet/drip"}, nil)

	r1, _ := f1.Wait(context.Background())
	r2, _ := f2.Wait(context.Background())
	r3, _ := f3.Wait(context.Background())

	if r1.Status != protocol.StatusSuccess {
		t.Fatalf("first task: %+v", r1)
	}
	if r2.Status != protocol.StatusFailure || r2.Error == "" {
		t.Fatalf("failing task: %+v", r2)
	}
	if r3.Status != protocol.StatusSuccess {
		t.Fatalf("task after failure: %+v", r3)
	}
}

func TestBuildFailureResolvesFailure(t *testing.T) {
	rt := newMockRuntime()
	rt.failBuild["pki/setDocument"] = true
	q := startQueue(t, rt, testOptions())

	resp, err := q.Submit(backend.Effect{Kind: "pki/setDocument"}, nil).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != protocol.StatusFailure {
		t.Fatalf("expected FAILURE, got %+v", resp)
	}
	if _, known := q.TrackedNonce(); known {
		t.Fatal("nonce tracking advanced without a broadcast")
	}
}

// Exhausted polling resolves PENDING with the transaction id, and is not an
// error.
func TestUnconfirmedResolvesPending(t *testing.T) {
	rt := newMockRuntime()
	rt.neverSettle["token/transfer"] = true
	opts := testOptions()
	opts.PollMaxRetries = 3

	var progress int32
	opts.OnProgress = func(task *Task, attempt int) {
		atomic.AddInt32(&progress, 1)
	}
	q := startQueue(t, rt, opts)

	resp, err := q.Submit(backend.Effect{Kind: "token/transfer"}, nil).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != protocol.StatusPending {
		t.Fatalf("expected PENDING, got %+v", resp)
	}
	if resp.TX == "" {
		t.Fatal("pending response carries no transaction id")
	}
	if atomic.LoadInt32(&progress) != 3 {
		t.Fatalf("progress callback ran %d times, want 3", progress)
	}
}

func TestQueueDepthCap(t *testing.T) {
	rt := newMockRuntime()
	rt.sendDelay = func() time.Duration { return 20 * time.Millisecond }
	opts := testOptions()
	opts.Depth = 2

	q := New(rt, testLogger(), nil, nil, opts)
	// Worker not started: submissions stay queued.
	f1 := q.Submit(backend.Effect{Kind: "faucet/drip"}, nil)
	f2 := q.Submit(backend.Effect{Kind: "faucet/drip"}, nil)
	f3 := q.Submit(backend.Effect{Kind: "faucet/drip"}, nil)

	select {
	case resp := <-f3.Done():
		if resp.Status != protocol.StatusFailure {
			t.Fatalf("overflow submission: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("overflow submission did not resolve")
	}
	select {
	case <-f1.Done():
		t.Fatal("queued submission resolved without a worker")
	case <-f2.Done():
		t.Fatal("queued submission resolved without a worker")
	default:
	}
}

func TestShutdownDrainsPendingTasks(t *testing.T) {
	rt := newMockRuntime()
	q := New(rt, testLogger(), nil, nil, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	f := q.Submit(backend.Effect{Kind: "faucet/drip"}, nil)
	if resp, err := f.Wait(context.Background()); err != nil || resp.Status != protocol.StatusSuccess {
		t.Fatalf("pre-shutdown submission: resp=%+v err=%v", resp, err)
	}

	cancel()
	q.Wait()

	resp, err := q.Submit(backend.Effect{Kind: "faucet/drip"}, nil).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != protocol.StatusFailure {
		t.Fatalf("post-shutdown submission: %+v", resp)
	}
}
