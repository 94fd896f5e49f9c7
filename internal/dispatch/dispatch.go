// Package dispatch maps command strings to typed handlers. The registry is
// built once at startup; commands parse into a (namespace, verb) key plus
// argument tokens in a pure step before lookup. Queries run inline;
// mutations are routed through the transaction queue; direct commands act
// on local agent state without touching the chain. Handler failures of any
// kind surface as FAILURE responses, never as transport faults.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/appchainio/agentd/internal/backend"
	"github.com/appchainio/agentd/internal/protocol"
	"github.com/appchainio/agentd/internal/txqueue"
	"github.com/appchainio/agentd/pkg/logging"
	"github.com/appchainio/agentd/pkg/metrics"
)

// Key identifies one registered command.
type Key struct {
	Namespace string
	Verb      string
}

func (k Key) String() string {
	return k.Namespace + " " + k.Verb
}

// Request carries the parsed arguments and raw payload into a handler.
type Request struct {
	// Args are the whitespace tokens following the namespace and verb.
	Args []string
	// Payload is the request's binary payload, if any.
	Payload []byte
	// Raw is the originating wire request.
	Raw *protocol.CommandRequest
}

// QueryHandler serves a read-only command and returns its data.
type QueryHandler func(ctx context.Context, req Request) (interface{}, error)

// MutationHandler builds the transaction effect for a mutating command.
// The effect is signed and broadcast by the transaction queue.
type MutationHandler func(ctx context.Context, req Request) (backend.Effect, error)

// DirectHandler serves a command that reads or writes local agent state,
// such as the blob store. It runs inline and bypasses the transaction
// queue even when it mutates.
type DirectHandler func(ctx context.Context, req Request) (interface{}, error)

// Dispatcher routes decoded requests to handlers.
type Dispatcher struct {
	queries   map[Key]QueryHandler
	mutations map[Key]MutationHandler
	directs   map[Key]DirectHandler
	queue     *txqueue.Queue
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// New creates an empty dispatcher. metrics may be nil.
func New(queue *txqueue.Queue, logger *logging.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		queries:   make(map[Key]QueryHandler),
		mutations: make(map[Key]MutationHandler),
		directs:   make(map[Key]DirectHandler),
		queue:     queue,
		logger:    logger.WithField("component", "dispatch"),
		metrics:   m,
	}
}

// RegisterQuery adds a read-only command handler.
func (d *Dispatcher) RegisterQuery(namespace, verb string, handler QueryHandler) error {
	key, err := d.validate(namespace, verb)
	if err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("nil handler for %q", key)
	}
	d.queries[key] = handler
	return nil
}

// RegisterMutation adds a transaction-producing command handler.
func (d *Dispatcher) RegisterMutation(namespace, verb string, handler MutationHandler) error {
	key, err := d.validate(namespace, verb)
	if err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("nil handler for %q", key)
	}
	d.mutations[key] = handler
	return nil
}

// RegisterDirect adds a local-state command handler.
func (d *Dispatcher) RegisterDirect(namespace, verb string, handler DirectHandler) error {
	key, err := d.validate(namespace, verb)
	if err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("nil handler for %q", key)
	}
	d.directs[key] = handler
	return nil
}

func (d *Dispatcher) validate(namespace, verb string) (Key, error) {
	if namespace == "" || verb == "" {
		return Key{}, fmt.Errorf("command key needs both namespace and verb, got %q %q", namespace, verb)
	}
	key := Key{Namespace: namespace, Verb: verb}
	if _, dup := d.queries[key]; dup {
		return Key{}, fmt.Errorf("command %q already registered", key)
	}
	if _, dup := d.mutations[key]; dup {
		return Key{}, fmt.Errorf("command %q already registered", key)
	}
	if _, dup := d.directs[key]; dup {
		return Key{}, fmt.Errorf("command %q already registered", key)
	}
	return key, nil
}

// ParseCommand splits a command string into its key and argument tokens.
// It is pure: no registry lookup, no side effects.
func ParseCommand(command string) (Key, []string, error) {
	fields := strings.Fields(command)
	if len(fields) < 2 {
		return Key{}, nil, fmt.Errorf("incomplete command %q: want <namespace> <verb> [args...]", strings.TrimSpace(command))
	}
	return Key{Namespace: fields[0], Verb: fields[1]}, fields[2:], nil
}

// Dispatch runs one request to a response. It never returns an error:
// unknown commands, argument errors, and handler failures all surface as
// FAILURE responses.
func (d *Dispatcher) Dispatch(ctx context.Context, req *protocol.CommandRequest) *protocol.CommandResponse {
	key, args, err := ParseCommand(req.Command)
	if err != nil {
		d.count(Key{Namespace: "unknown", Verb: "unknown"}, protocol.StatusFailure)
		return protocol.Failure(err)
	}

	start := time.Now()
	resp := d.route(ctx, key, Request{Args: args, Payload: req.Payload, Raw: req})
	if d.metrics != nil {
		d.metrics.CommandDuration.WithLabelValues(key.Namespace, key.Verb).Observe(time.Since(start).Seconds())
	}
	d.count(key, resp.Status)
	return resp
}

func (d *Dispatcher) route(ctx context.Context, key Key, req Request) *protocol.CommandResponse {
	if query, ok := d.queries[key]; ok {
		data, err := query(ctx, req)
		if err != nil {
			d.logger.Debug("query failed", "command", key.String(), "error", err)
			return protocol.Failure(err)
		}
		return protocol.Success(data)
	}

	if direct, ok := d.directs[key]; ok {
		data, err := direct(ctx, req)
		if err != nil {
			d.logger.Debug("direct command failed", "command", key.String(), "error", err)
			return protocol.Failure(err)
		}
		return protocol.Success(data)
	}

	if mutation, ok := d.mutations[key]; ok {
		effect, err := mutation(ctx, req)
		if err != nil {
			d.logger.Debug("mutation rejected", "command", key.String(), "error", err)
			return protocol.Failure(err)
		}
		resp, err := d.queue.Submit(effect, req.Raw).Wait(ctx)
		if err != nil {
			// Caller went away before the submission resolved; the task
			// itself still runs to completion in the queue.
			return protocol.Failure(err)
		}
		return resp
	}

	return protocol.Failuref("unknown command %q", key.String())
}

func (d *Dispatcher) count(key Key, status protocol.Status) {
	if d.metrics != nil {
		d.metrics.CommandCount.WithLabelValues(key.Namespace, key.Verb, string(status)).Inc()
	}
}
