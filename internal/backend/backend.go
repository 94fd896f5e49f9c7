// Package backend defines the narrow contract to the state-transition
// runtime the agent bridges to. The agent only ever reads state through
// Query and mutates it through the sign/send/poll transaction path; the
// runtime's own semantics stay behind this interface.
package backend

import (
	"context"
	"time"
)

// Effect is one declarative mutation to be signed and broadcast as a
// transaction. Kind is a verb path understood by the runtime (for example
// "token/transfer"); Params carries the effect arguments.
type Effect struct {
	Kind   string                 `json:"kind"`
	Params map[string]interface{} `json:"params"`
}

// SignedTx is a signed, broadcastable transaction handle.
type SignedTx struct {
	ID        string `json:"id"`
	Signer    string `json:"signer"`
	Nonce     uint64 `json:"nonce"`
	Effect    Effect `json:"effect"`
	Signature []byte `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// TxStatusCode is the runtime's view of a broadcast transaction.
type TxStatusCode string

const (
	// TxConfirmed is terminal: the transaction was applied.
	TxConfirmed TxStatusCode = "CONFIRMED"
	// TxFailed is terminal: the runtime rejected the transaction.
	TxFailed TxStatusCode = "FAILED"
	// TxUnknown means the runtime has not reached a terminal state yet.
	TxUnknown TxStatusCode = "UNKNOWN"
)

// TxStatus is the result of a confirmation poll.
type TxStatus struct {
	Code    TxStatusCode `json:"code"`
	Message string       `json:"message,omitempty"`
	Data    interface{}  `json:"data,omitempty"`
}

// Terminal reports whether the status will not change with further polling.
func (s *TxStatus) Terminal() bool {
	return s.Code == TxConfirmed || s.Code == TxFailed
}

// Runtime is the backend contract consumed by the dispatcher and the
// transaction queue.
type Runtime interface {
	// Query reads a state path and returns its value. A missing path
	// returns an error wrapping errors.ErrNotFound.
	Query(ctx context.Context, path string) (interface{}, error)

	// Transaction builds and signs a transaction for the effect. A nil
	// nonce lets the runtime fetch the signer's current nonce; a non-nil
	// nonce is the caller's locally tracked value.
	Transaction(ctx context.Context, effect Effect, nonce *uint64) (*SignedTx, error)

	// Send broadcasts a signed transaction. Acceptance here only means the
	// runtime took the transaction; confirmation is observed via PollStatus.
	Send(ctx context.Context, tx *SignedTx) error

	// PollStatus polls the transaction's status every interval, up to
	// maxRetries attempts, invoking onWaiting (if non-nil) before each
	// retry. It returns the last observed status; a non-terminal result
	// after maxRetries attempts is not an error.
	PollStatus(ctx context.Context, txID string, onWaiting func(attempt int), interval time.Duration, maxRetries int) (*TxStatus, error)
}
