// Package chain implements the backend Runtime contract over Redis. State
// paths live under a key prefix as JSON values; per-signer nonces are
// claimed atomically with a Lua script so that only the expected next nonce
// is accepted, and transaction status records are written for confirmation
// polling.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/appchainio/agentd/internal/backend"
	"github.com/appchainio/agentd/internal/wallet"
	"github.com/appchainio/agentd/pkg/errors"
	"github.com/appchainio/agentd/pkg/logging"
)

const (
	// State key prefix for ledger state paths
	stateKeyPrefix = "state:"

	// Transaction key prefix for status records
	txKeyPrefix = "tx:"

	// Nonce key prefix for per-signer expected nonces
	nonceKeyPrefix = "nonce:"

	// Amount credited per faucet drip
	dripAmount = 100.0
)

// claimNonce accepts a transaction iff its nonce is the signer's expected
// next value and advances the expectation in the same step.
var claimNonce = redis.NewScript(`
	local expected = tonumber(redis.call("GET", KEYS[1]) or "0")
	local got = tonumber(ARGV[1])
	if got ~= expected then
		return {0, expected}
	end
	redis.call("SET", KEYS[1], expected + 1)
	return {1, expected}
`)

// RedisRuntime is a Redis-backed state-transition runtime.
type RedisRuntime struct {
	client *redis.Client
	signer *wallet.Wallet
	logger *logging.Logger
}

// NewRedisRuntime creates the runtime and verifies the Redis connection.
func NewRedisRuntime(client *redis.Client, signer *wallet.Wallet, logger *logging.Logger) (*RedisRuntime, error) {
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisRuntime{
		client: client,
		signer: signer,
		logger: logger.WithField("component", "chain"),
	}, nil
}

// Ping checks the Redis connection, for health checks.
func (r *RedisRuntime) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Query reads a state path.
func (r *RedisRuntime) Query(ctx context.Context, path string) (interface{}, error) {
	raw, err := r.client.Get(ctx, stateKeyPrefix+path).Result()
	if err == redis.Nil {
		return nil, errors.WrapWithDomain(errors.ErrNotFound, "chain")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state %s: %w", path, err)
	}
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("corrupt state at %s: %w", path, err)
	}
	return value, nil
}

// Transaction builds and signs a transaction for the effect. With a nil
// nonce hint the signer's current expected nonce is fetched from Redis.
func (r *RedisRuntime) Transaction(ctx context.Context, effect backend.Effect, nonce *uint64) (*backend.SignedTx, error) {
	var used uint64
	if nonce != nil {
		used = *nonce
	} else {
		val, err := r.client.Get(ctx, nonceKeyPrefix+r.signer.Address()).Uint64()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to fetch nonce: %w", err)
		}
		used = val
	}

	tx := &backend.SignedTx{
		ID:        uuid.New().String(),
		Signer:    r.signer.Address(),
		Nonce:     used,
		Effect:    effect,
		Timestamp: time.Now().Unix(),
	}

	signature, err := r.signer.SignValue(struct {
		ID        string         `json:"id"`
		Signer    string         `json:"signer"`
		Nonce     uint64         `json:"nonce"`
		Effect    backend.Effect `json:"effect"`
		Timestamp int64          `json:"timestamp"`
	}{tx.ID, tx.Signer, tx.Nonce, tx.Effect, tx.Timestamp})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	tx.Signature = signature

	return tx, nil
}

// Send broadcasts a signed transaction. The nonce claim is atomic: a
// transaction whose nonce is not the signer's expected next value is
// rejected here. An accepted transaction is applied and its terminal status
// recorded for polling.
func (r *RedisRuntime) Send(ctx context.Context, tx *backend.SignedTx) error {
	res, err := claimNonce.Run(ctx, r.client, []string{nonceKeyPrefix + tx.Signer}, tx.Nonce).Result()
	if err != nil {
		return fmt.Errorf("failed to claim nonce: %w", err)
	}
	outcome, ok := res.([]interface{})
	if !ok || len(outcome) != 2 {
		return fmt.Errorf("unexpected nonce claim result %v", res)
	}
	if accepted, _ := outcome[0].(int64); accepted != 1 {
		return fmt.Errorf("nonce mismatch: got %d, expected %v", tx.Nonce, outcome[1])
	}

	status := &backend.TxStatus{Code: backend.TxConfirmed}
	if data, err := r.applyEffect(ctx, tx); err != nil {
		status = &backend.TxStatus{Code: backend.TxFailed, Message: err.Error()}
	} else {
		status.Data = data
	}

	if err := r.setStatus(ctx, tx.ID, status); err != nil {
		return err
	}

	r.logger.Debug("transaction applied", "tx", tx.ID, "code", string(status.Code))
	return nil
}

// PollStatus polls a transaction's status record until it is terminal or the
// retry budget is exhausted.
func (r *RedisRuntime) PollStatus(ctx context.Context, txID string, onWaiting func(attempt int), interval time.Duration, maxRetries int) (*backend.TxStatus, error) {
	last := &backend.TxStatus{Code: backend.TxUnknown}
	for attempt := 0; attempt < maxRetries; attempt++ {
		raw, err := r.client.Get(ctx, txKeyPrefix+txID).Result()
		if err == nil {
			var status backend.TxStatus
			if err := json.Unmarshal([]byte(raw), &status); err != nil {
				return nil, fmt.Errorf("corrupt status record for %s: %w", txID, err)
			}
			if status.Terminal() {
				return &status, nil
			}
			last = &status
		} else if err != redis.Nil {
			return nil, fmt.Errorf("failed to read status for %s: %w", txID, err)
		}

		if onWaiting != nil {
			onWaiting(attempt + 1)
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(interval):
		}
	}
	return last, nil
}

func (r *RedisRuntime) setStatus(ctx context.Context, txID string, status *backend.TxStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to serialize status: %w", err)
	}
	if err := r.client.Set(ctx, txKeyPrefix+txID, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to store status for %s: %w", txID, err)
	}
	return nil
}

func (r *RedisRuntime) getState(ctx context.Context, path string, v interface{}) (bool, error) {
	raw, err := r.client.Get(ctx, stateKeyPrefix+path).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read state %s: %w", path, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("corrupt state at %s: %w", path, err)
	}
	return true, nil
}

func (r *RedisRuntime) setState(ctx context.Context, path string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize state for %s: %w", path, err)
	}
	if err := r.client.Set(ctx, stateKeyPrefix+path, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to write state %s: %w", path, err)
	}
	return nil
}
