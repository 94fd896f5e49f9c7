// internal/chain/effects.go
package chain

import (
	"context"
	"fmt"

	"github.com/appchainio/agentd/internal/backend"
	"github.com/appchainio/agentd/pkg/errors"
)

// applyEffect executes one accepted transaction's effect against the state
// keys. An error here marks the transaction FAILED; the nonce stays
// consumed, matching a chain whose rejected state transitions still occupy
// their sequence slot.
func (r *RedisRuntime) applyEffect(ctx context.Context, tx *backend.SignedTx) (interface{}, error) {
	params := tx.Effect.Params

	switch tx.Effect.Kind {
	case backend.EffectTokenTransfer:
		return nil, r.applyTransfer(ctx, tx.Signer, params)

	case backend.EffectFaucetSetEnabled:
		enabled, ok := params["enabled"].(bool)
		if !ok {
			return nil, fmt.Errorf("faucet/setEnabled: missing enabled flag")
		}
		return nil, r.setState(ctx, backend.FaucetEnabledPath(), enabled)

	case backend.EffectFaucetDrip:
		return nil, r.applyDrip(ctx, params)

	case backend.EffectNetworkRegister:
		return nil, r.registerRecord(ctx, "Network", backend.NetworkPath(stringParam(params, "identifier")), params)

	case backend.EffectNodeRegister:
		return nil, r.registerRecord(ctx, "Node", backend.NodePath(stringParam(params, "identifier")), params)

	case backend.EffectPKISetDocument:
		epoch, ok := uintParam(params, "epoch")
		if !ok {
			return nil, fmt.Errorf("pki/setDocument: missing epoch")
		}
		if err := r.setState(ctx, backend.PKIDocumentPath(epoch), params); err != nil {
			return nil, err
		}
		// First document published defines the genesis epoch.
		var genesis uint64
		exists, err := r.getState(ctx, backend.PKIGenesisEpochPath(), &genesis)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, r.setState(ctx, backend.PKIGenesisEpochPath(), epoch)
		}
		return nil, nil

	case backend.EffectPKISetMixDesc:
		return nil, r.applySetMixDescriptor(ctx, params)
	}

	return nil, fmt.Errorf("unknown effect kind %q", tx.Effect.Kind)
}

func (r *RedisRuntime) applyTransfer(ctx context.Context, signer string, params map[string]interface{}) error {
	to := stringParam(params, "to")
	amount, ok := params["amount"].(float64)
	if !ok || amount <= 0 {
		return fmt.Errorf("token/transfer: amount must be positive")
	}
	if to == "" {
		return fmt.Errorf("token/transfer: missing recipient")
	}
	if to == signer {
		return fmt.Errorf("token/transfer: sender and recipient cannot be the same")
	}

	var from float64
	if _, err := r.getState(ctx, backend.BalancePath(signer), &from); err != nil {
		return err
	}
	if from < amount {
		return fmt.Errorf("token/transfer: insufficient funds")
	}
	var dest float64
	if _, err := r.getState(ctx, backend.BalancePath(to), &dest); err != nil {
		return err
	}

	if err := r.setState(ctx, backend.BalancePath(signer), from-amount); err != nil {
		return err
	}
	return r.setState(ctx, backend.BalancePath(to), dest+amount)
}

func (r *RedisRuntime) applyDrip(ctx context.Context, params map[string]interface{}) error {
	address := stringParam(params, "address")
	if address == "" {
		return fmt.Errorf("faucet/drip: missing address")
	}

	var enabled bool
	exists, err := r.getState(ctx, backend.FaucetEnabledPath(), &enabled)
	if err != nil {
		return err
	}
	if !exists || !enabled {
		return fmt.Errorf("faucet/drip: faucet is disabled")
	}

	var balance float64
	if _, err := r.getState(ctx, backend.BalancePath(address), &balance); err != nil {
		return err
	}
	return r.setState(ctx, backend.BalancePath(address), balance+dripAmount)
}

// applySetMixDescriptor stores one descriptor record for an epoch. A
// republish from the same node overwrites its record in place; only a
// first publication appends to the epoch's index and bumps the counter.
func (r *RedisRuntime) applySetMixDescriptor(ctx context.Context, params map[string]interface{}) error {
	epoch, ok := uintParam(params, "epoch")
	if !ok {
		return fmt.Errorf("pki/setMixDescriptor: missing epoch")
	}
	identifier := stringParam(params, "identifier")
	if identifier == "" {
		return fmt.Errorf("pki/setMixDescriptor: missing identifier")
	}

	path := backend.MixDescriptorPath(epoch, identifier)
	var existing map[string]interface{}
	exists, err := r.getState(ctx, path, &existing)
	if err != nil {
		return err
	}
	if err := r.setState(ctx, path, params); err != nil {
		return err
	}
	if exists {
		return nil
	}

	var count uint64
	if _, err := r.getState(ctx, backend.MixDescriptorCounterPath(epoch), &count); err != nil {
		return err
	}
	if err := r.setState(ctx, backend.MixDescriptorIndexPath(epoch, count), identifier); err != nil {
		return err
	}
	return r.setState(ctx, backend.MixDescriptorCounterPath(epoch), count+1)
}

func (r *RedisRuntime) registerRecord(ctx context.Context, kind, path string, params map[string]interface{}) error {
	if stringParam(params, "identifier") == "" {
		return fmt.Errorf("%s register: missing identifier", kind)
	}
	var existing map[string]interface{}
	exists, err := r.getState(ctx, path, &existing)
	if err != nil {
		return err
	}
	if exists {
		// Stable error text: clients match on it to treat re-registration
		// as idempotent.
		return errors.New(kind + " already registered")
	}
	return r.setState(ctx, path, params)
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

// uintParam tolerates both native uint64 values and float64 from decoded
// JSON state.
func uintParam(params map[string]interface{}, key string) (uint64, bool) {
	switch v := params[key].(type) {
	case uint64:
		return v, true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	case float64:
		if v >= 0 {
			return uint64(v), true
		}
	}
	return 0, false
}
