// Package handlers wires the agent's command surface into the dispatcher.
// Queries read runtime state directly; mutations build effects for the
// transaction queue. Undefined state is reported as SUCCESS with no data so
// clients can distinguish "unset" from failure.
package handlers

import (
	"context"

	"github.com/appchainio/agentd/internal/backend"
	"github.com/appchainio/agentd/internal/blobstore"
	"github.com/appchainio/agentd/internal/dispatch"
	"github.com/appchainio/agentd/internal/wallet"
	"github.com/appchainio/agentd/pkg/errors"
)

// Deps are the collaborators the command handlers reach.
type Deps struct {
	Runtime backend.Runtime
	Blobs   blobstore.Store
	Signer  *wallet.Wallet
}

// Register installs all command handlers into the dispatcher.
func Register(d *dispatch.Dispatcher, deps Deps) error {
	for _, reg := range []func(*dispatch.Dispatcher, Deps) error{
		registerToken,
		registerFaucet,
		registerNetworks,
		registerNodes,
		registerPKI,
		registerBlob,
	} {
		if err := reg(d, deps); err != nil {
			return err
		}
	}
	return nil
}

// queryState reads a state path, mapping undefined state to nil data.
func queryState(ctx context.Context, rt backend.Runtime, path string) (interface{}, error) {
	value, err := rt.Query(ctx, path)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	return value, err
}
