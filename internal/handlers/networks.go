// internal/handlers/networks.go
package handlers

import (
	"context"
	"fmt"

	"github.com/appchainio/agentd/internal/backend"
	"github.com/appchainio/agentd/internal/dispatch"
)

func registerNetworks(d *dispatch.Dispatcher, deps Deps) error {
	getNetwork := func(ctx context.Context, req dispatch.Request) (interface{}, error) {
		if len(req.Args) != 1 {
			return nil, fmt.Errorf("usage: networks getNetwork <identifier>")
		}
		return queryState(ctx, deps.Runtime, backend.NetworkPath(req.Args[0]))
	}

	register := func(ctx context.Context, req dispatch.Request) (backend.Effect, error) {
		if len(req.Args) != 1 {
			return backend.Effect{}, fmt.Errorf("usage: networks register <identifier>")
		}
		params := map[string]interface{}{"identifier": req.Args[0]}
		if len(req.Payload) > 0 {
			// Network parameters are offloaded to the blob store; the
			// on-chain record only carries the content id.
			id, err := deps.Blobs.Put(ctx, req.Payload)
			if err != nil {
				return backend.Effect{}, fmt.Errorf("failed to store network parameters: %w", err)
			}
			params["parameters"] = id
		}
		return backend.Effect{Kind: backend.EffectNetworkRegister, Params: params}, nil
	}

	if err := d.RegisterQuery("networks", "getNetwork", getNetwork); err != nil {
		return err
	}
	return d.RegisterMutation("networks", "register", register)
}
