// internal/handlers/faucet.go
package handlers

import (
	"context"
	"fmt"

	"github.com/appchainio/agentd/internal/backend"
	"github.com/appchainio/agentd/internal/dispatch"
)

func registerFaucet(d *dispatch.Dispatcher, deps Deps) error {
	getEnabled := func(ctx context.Context, req dispatch.Request) (interface{}, error) {
		return queryState(ctx, deps.Runtime, backend.FaucetEnabledPath())
	}

	setEnabled := func(ctx context.Context, req dispatch.Request) (backend.Effect, error) {
		if len(req.Args) != 1 {
			return backend.Effect{}, fmt.Errorf("usage: faucet setEnabled <0|1>")
		}
		var enabled bool
		switch req.Args[0] {
		case "0":
			enabled = false
		case "1":
			enabled = true
		default:
			return backend.Effect{}, fmt.Errorf("invalid flag %q: want 0 or 1", req.Args[0])
		}
		return backend.Effect{
			Kind:   backend.EffectFaucetSetEnabled,
			Params: map[string]interface{}{"enabled": enabled},
		}, nil
	}

	drip := func(ctx context.Context, req dispatch.Request) (backend.Effect, error) {
		address := deps.Signer.Address()
		if len(req.Args) > 0 {
			address = req.Args[0]
		}
		return backend.Effect{
			Kind:   backend.EffectFaucetDrip,
			Params: map[string]interface{}{"address": address},
		}, nil
	}

	if err := d.RegisterQuery("faucet", "getEnabled", getEnabled); err != nil {
		return err
	}
	if err := d.RegisterMutation("faucet", "setEnabled", setEnabled); err != nil {
		return err
	}
	return d.RegisterMutation("faucet", "drip", drip)
}
