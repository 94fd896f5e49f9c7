// internal/handlers/nodes.go
package handlers

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/appchainio/agentd/internal/backend"
	"github.com/appchainio/agentd/internal/dispatch"
)

func registerNodes(d *dispatch.Dispatcher, deps Deps) error {
	getNode := func(ctx context.Context, req dispatch.Request) (interface{}, error) {
		if len(req.Args) != 1 {
			return nil, fmt.Errorf("usage: nodes getNode <identifier>")
		}
		return queryState(ctx, deps.Runtime, backend.NodePath(req.Args[0]))
	}

	register := func(ctx context.Context, req dispatch.Request) (backend.Effect, error) {
		if len(req.Args) != 3 {
			return backend.Effect{}, fmt.Errorf("usage: nodes register <identifier> <isGateway 0|1> <isService 0|1>")
		}
		isGateway, err := parseFlag(req.Args[1])
		if err != nil {
			return backend.Effect{}, err
		}
		isService, err := parseFlag(req.Args[2])
		if err != nil {
			return backend.Effect{}, err
		}
		params := map[string]interface{}{
			"identifier":    req.Args[0],
			"administrator": deps.Signer.Address(),
			"isGatewayNode": isGateway,
			"isServiceNode": isService,
		}
		if len(req.Payload) > 0 {
			params["identityKey"] = hex.EncodeToString(req.Payload)
		}
		return backend.Effect{Kind: backend.EffectNodeRegister, Params: params}, nil
	}

	if err := d.RegisterQuery("nodes", "getNode", getNode); err != nil {
		return err
	}
	return d.RegisterMutation("nodes", "register", register)
}

func parseFlag(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, fmt.Errorf("invalid flag %q: want 0 or 1", s)
}
