// internal/handlers/token.go
package handlers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/appchainio/agentd/internal/backend"
	"github.com/appchainio/agentd/internal/dispatch"
)

func registerToken(d *dispatch.Dispatcher, deps Deps) error {
	getBalance := func(ctx context.Context, req dispatch.Request) (interface{}, error) {
		address := deps.Signer.Address()
		if len(req.Args) > 0 {
			address = req.Args[0]
		}
		value, err := queryState(ctx, deps.Runtime, backend.BalancePath(address))
		if err != nil || value == nil {
			return nil, err
		}
		// Balances travel as decimal strings so clients do not lose
		// precision to floating point JSON numbers.
		if f, ok := value.(float64); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
		return value, nil
	}

	transfer := func(ctx context.Context, req dispatch.Request) (backend.Effect, error) {
		if len(req.Args) != 2 {
			return backend.Effect{}, fmt.Errorf("usage: token transfer <to> <amount>")
		}
		amount, err := strconv.ParseFloat(req.Args[1], 64)
		if err != nil || amount <= 0 {
			return backend.Effect{}, fmt.Errorf("invalid amount %q", req.Args[1])
		}
		return backend.Effect{
			Kind: backend.EffectTokenTransfer,
			Params: map[string]interface{}{
				"to":     req.Args[0],
				"amount": amount,
			},
		}, nil
	}

	if err := d.RegisterQuery("token", "getBalance", getBalance); err != nil {
		return err
	}
	return d.RegisterMutation("token", "transfer", transfer)
}
