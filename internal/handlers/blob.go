// internal/handlers/blob.go
package handlers

import (
	"context"
	"fmt"

	"github.com/appchainio/agentd/internal/dispatch"
)

// Blob commands are direct store operations, not chain transactions: they
// do not pass through the transaction queue.
func registerBlob(d *dispatch.Dispatcher, deps Deps) error {
	put := func(ctx context.Context, req dispatch.Request) (interface{}, error) {
		if len(req.Payload) == 0 {
			return nil, fmt.Errorf("blob put: empty payload")
		}
		return deps.Blobs.Put(ctx, req.Payload)
	}

	get := func(ctx context.Context, req dispatch.Request) (interface{}, error) {
		if len(req.Args) != 1 {
			return nil, fmt.Errorf("usage: blob get <id>")
		}
		return deps.Blobs.Get(ctx, req.Args[0])
	}

	if err := d.RegisterDirect("blob", "put", put); err != nil {
		return err
	}
	return d.RegisterDirect("blob", "get", get)
}
