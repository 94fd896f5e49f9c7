// internal/handlers/pki.go
package handlers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/appchainio/agentd/internal/backend"
	"github.com/appchainio/agentd/internal/dispatch"
)

func registerPKI(d *dispatch.Dispatcher, deps Deps) error {
	getDocument := func(ctx context.Context, req dispatch.Request) (interface{}, error) {
		if len(req.Args) != 1 {
			return nil, fmt.Errorf("usage: pki getDocument <epoch>")
		}
		epoch, err := parseEpoch(req.Args[0])
		if err != nil {
			return nil, err
		}
		record, err := queryState(ctx, deps.Runtime, backend.PKIDocumentPath(epoch))
		if err != nil || record == nil {
			return nil, err
		}
		return recordBlob(ctx, deps, record, fmt.Sprintf("document for epoch %d", epoch))
	}

	getGenesisEpoch := func(ctx context.Context, req dispatch.Request) (interface{}, error) {
		value, err := queryState(ctx, deps.Runtime, backend.PKIGenesisEpochPath())
		if err != nil || value == nil {
			return nil, err
		}
		if f, ok := value.(float64); ok {
			return strconv.FormatUint(uint64(f), 10), nil
		}
		return value, nil
	}

	setDocument := func(ctx context.Context, req dispatch.Request) (backend.Effect, error) {
		if len(req.Args) != 1 {
			return backend.Effect{}, fmt.Errorf("usage: pki setDocument <epoch>")
		}
		epoch, err := parseEpoch(req.Args[0])
		if err != nil {
			return backend.Effect{}, err
		}
		if len(req.Payload) == 0 {
			return backend.Effect{}, fmt.Errorf("pki setDocument: empty document payload")
		}
		id, err := deps.Blobs.Put(ctx, req.Payload)
		if err != nil {
			return backend.Effect{}, fmt.Errorf("failed to store document: %w", err)
		}
		return backend.Effect{
			Kind: backend.EffectPKISetDocument,
			Params: map[string]interface{}{
				"epoch": epoch,
				"blob":  id,
				"size":  len(req.Payload),
			},
		}, nil
	}

	getMixDescriptor := func(ctx context.Context, req dispatch.Request) (interface{}, error) {
		if len(req.Args) != 2 {
			return nil, fmt.Errorf("usage: pki getMixDescriptor <epoch> <identifier>")
		}
		epoch, err := parseEpoch(req.Args[0])
		if err != nil {
			return nil, err
		}
		record, err := queryState(ctx, deps.Runtime, backend.MixDescriptorPath(epoch, req.Args[1]))
		if err != nil || record == nil {
			return nil, err
		}
		return recordBlob(ctx, deps, record,
			fmt.Sprintf("descriptor %s at epoch %d", req.Args[1], epoch))
	}

	getMixDescriptorByIndex := func(ctx context.Context, req dispatch.Request) (interface{}, error) {
		if len(req.Args) != 2 {
			return nil, fmt.Errorf("usage: pki getMixDescriptorByIndex <epoch> <index>")
		}
		epoch, err := parseEpoch(req.Args[0])
		if err != nil {
			return nil, err
		}
		index, err := strconv.ParseUint(req.Args[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q", req.Args[1])
		}
		value, err := queryState(ctx, deps.Runtime, backend.MixDescriptorIndexPath(epoch, index))
		if err != nil || value == nil {
			return nil, err
		}
		identifier, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("corrupt descriptor index %d at epoch %d", index, epoch)
		}
		record, err := queryState(ctx, deps.Runtime, backend.MixDescriptorPath(epoch, identifier))
		if err != nil || record == nil {
			return nil, err
		}
		return recordBlob(ctx, deps, record,
			fmt.Sprintf("descriptor %s at epoch %d", identifier, epoch))
	}

	getMixDescriptorCounter := func(ctx context.Context, req dispatch.Request) (interface{}, error) {
		if len(req.Args) != 1 {
			return nil, fmt.Errorf("usage: pki getMixDescriptorCounter <epoch>")
		}
		epoch, err := parseEpoch(req.Args[0])
		if err != nil {
			return nil, err
		}
		value, err := queryState(ctx, deps.Runtime, backend.MixDescriptorCounterPath(epoch))
		if err != nil {
			return nil, err
		}
		if value == nil {
			// An epoch with no publications has a counter of zero, not an
			// undefined one.
			return "0", nil
		}
		if f, ok := value.(float64); ok {
			return strconv.FormatUint(uint64(f), 10), nil
		}
		return value, nil
	}

	setMixDescriptor := func(ctx context.Context, req dispatch.Request) (backend.Effect, error) {
		if len(req.Args) != 2 {
			return backend.Effect{}, fmt.Errorf("usage: pki setMixDescriptor <epoch> <identifier>")
		}
		epoch, err := parseEpoch(req.Args[0])
		if err != nil {
			return backend.Effect{}, err
		}
		if len(req.Payload) == 0 {
			return backend.Effect{}, fmt.Errorf("pki setMixDescriptor: empty descriptor payload")
		}
		id, err := deps.Blobs.Put(ctx, req.Payload)
		if err != nil {
			return backend.Effect{}, fmt.Errorf("failed to store descriptor: %w", err)
		}
		return backend.Effect{
			Kind: backend.EffectPKISetMixDesc,
			Params: map[string]interface{}{
				"epoch":      epoch,
				"identifier": req.Args[1],
				"blob":       id,
				"size":       len(req.Payload),
			},
		}, nil
	}

	if err := d.RegisterQuery("pki", "getDocument", getDocument); err != nil {
		return err
	}
	if err := d.RegisterQuery("pki", "getGenesisEpoch", getGenesisEpoch); err != nil {
		return err
	}
	if err := d.RegisterQuery("pki", "getMixDescriptor", getMixDescriptor); err != nil {
		return err
	}
	if err := d.RegisterQuery("pki", "getMixDescriptorByIndex", getMixDescriptorByIndex); err != nil {
		return err
	}
	if err := d.RegisterQuery("pki", "getMixDescriptorCounter", getMixDescriptorCounter); err != nil {
		return err
	}
	if err := d.RegisterMutation("pki", "setDocument", setDocument); err != nil {
		return err
	}
	return d.RegisterMutation("pki", "setMixDescriptor", setMixDescriptor)
}

func parseEpoch(arg string) (uint64, error) {
	epoch, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid epoch %q", arg)
	}
	return epoch, nil
}

// recordBlob resolves a state record to the body stored in the blob store.
// The record only holds the content id.
func recordBlob(ctx context.Context, deps Deps, record interface{}, what string) ([]byte, error) {
	fields, ok := record.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("corrupt record for %s", what)
	}
	blobID, ok := fields["blob"].(string)
	if !ok {
		return nil, fmt.Errorf("record for %s has no blob id", what)
	}
	return deps.Blobs.Get(ctx, blobID)
}
