// Package blobstore provides content-addressable storage for payloads too
// large to inline in on-chain records. Records reference blobs by the hex
// SHA-256 of their content.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/appchainio/agentd/pkg/errors"
)

// Store is the narrow blob contract: content in, identifier out.
type Store interface {
	// Put stores data and returns its content identifier. Storing the same
	// content twice returns the same identifier.
	Put(ctx context.Context, data []byte) (string, error)
	// Get returns the content for an identifier, or an error wrapping
	// errors.ErrNotFound.
	Get(ctx context.Context, id string) ([]byte, error)
}

// ContentID returns the identifier for a blob's content.
func ContentID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Memory is an in-process Store used by tests and one-shot runs without
// external storage.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Put stores data keyed by its content id.
func (m *Memory) Put(ctx context.Context, data []byte) (string, error) {
	id := ContentID(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[id]; !ok {
		m.blobs[id] = append([]byte(nil), data...)
	}
	return id, nil
}

// Get returns stored content by id.
func (m *Memory) Get(ctx context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[id]
	if !ok {
		return nil, errors.WrapWithDomain(errors.ErrNotFound, "blobstore")
	}
	return append([]byte(nil), data...), nil
}
