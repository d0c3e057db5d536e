package store

import (
	"context"

	"github.com/rendis/flowrun/internal/pieces"
)

// Store persists flow-scoped key/value entries and project-scoped
// connection credentials. Implemented by LibSQLStore and MemoryStore.
type Store interface {
	PutKV(ctx context.Context, flowRunID, key string, value []byte) error
	// GetKV returns nil with no error when the key is absent.
	GetKV(ctx context.Context, flowRunID, key string) ([]byte, error)
	DeleteKV(ctx context.Context, flowRunID, key string) error

	UpsertConnection(ctx context.Context, projectID, name string, value map[string]any) error
	// GetConnection returns nil with no error when the connection is absent.
	GetConnection(ctx context.Context, projectID, name string) (map[string]any, error)

	Close() error
}

// ConnectionSource is the minimal lookup contract consumed by the engine's
// connection hook.
type ConnectionSource interface {
	GetConnection(ctx context.Context, projectID, name string) (map[string]any, error)
}

// FlowKV binds a Store to one flow run, satisfying the pieces.KVStore
// contract handed to action code.
type FlowKV struct {
	store     Store
	flowRunID string
}

// NewFlowKV creates a flow-scoped key/value view over the store.
func NewFlowKV(s Store, flowRunID string) *FlowKV {
	return &FlowKV{store: s, flowRunID: flowRunID}
}

func (kv *FlowKV) Put(ctx context.Context, key string, value []byte) error {
	return kv.store.PutKV(ctx, kv.flowRunID, key, value)
}

func (kv *FlowKV) Get(ctx context.Context, key string) ([]byte, error) {
	return kv.store.GetKV(ctx, kv.flowRunID, key)
}

func (kv *FlowKV) Delete(ctx context.Context, key string) error {
	return kv.store.DeleteKV(ctx, kv.flowRunID, key)
}

var _ pieces.KVStore = (*FlowKV)(nil)
