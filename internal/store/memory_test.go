package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreKVRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.PutKV(ctx, "run-1", "cursor", []byte("page-3")))

	got, err := s.GetKV(ctx, "run-1", "cursor")
	require.NoError(t, err)
	assert.Equal(t, []byte("page-3"), got)
}

func TestMemoryStoreKVAbsentIsNil(t *testing.T) {
	s := NewMemoryStore()

	got, err := s.GetKV(context.Background(), "run-1", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreKVScopedByRun(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.PutKV(ctx, "run-1", "k", []byte("one")))
	require.NoError(t, s.PutKV(ctx, "run-2", "k", []byte("two")))

	got, err := s.GetKV(ctx, "run-2", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func TestMemoryStoreKVDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.PutKV(ctx, "run-1", "k", []byte("v")))
	require.NoError(t, s.DeleteKV(ctx, "run-1", "k"))

	got, err := s.GetKV(ctx, "run-1", "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreKVCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	value := []byte("original")
	require.NoError(t, s.PutKV(ctx, "run-1", "k", value))
	value[0] = 'X'

	got, err := s.GetKV(ctx, "run-1", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}

func TestMemoryStoreConnections(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertConnection(ctx, "proj-1", "crm", map[string]any{"key": "a"}))
	require.NoError(t, s.UpsertConnection(ctx, "proj-1", "crm", map[string]any{"key": "b"}))

	got, err := s.GetConnection(ctx, "proj-1", "crm")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": "b"}, got)

	absent, err := s.GetConnection(ctx, "proj-2", "crm")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestFlowKVBindsRun(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	kv := NewFlowKV(s, "run-1")
	require.NoError(t, kv.Put(ctx, "state", []byte("ready")))

	got, err := s.GetKV(ctx, "run-1", "state")
	require.NoError(t, err)
	assert.Equal(t, []byte("ready"), got)

	other := NewFlowKV(s, "run-2")
	fromOther, err := other.Get(ctx, "state")
	require.NoError(t, err)
	assert.Nil(t, fromOther)

	require.NoError(t, kv.Delete(ctx, "state"))
	gone, err := kv.Get(ctx, "state")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
