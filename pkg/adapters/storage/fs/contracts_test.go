package fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/domain"
)

func TestContractPutGet(t *testing.T) {
	ctx := context.Background()
	store := NewContractStore(t.TempDir(), zap.NewNop())

	contract := domain.NewContract("core", "api", domain.DirectionInput, "api needs the query interface of core")
	require.NoError(t, store.Put(ctx, "proj", contract))

	got, err := store.Get(ctx, "proj", "core", "api", domain.DirectionInput)
	require.NoError(t, err)
	assert.Equal(t, contract.Content, got.Content)
	assert.Equal(t, contract.Version, got.Version)

	// Directions are distinct keys.
	_, err = store.Get(ctx, "proj", "core", "api", domain.DirectionOutput)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestContractPutReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewContractStore(t.TempDir(), zap.NewNop())

	first := domain.NewContract("core", "api", domain.DirectionOutput, "v1")
	second := domain.NewContract("core", "api", domain.DirectionOutput, "v2")
	require.NoError(t, store.Put(ctx, "proj", first))
	require.NoError(t, store.Put(ctx, "proj", second))

	got, err := store.Get(ctx, "proj", "core", "api", domain.DirectionOutput)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
	assert.NotEqual(t, first.Version, got.Version)
}

func TestContractListForNode(t *testing.T) {
	ctx := context.Background()
	store := NewContractStore(t.TempDir(), zap.NewNop())

	require.NoError(t, store.Put(ctx, "proj", domain.NewContract("core", "api", domain.DirectionInput, "a")))
	require.NoError(t, store.Put(ctx, "proj", domain.NewContract("core", "api", domain.DirectionOutput, "b")))
	require.NoError(t, store.Put(ctx, "proj", domain.NewContract("proto", "worker", domain.DirectionInput, "c")))

	contracts, err := store.ListForNode(ctx, "proj", "api")
	require.NoError(t, err)
	assert.Len(t, contracts, 2)

	contracts, err = store.ListForNode(ctx, "proj", "")
	require.NoError(t, err)
	assert.Len(t, contracts, 3)

	contracts, err = store.ListForNode(ctx, "proj", "web")
	require.NoError(t, err)
	assert.Empty(t, contracts)
}

func TestContractListUnknownProject(t *testing.T) {
	ctx := context.Background()
	store := NewContractStore(t.TempDir(), zap.NewNop())

	contracts, err := store.ListForNode(ctx, "nope", "")
	require.NoError(t, err)
	assert.Nil(t, contracts)
}
