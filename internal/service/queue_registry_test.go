package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-engine/internal/config"
	"github.com/spec-kit/ticket-engine/internal/repository"
	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

func TestQueueRegistryCaseInsensitive(t *testing.T) {
	store := repository.NewMemoryStore()
	registry := NewQueueRegistry(store, nil, nil)
	ctx := context.Background()

	first, err := registry.GetOrCreateQueue(ctx, "Req")
	require.NoError(t, err)
	second, err := registry.GetOrCreateQueue(ctx, " REQ ")
	require.NoError(t, err)
	assert.Equal(t, "Req", first.Name)
	assert.Equal(t, first.Name, second.Name)
	assert.Nil(t, second.AutomaticAssignee)

	queues, err := registry.ListQueues(ctx)
	require.NoError(t, err)
	assert.Len(t, queues, 1)

	_, err = registry.GetOrCreateQueue(ctx, "  ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestQueueRegistryConcurrentCreate(t *testing.T) {
	store := repository.NewMemoryStore()
	registry := NewQueueRegistry(store, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.GetOrCreateQueue(ctx, "plot")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	queues, err := store.ListQueues(ctx)
	require.NoError(t, err)
	assert.Len(t, queues, 1)
}

func TestSetAutomaticAssignee(t *testing.T) {
	store := repository.NewMemoryStore()
	registry := NewQueueRegistry(store, staffPolicy("bob"), nil)
	ctx := context.Background()
	_, err := registry.GetOrCreateQueue(ctx, "REQ")
	require.NoError(t, err)

	_, err = registry.SetAutomaticAssignee(ctx, "REQ", strPtr("alice"), "alice")
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	_, err = registry.SetAutomaticAssignee(ctx, "missing", strPtr("bob"), "bob")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	q, err := registry.SetAutomaticAssignee(ctx, "req", strPtr(" quartermaster "), "bob")
	require.NoError(t, err)
	assert.Equal(t, "quartermaster", *q.AutomaticAssignee)

	cached, err := registry.GetOrCreateQueue(ctx, "REQ")
	require.NoError(t, err)
	assert.Equal(t, "quartermaster", *cached.AutomaticAssignee)

	*cached.AutomaticAssignee = "mutated"
	again, err := registry.GetOrCreateQueue(ctx, "REQ")
	require.NoError(t, err)
	assert.Equal(t, "quartermaster", *again.AutomaticAssignee, "callers get copies")

	cleared, err := registry.SetAutomaticAssignee(ctx, "REQ", nil, "bob")
	require.NoError(t, err)
	assert.Nil(t, cleared.AutomaticAssignee)
}

func TestQueueRegistrySeedAndLoad(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	seeder := NewQueueRegistry(store, nil, nil)
	require.NoError(t, seeder.Seed(ctx, []config.QueueDefinition{
		{Name: "REQ", AutomaticAssignee: "quartermaster"},
		{Name: "Renown"},
	}))

	fresh := NewQueueRegistry(store, nil, nil)
	require.NoError(t, fresh.Load(ctx))
	q, err := fresh.GetOrCreateQueue(ctx, "req")
	require.NoError(t, err)
	require.NotNil(t, q.AutomaticAssignee)
	assert.Equal(t, "quartermaster", *q.AutomaticAssignee)

	queues, err := fresh.ListQueues(ctx)
	require.NoError(t, err)
	assert.Len(t, queues, 2)
}
