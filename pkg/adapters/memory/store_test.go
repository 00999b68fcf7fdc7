package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/orchestra/pkg/adapters/memory"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ids"
	"github.com/aretw0/orchestra/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	ports.RunInstanceStoreContract(t, memory.NewStore())
}

func TestMemoryStore_StateMachineContract(t *testing.T) {
	ports.RunStateMachineStoreContract(t, memory.NewStore())
}

func TestMemoryStore_IDer(t *testing.T) {
	store := memory.NewStore(memory.WithIDer(ids.NewStaticIDs("first", "second")))
	ctx := context.Background()

	a, err := store.Save(ctx, &domain.StateExecutionInstance{RunID: "r", StateName: "A"})
	require.NoError(t, err)
	b, err := store.Save(ctx, &domain.StateExecutionInstance{RunID: "r", StateName: "B"})
	require.NoError(t, err)

	assert.Equal(t, "first", a.ID)
	assert.Equal(t, "second", b.ID)

	// The cycle wraps around; a colliding id is refused rather than overwritten.
	_, err = store.Save(ctx, &domain.StateExecutionInstance{RunID: "r", StateName: "C"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
