package keeper_test

import (
	"testing"

	"github.com/lanternfi/lantern-keeper/internal/keeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EnqueueDedup(t *testing.T) {
	q := keeper.NewQueue()

	assert.True(t, q.Enqueue("0xaaa"))
	assert.False(t, q.Enqueue("0xaaa")) // duplicado
	assert.True(t, q.Enqueue("0xbbb"))
	assert.False(t, q.Enqueue("")) // vacío no entra

	assert.Equal(t, 2, q.Len())
	assert.True(t, q.Contains("0xaaa"))
	assert.False(t, q.Contains("0xccc"))
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := keeper.NewQueue()
	q.Enqueue("0x001")
	q.Enqueue("0x002")
	q.Enqueue("0x003")

	batch := q.DequeueBatch(2)
	require.Equal(t, []string{"0x001", "0x002"}, batch)
	assert.Equal(t, 1, q.Len())

	// Los ids dequeued pueden volver a entrar
	assert.True(t, q.Enqueue("0x001"))
	batch = q.DequeueBatch(10)
	assert.Equal(t, []string{"0x003", "0x001"}, batch)
	assert.Zero(t, q.Len())
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := keeper.NewQueue()
	assert.Nil(t, q.DequeueBatch(5))
	assert.Nil(t, q.DequeueBatch(0))
}

func TestQueue_Remove(t *testing.T) {
	q := keeper.NewQueue()
	q.Enqueue("0xaaa")
	q.Enqueue("0xbbb")
	q.Enqueue("0xccc")

	assert.True(t, q.Remove("0xbbb"))
	assert.False(t, q.Remove("0xbbb")) // ya no está
	assert.False(t, q.Remove("0xzzz"))

	batch := q.DequeueBatch(10)
	assert.Equal(t, []string{"0xaaa", "0xccc"}, batch)
}
