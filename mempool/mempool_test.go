package mempool

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(lastValid uint64, ids ...string) *Entry {
	records := make([][]byte, len(ids))
	for i, id := range ids {
		records[i] = []byte(id)
	}
	return &Entry{TxIDs: ids, Records: records, LastValid: lastValid}
}

func TestMempoolKeepsArrivalOrder(t *testing.T) {
	mp := NewMempool()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, mp.AddItem(entry(100, id)))
	}

	pending := mp.GetPendingItems(0)
	require.Len(t, pending, 3)
	assert.Equal(t, "c", pending[0].ID())
	assert.Equal(t, "a", pending[1].ID())
	assert.Equal(t, "b", pending[2].ID())

	assert.Len(t, mp.GetPendingItems(2), 2)
	assert.False(t, pending[0].Added.IsZero())
}

func TestMempoolGroupEntries(t *testing.T) {
	mp := NewMempool()
	grp := entry(100, "g1", "g2", "g3")
	require.NoError(t, mp.AddItem(grp))
	assert.Equal(t, 3, mp.GetSize())

	got, ok := mp.GetItem("g2")
	require.True(t, ok)
	assert.Same(t, grp, got)

	err := mp.AddItem(entry(100, "x", "g3"))
	assert.ErrorIs(t, err, ErrDuplicate)
	_, ok = mp.GetItem("x")
	assert.False(t, ok, "a rejected entry leaves nothing behind")

	mp.RemoveProcessedItems([]*Entry{grp})
	assert.Equal(t, 0, mp.GetSize())
	_, ok = mp.GetItem("g1")
	assert.False(t, ok)
}

func TestMempoolExpire(t *testing.T) {
	mp := NewMempool()
	require.NoError(t, mp.AddItem(entry(5, "old")))
	require.NoError(t, mp.AddItem(entry(50, "fresh")))

	expired := mp.Expire(6)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].ID())

	pending := mp.GetPendingItems(0)
	require.Len(t, pending, 1)
	assert.Equal(t, "fresh", pending[0].ID())

	mp.RemoveProcessedItems(pending)
	assert.Equal(t, 0, mp.GetSize())
	assert.Empty(t, mp.GetPendingItems(0))
}

func TestMempoolConcurrentAdds(t *testing.T) {
	mp := NewMempool()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, mp.AddItem(entry(10, fmt.Sprintf("tx-%d", i))))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, mp.GetSize())
	assert.Len(t, mp.GetPendingItems(0), 50)
}
