// mempool/mempool.go
package mempool

import (
	"errors"
	"sync"
	"time"
)

// ErrDuplicate is returned when an entry repeats a transaction id that is
// already pending.
var ErrDuplicate = errors.New("transaction already in pool")

// Entry is one accepted submission: a single signed transaction or a whole
// group, which must be confirmed together.
type Entry struct {
	// TxIDs lists member transaction ids in submission order.
	TxIDs []string
	// Records holds the raw signed records, index-aligned with TxIDs.
	Records [][]byte
	// LastValid is the earliest last-valid round among the members.
	LastValid uint64
	Added     time.Time
}

// ID returns the id of the entry's first transaction.
func (e *Entry) ID() string {
	if len(e.TxIDs) == 0 {
		return ""
	}
	return e.TxIDs[0]
}

// Mempool keeps pending entries in arrival order.
type Mempool struct {
	order []*Entry
	byTx  map[string]*Entry
	mutex sync.RWMutex
}

// NewMempool creates a new mempool
func NewMempool() *Mempool {
	return &Mempool{
		byTx: make(map[string]*Entry),
	}
}

// AddItem appends an entry. Nothing is added if any of its transactions is
// already pending.
func (mp *Mempool) AddItem(e *Entry) error {
	mp.mutex.Lock()
	defer mp.mutex.Unlock()

	for _, id := range e.TxIDs {
		if _, exists := mp.byTx[id]; exists {
			return ErrDuplicate
		}
	}
	if e.Added.IsZero() {
		e.Added = time.Now()
	}
	mp.order = append(mp.order, e)
	for _, id := range e.TxIDs {
		mp.byTx[id] = e
	}
	return nil
}

// GetItem returns the entry holding txid.
func (mp *Mempool) GetItem(txid string) (*Entry, bool) {
	mp.mutex.RLock()
	defer mp.mutex.RUnlock()

	e, exists := mp.byTx[txid]
	return e, exists
}

// RemoveProcessedItems drops entries after they have been confirmed or
// discarded.
func (mp *Mempool) RemoveProcessedItems(entries []*Entry) {
	mp.mutex.Lock()
	defer mp.mutex.Unlock()

	drop := make(map[*Entry]bool, len(entries))
	for _, e := range entries {
		drop[e] = true
		for _, id := range e.TxIDs {
			if mp.byTx[id] == e {
				delete(mp.byTx, id)
			}
		}
	}
	kept := mp.order[:0]
	for _, e := range mp.order {
		if !drop[e] {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(mp.order); i++ {
		mp.order[i] = nil
	}
	mp.order = kept
}

// GetPendingItems returns up to max entries, oldest first. Max <= 0 means
// all of them.
func (mp *Mempool) GetPendingItems(max int) []*Entry {
	mp.mutex.RLock()
	defer mp.mutex.RUnlock()

	n := len(mp.order)
	if max > 0 && max < n {
		n = max
	}
	result := make([]*Entry, n)
	copy(result, mp.order[:n])
	return result
}

// Expire removes and returns the entries that can no longer be confirmed at
// round.
func (mp *Mempool) Expire(round uint64) []*Entry {
	mp.mutex.RLock()
	var expired []*Entry
	for _, e := range mp.order {
		if e.LastValid < round {
			expired = append(expired, e)
		}
	}
	mp.mutex.RUnlock()

	if len(expired) > 0 {
		mp.RemoveProcessedItems(expired)
	}
	return expired
}

// GetSize returns the number of pending transactions.
func (mp *Mempool) GetSize() int {
	mp.mutex.RLock()
	defer mp.mutex.RUnlock()

	return len(mp.byTx)
}

