// Package devnet is a single-process development node. It accepts signed
// records over the node HTTP interface, checks them the way a network node
// would, and confirms pending entries in arrival order once per round.
//
// It keeps no balances: it exists to exercise signing, grouping and
// submission end to end, not to model accounts.
package devnet

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"custodyledger_go/address"
	"custodyledger_go/group"
	"custodyledger_go/mempool"
	"custodyledger_go/node"
	"custodyledger_go/signing"
	"custodyledger_go/transaction"
	"custodyledger_go/utils"
)

const (
	// DefaultGenesisID names the development network.
	DefaultGenesisID = "devnet-v1"
	// maxBlockEntries bounds the pool entries confirmed per round.
	maxBlockEntries = 100
	// poolErrorHistory bounds how many dropped transactions are remembered.
	poolErrorHistory = 4096
)

// Config configures a ledger.
type Config struct {
	GenesisID string
	// MinFee is the fee floor; zero means transaction.MinFee.
	MinFee uint64
	// Fee is the suggested per-byte fee.
	Fee uint64
}

// Rejection is a submission the ledger refused. Message is returned to the
// client unchanged.
type Rejection struct {
	Message string
}

func (r *Rejection) Error() string { return r.Message }

func reject(format string, args ...interface{}) *Rejection {
	return &Rejection{Message: fmt.Sprintf(format, args...)}
}

// Ledger is the devnet chain state: the current round, the rekey table, the
// pending pool and the block store.
type Ledger struct {
	mu          sync.Mutex
	genesisID   string
	genesisHash address.Digest
	minFee      uint64
	fee         uint64

	round uint64
	prev  []byte
	// auth maps a rekeyed sender to the address that now signs for it.
	auth map[address.Address]address.Address

	pool       *mempool.Mempool
	poolErrors *lru.Cache[string, string]
	store      *Store
	roundCh    chan struct{}
	log        zerolog.Logger
}

// NewLedger opens a ledger over store, replaying stored blocks to rebuild
// the rekey table.
func NewLedger(cfg Config, store *Store) (*Ledger, error) {
	if cfg.GenesisID == "" {
		cfg.GenesisID = DefaultGenesisID
	}
	if cfg.MinFee == 0 {
		cfg.MinFee = transaction.MinFee
	}
	poolErrors, err := lru.New[string, string](poolErrorHistory)
	if err != nil {
		return nil, err
	}
	l := &Ledger{
		genesisID:   cfg.GenesisID,
		genesisHash: GenesisHash(cfg.GenesisID),
		minFee:      cfg.MinFee,
		fee:         cfg.Fee,
		auth:        make(map[address.Address]address.Address),
		pool:        mempool.NewMempool(),
		poolErrors:  poolErrors,
		store:       store,
		roundCh:     make(chan struct{}),
		log:         utils.Component("devnet"),
	}

	err = store.ForEachBlock(func(b *Block) error {
		for i, raw := range b.Payset {
			st, err := signing.Decode(raw)
			if err != nil {
				return fmt.Errorf("block %d record %d: %w", b.Round, i, err)
			}
			applyRekey(l.auth, st.Txn)
		}
		l.round = b.Round
		h := b.Hash()
		l.prev = h[:]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay chain: %w", err)
	}
	l.log.Info().Str("genesis_id", l.genesisID).Uint64("round", l.round).Int("rekeyed", len(l.auth)).Msg("ledger loaded")
	return l, nil
}

// GenesisHash derives the devnet genesis hash from its id.
func GenesisHash(genesisID string) address.Digest {
	return address.Hash([]byte("genesis"), []byte(genesisID))
}

// Params returns the current transaction parameters.
func (l *Ledger) Params() node.Params {
	l.mu.Lock()
	defer l.mu.Unlock()
	return node.Params{
		Fee:         l.fee,
		MinFee:      l.minFee,
		LastRound:   l.round,
		GenesisID:   l.genesisID,
		GenesisHash: l.genesisHash,
	}
}

// Status returns the last round.
func (l *Ledger) Status() node.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return node.Status{LastRound: l.round}
}

// AuthAddr returns the address currently authorized to sign for sender.
func (l *Ledger) AuthAddr(sender address.Address) address.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return authorizer(l.auth, sender)
}

func authorizer(auth map[address.Address]address.Address, sender address.Address) address.Address {
	if a, ok := auth[sender]; ok {
		return a
	}
	return sender
}

func applyRekey(auth map[address.Address]address.Address, tx *transaction.Transaction) {
	switch {
	case tx.RekeyTo.IsZero():
	case tx.RekeyTo == tx.Sender:
		delete(auth, tx.Sender)
	default:
		auth[tx.Sender] = tx.RekeyTo
	}
}

// Submit checks one or more concatenated signed records and adds them to
// the pool as a single entry. It returns the id of the first transaction.
func (l *Ledger) Submit(raw []byte) (string, error) {
	stxns, raws, err := signing.DecodeStream(raw)
	if err != nil {
		Rejections.Inc()
		return "", reject("%v", err)
	}
	if len(stxns) > transaction.MaxGroupSize {
		Rejections.Inc()
		return "", reject("%d transactions exceed the group limit of %d", len(stxns), transaction.MaxGroupSize)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ids, lastValid, err := l.check(stxns)
	if err != nil {
		Rejections.Inc()
		return "", err
	}
	entry := &mempool.Entry{TxIDs: ids, Records: raws, LastValid: lastValid}
	if err := l.pool.AddItem(entry); err != nil {
		Rejections.Inc()
		return "", reject("%v", err)
	}
	PoolSize.Set(float64(l.pool.GetSize()))
	l.log.Debug().Str("txid", ids[0]).Int("records", len(ids)).Msg("accepted into pool")
	return ids[0], nil
}

func (l *Ledger) check(stxns []*signing.SignedTransaction) ([]string, uint64, error) {
	result := &multierror.Error{ErrorFormat: joinErrors}
	next := l.round + 1
	ids := make([]string, len(stxns))
	seen := make(map[string]bool, len(stxns))
	lastValid := ^uint64(0)

	for i, st := range stxns {
		id, err := st.Txn.ID()
		if err != nil {
			return nil, 0, reject("%v", err)
		}
		ids[i] = id
		if seen[id] {
			result = multierror.Append(result, fmt.Errorf("transaction %s appears twice", id))
			continue
		}
		seen[id] = true
		if err := l.checkTxn(st, id, next); err != nil {
			result = multierror.Append(result, fmt.Errorf("transaction %s: %w", id, err))
		}
		if st.Txn.LastValid < lastValid {
			lastValid = st.Txn.LastValid
		}
	}
	if err := checkGroup(stxns); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, 0, reject("%v", err)
	}
	return ids, lastValid, nil
}

func (l *Ledger) checkTxn(st *signing.SignedTransaction, id string, next uint64) error {
	tx := st.Txn
	if err := tx.Validate(); err != nil {
		return err
	}
	if tx.GenesisID != "" && tx.GenesisID != l.genesisID {
		return fmt.Errorf("genesis id %q does not match %q", tx.GenesisID, l.genesisID)
	}
	if tx.GenesisHash != l.genesisHash {
		return fmt.Errorf("genesis hash %s does not match", tx.GenesisHash)
	}
	if next < tx.FirstValid || next > tx.LastValid {
		return fmt.Errorf("round %d outside of %d--%d", next, tx.FirstValid, tx.LastValid)
	}
	if tx.Fee < l.minFee {
		return fmt.Errorf("fee %d below minimum %d", tx.Fee, l.minFee)
	}
	if _, found, err := l.store.TxRound(id); err != nil {
		return err
	} else if found {
		return fmt.Errorf("transaction already in ledger")
	}
	if _, pending := l.pool.GetItem(id); pending {
		return fmt.Errorf("transaction already in pool")
	}

	want := authorizer(l.auth, tx.Sender)
	if got := st.Signer(); got != want {
		return fmt.Errorf("should have been authorized by %s but was actually authorized by %s", want, got)
	}
	msg, err := tx.BytesToSign()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(st.Signer().PublicKey()), msg, st.Sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// checkGroup requires records posted together to form exactly one complete
// group, in order.
func checkGroup(stxns []*signing.SignedTransaction) error {
	gid := stxns[0].Txn.Group()
	txs := make([]*transaction.Transaction, len(stxns))
	for i, st := range stxns {
		if st.Txn.Group() != gid {
			return fmt.Errorf("transaction %d carries group %s, want %s", i, st.Txn.Group(), gid)
		}
		txs[i] = st.Txn
	}
	if gid.IsZero() {
		if len(stxns) > 1 {
			return fmt.Errorf("%d ungrouped transactions posted together", len(stxns))
		}
		return nil
	}
	id, err := group.ComputeID(txs)
	if err != nil {
		return err
	}
	if id != gid {
		return fmt.Errorf("incomplete group: %s != %s", id, gid)
	}
	return nil
}

func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Pending reports where txid stands. The second result is false when the
// ledger has never seen it.
func (l *Ledger) Pending(txid string) (node.PendingTransaction, bool, error) {
	round, found, err := l.store.TxRound(txid)
	if err != nil {
		return node.PendingTransaction{}, false, err
	}
	if found {
		return node.PendingTransaction{ConfirmedRound: round}, true, nil
	}
	if msg, ok := l.poolErrors.Get(txid); ok {
		return node.PendingTransaction{PoolError: msg}, true, nil
	}
	if _, ok := l.pool.GetItem(txid); ok {
		return node.PendingTransaction{}, true, nil
	}
	return node.PendingTransaction{}, false, nil
}

// MakeBlock closes the next round. Entries past their validity window are
// dropped with a pool error; the rest are confirmed oldest first, each
// entry all or nothing.
func (l *Ledger) MakeBlock() (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	round := l.round + 1
	for _, e := range l.pool.Expire(round) {
		l.drop(e, fmt.Sprintf("transaction expired before round %d", round))
	}

	auth := make(map[address.Address]address.Address, len(l.auth))
	for k, v := range l.auth {
		auth[k] = v
	}
	blk := &Block{Round: round, Timestamp: time.Now().Unix(), Prev: l.prev}
	var processed, dropped []*mempool.Entry

	for _, e := range l.pool.GetPendingItems(maxBlockEntries) {
		processed = append(processed, e)
		stxns := make([]*signing.SignedTransaction, len(e.Records))
		var reason string
		for i, raw := range e.Records {
			st, err := signing.Decode(raw)
			if err != nil {
				reason = err.Error()
				break
			}
			// an earlier rekey in this block may have moved the authorization
			if want := authorizer(auth, st.Txn.Sender); st.Signer() != want {
				reason = fmt.Sprintf("should have been authorized by %s but was actually authorized by %s", want, st.Signer())
				break
			}
			stxns[i] = st
		}
		if reason != "" {
			dropped = append(dropped, e)
			l.poolError(e, reason)
			continue
		}
		for _, st := range stxns {
			applyRekey(auth, st.Txn)
		}
		blk.TxIDs = append(blk.TxIDs, e.TxIDs...)
		blk.Payset = append(blk.Payset, e.Records...)
	}

	if err := l.store.SaveBlock(blk); err != nil {
		for _, e := range dropped {
			for _, id := range e.TxIDs {
				l.poolErrors.Remove(id)
			}
		}
		return nil, err
	}
	l.pool.RemoveProcessedItems(processed)
	l.auth = auth
	l.round = round
	h := blk.Hash()
	l.prev = h[:]
	close(l.roundCh)
	l.roundCh = make(chan struct{})

	Blocks.Inc()
	ConfirmedTransactions.Add(float64(len(blk.TxIDs)))
	LastRound.Set(float64(round))
	PoolSize.Set(float64(l.pool.GetSize()))
	l.log.Info().Uint64("round", round).Int("txns", len(blk.TxIDs)).Msg("block made")
	return blk, nil
}

func (l *Ledger) drop(e *mempool.Entry, reason string) {
	l.poolError(e, reason)
	PoolSize.Set(float64(l.pool.GetSize()))
}

func (l *Ledger) poolError(e *mempool.Entry, reason string) {
	for _, id := range e.TxIDs {
		l.poolErrors.Add(id, reason)
	}
	DroppedTransactions.Add(float64(len(e.TxIDs)))
	l.log.Info().Str("txid", e.ID()).Str("reason", reason).Msg("dropped from pool")
}

// WaitForBlockAfter blocks until the chain is past round or ctx ends, then
// returns the status.
func (l *Ledger) WaitForBlockAfter(ctx context.Context, round uint64) node.Status {
	for {
		l.mu.Lock()
		current, ch := l.round, l.roundCh
		l.mu.Unlock()
		if current > round {
			return node.Status{LastRound: current}
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return node.Status{LastRound: current}
		}
	}
}

// Run makes a block every interval until ctx is cancelled.
func (l *Ledger) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.MakeBlock(); err != nil {
				l.log.Error().Err(err).Msg("failed to make block")
			}
		}
	}
}
