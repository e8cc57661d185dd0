package devnet

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodyledger_go/gateway"
	"custodyledger_go/group"
	"custodyledger_go/node"
	"custodyledger_go/transaction"
	"custodyledger_go/txerr"
)

func serve(t *testing.T, f *fixture, token string, blockInterval time.Duration) *node.Client {
	t.Helper()
	srv := httptest.NewServer(NewServer(f.ledger, token, 200*time.Millisecond).Router)
	t.Cleanup(srv.Close)

	if blockInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			f.ledger.Run(ctx, blockInterval)
			close(done)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	client, err := node.NewClient(node.Config{URL: srv.URL, Token: token, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return client
}

func TestEndToEndGroupAndSingle(t *testing.T) {
	f := newFixture(t, 3)
	client := serve(t, f, "", 20*time.Millisecond)
	gw := gateway.New(client, 50)
	ctx := context.Background()

	sp, err := gw.SuggestedParams(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultGenesisID, sp.GenesisID)
	assert.Equal(t, GenesisHash(DefaultGenesisID), sp.GenesisHash)

	build := func(from, to int, amount int64) *transaction.Transaction {
		tx, err := transaction.Build(sp, &transaction.PaymentRequest{
			Common:   transaction.Common{Sender: f.addrs[from].String()},
			Receiver: f.addrs[to].String(),
			Amount:   amount,
		})
		require.NoError(t, err)
		return tx
	}

	grp, err := group.NewCoordinator(f.ks, 2).Build(ctx, []group.Member{
		{Txn: build(0, 1, 100), Signer: f.ids[0]},
		{Txn: build(1, 2, 200), Signer: f.ids[1]},
		{Txn: build(2, 0, 300), Signer: f.ids[2]},
	})
	require.NoError(t, err)

	conf, err := gw.SubmitGroup(ctx, grp)
	require.NoError(t, err)
	assert.True(t, conf.Confirmed)
	assert.Equal(t, grp.TxIDs()[0], conf.TransactionID)
	for _, id := range grp.TxIDs() {
		p, err := client.PendingTransaction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, conf.ConfirmedRound, p.ConfirmedRound)
	}

	// the same bytes again are refused with the node's reason
	_, err = gw.SubmitGroup(ctx, grp)
	require.True(t, txerr.Is(err, txerr.SubmissionRejected), "got %v", err)
	var te *txerr.Error
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Message, "transaction already in ledger")

	single := f.sign(t, 0, build(0, 2, 1_000_000))
	conf, err = gw.Submit(ctx, single)
	require.NoError(t, err)
	assert.True(t, conf.Confirmed)
	assert.Equal(t, single.TxID, conf.TransactionID)
}

func TestConfirmationTimeoutWhenNoBlocks(t *testing.T) {
	f := newFixture(t, 2)
	client := serve(t, f, "", 0)
	res := f.sign(t, 0, f.pay(t, 0, 1, 9, ""))

	conf, err := gateway.New(client, 2).Submit(context.Background(), res)
	require.True(t, txerr.Is(err, txerr.ConfirmationTimeout), "got %v", err)
	require.NotNil(t, conf)
	assert.False(t, conf.Confirmed)

	_, err = f.ledger.MakeBlock()
	require.NoError(t, err)
	conf, err = gateway.New(client, 2).WaitForConfirmation(context.Background(), res.TxID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), conf.ConfirmedRound)
}

func TestServerToken(t *testing.T) {
	f := newFixture(t, 0)
	srv := httptest.NewServer(NewServer(f.ledger, "s3cret", time.Second).Router)
	defer srv.Close()

	bad, err := node.NewClient(node.Config{URL: srv.URL, Token: "wrong"})
	require.NoError(t, err)
	_, err = bad.Status(context.Background())
	var rejected *node.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusUnauthorized, rejected.Status)

	good, err := node.NewClient(node.Config{URL: srv.URL, Token: "s3cret"})
	require.NoError(t, err)
	status, err := good.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), status.LastRound)

	resp, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))
}

func TestServerLookupsAndWaits(t *testing.T) {
	f := newFixture(t, 0)
	client := serve(t, f, "", 0)
	ctx := context.Background()

	_, err := client.PendingTransaction(ctx, "UNKNOWNTXID")
	assert.ErrorIs(t, err, node.ErrNotFound)

	start := time.Now()
	status, err := client.StatusAfterBlock(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), status.LastRound, "wait ends at the server cap")
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	_, err = client.SendRawTransaction(ctx, []byte{0xc1})
	var rejected *node.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusBadRequest, rejected.Status)

	p, err := client.TransactionParams(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(transaction.MinFee), p.MinFee)
}
