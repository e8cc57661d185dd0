// Package gateway relays signed transactions to a node and tracks them to
// confirmation. It never resubmits: once bytes have left, the only safe
// follow-up is to ask about the transaction id.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"

	"custodyledger_go/group"
	"custodyledger_go/node"
	"custodyledger_go/signing"
	"custodyledger_go/transaction"
	"custodyledger_go/txerr"
	"custodyledger_go/utils"
)

// DefaultMaxRounds is how many rounds to wait for a confirmation.
const DefaultMaxRounds = 10

// Node is the part of the node API the gateway needs.
type Node interface {
	TransactionParams(ctx context.Context) (*node.Params, error)
	SendRawTransaction(ctx context.Context, raw []byte) (string, error)
	PendingTransaction(ctx context.Context, txid string) (*node.PendingTransaction, error)
	Status(ctx context.Context) (*node.Status, error)
	StatusAfterBlock(ctx context.Context, round uint64) (*node.Status, error)
}

// Confirmation is the outcome of a submission.
type Confirmation struct {
	Confirmed      bool   `json:"confirmed"`
	TransactionID  string `json:"transaction_id"`
	ConfirmedRound uint64 `json:"confirmed_round,omitempty"`
}

// Gateway submits signed records and polls for their confirmation.
type Gateway struct {
	node      Node
	maxRounds uint64
	log       zerolog.Logger
}

// New returns a gateway over n that waits up to maxRounds rounds.
func New(n Node, maxRounds uint64) *Gateway {
	if maxRounds == 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Gateway{node: n, maxRounds: maxRounds, log: utils.Component("gateway")}
}

// SuggestedParams turns the node's parameters into builder input with the
// longest allowed validity window starting at the node's last round.
func (g *Gateway) SuggestedParams(ctx context.Context) (transaction.SuggestedParams, error) {
	p, err := g.node.TransactionParams(ctx)
	if err != nil {
		return transaction.SuggestedParams{}, txerr.New(txerr.StageBuild, txerr.NodeUnavailable, "fetch transaction parameters").Wrap(err)
	}
	return transaction.SuggestedParams{
		Fee:         p.Fee,
		MinFee:      p.MinFee,
		FirstValid:  p.LastRound,
		LastValid:   p.LastRound + transaction.MaxTxnLife,
		GenesisID:   p.GenesisID,
		GenesisHash: p.GenesisHash,
	}, nil
}

// Submit sends the records in one call and waits for the first to confirm.
// Several records must already form a group.
func (g *Gateway) Submit(ctx context.Context, results ...*signing.Result) (*Confirmation, error) {
	if len(results) == 0 {
		return nil, txerr.New(txerr.StageSubmit, txerr.InvalidParameters, "nothing to submit")
	}
	var buf bytes.Buffer
	for i, r := range results {
		if r == nil || len(r.Bytes) == 0 {
			return nil, txerr.Newf(txerr.StageSubmit, txerr.InvalidParameters, "record %d is empty", i)
		}
		buf.Write(r.Bytes)
	}
	return g.send(ctx, buf.Bytes(), results[0].TxID, len(results))
}

// SubmitGroup sends a Ready group. The returned id is that of the first
// member; the group confirms in one round or not at all.
func (g *Gateway) SubmitGroup(ctx context.Context, grp *group.Group) (*Confirmation, error) {
	raw, err := grp.Bytes()
	if err != nil {
		return nil, err
	}
	return g.send(ctx, raw, grp.TxIDs()[0], len(grp.Signed))
}

func (g *Gateway) send(ctx context.Context, raw []byte, txid string, count int) (*Confirmation, error) {
	ctx, reqID := utils.EnsureRequestID(ctx)
	log := g.log.With().Str("txid", txid).Str("request_id", reqID).Logger()

	nodeID, err := g.node.SendRawTransaction(ctx, raw)
	if err != nil {
		var rejected *node.RejectedError
		if errors.As(err, &rejected) {
			Submissions.WithLabelValues("rejected").Inc()
			log.Info().Str("reason", rejected.Message).Msg("node rejected submission")
			return nil, txerr.New(txerr.StageSubmit, txerr.SubmissionRejected, rejected.Message)
		}
		Submissions.WithLabelValues("unavailable").Inc()
		e := txerr.New(txerr.StageSubmit, txerr.NodeUnavailable, "send raw transaction").Wrap(err)
		if neverConnected(err) {
			return nil, e
		}
		// The body may have been delivered; only the id can settle it.
		log.Warn().Err(err).Msg("submission outcome unknown")
		return &Confirmation{TransactionID: txid}, e.MarkSent()
	}
	Submissions.WithLabelValues("accepted").Inc()
	if nodeID != txid {
		log.Warn().Str("node_txid", nodeID).Msg("node reported a different transaction id")
	}
	log.Info().Int("records", count).Msg("submitted")
	return g.WaitForConfirmation(ctx, txid)
}

// neverConnected reports whether err happened while dialing, before any
// request bytes could reach the node.
func neverConnected(err error) bool {
	var op *net.OpError
	if errors.As(err, &op) && op.Op == "dial" {
		return true
	}
	var dns *net.DNSError
	return errors.As(err, &dns)
}

// WaitForConfirmation polls txid for up to the configured number of rounds.
// On timeout it returns ConfirmationTimeout together with an unconfirmed
// Confirmation; the transaction may still land and can be polled again.
func (g *Gateway) WaitForConfirmation(ctx context.Context, txid string) (*Confirmation, error) {
	conf := &Confirmation{TransactionID: txid}
	start := time.Now()

	timeout := func(err error, msg string) (*Confirmation, error) {
		Confirmations.WithLabelValues("timeout").Inc()
		e := txerr.Newf(txerr.StageSubmit, txerr.ConfirmationTimeout, "transaction %s: %s", txid, msg)
		if err != nil {
			e.Wrap(err)
		}
		return conf, e
	}

	status, err := g.node.Status(ctx)
	if err != nil {
		return timeout(err, "node status unavailable")
	}
	round := status.LastRound
	last := round + g.maxRounds

	for {
		pending, err := g.node.PendingTransaction(ctx, txid)
		switch {
		case err == nil && pending.ConfirmedRound > 0:
			conf.Confirmed = true
			conf.ConfirmedRound = pending.ConfirmedRound
			Confirmations.WithLabelValues("confirmed").Inc()
			ConfirmationLatency.Observe(time.Since(start).Seconds())
			g.log.Info().Str("txid", txid).Uint64("round", conf.ConfirmedRound).Msg("confirmed")
			return conf, nil
		case err == nil && pending.PoolError != "":
			Confirmations.WithLabelValues("pool_error").Inc()
			return nil, txerr.New(txerr.StageSubmit, txerr.SubmissionRejected, pending.PoolError)
		case err != nil && !errors.Is(err, node.ErrNotFound):
			if ctx.Err() != nil {
				return timeout(ctx.Err(), "wait cancelled")
			}
			g.log.Debug().Str("txid", txid).Err(err).Msg("pending lookup failed")
		}

		if round >= last {
			return timeout(nil, "not confirmed within the wait window")
		}
		status, err := g.node.StatusAfterBlock(ctx, round)
		if err != nil {
			return timeout(err, "waiting for next round")
		}
		if status.LastRound > round {
			round = status.LastRound
		} else {
			round++
		}
	}
}
