package group

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"custodyledger_go/custody"
	"custodyledger_go/signing"
	"custodyledger_go/txerr"
	"custodyledger_go/utils"
)

// DefaultConcurrency bounds concurrent custody calls for one group.
const DefaultConcurrency = 4

// Coordinator drives groups through custody signing.
type Coordinator struct {
	custodian   custody.Custodian
	concurrency int
	log         zerolog.Logger
}

// NewCoordinator returns a coordinator signing through c with at most
// concurrency custody calls in flight per group.
func NewCoordinator(c custody.Custodian, concurrency int) *Coordinator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Coordinator{custodian: c, concurrency: concurrency, log: utils.Component("group")}
}

// Sign signs every member concurrently. Results land at their member's
// index. The first failure cancels the remaining members and the group is
// left with no signed records.
func (c *Coordinator) Sign(ctx context.Context, g *Group) error {
	if g.state != GroupIDAssigned {
		return txerr.Newf(txerr.StageGroup, txerr.InvalidParameters, "cannot sign a group that is %s", g.state)
	}
	results := make([]*signing.Result, len(g.Members))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.concurrency)
	for i, m := range g.Members {
		i, m := i, m
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return txerr.Newf(txerr.StageGroup, txerr.SigningFailed, "group member %d not signed", i).Wrap(err)
			}
			res, err := signing.Sign(egCtx, c.custodian, m.Signer, m.Txn)
			if err != nil {
				return fmt.Errorf("group member %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if txerr.KindOf(err) == "" {
			err = txerr.New(txerr.StageGroup, txerr.SigningFailed, "group signing aborted").Wrap(err)
		}
		g.Signed = nil
		c.log.Warn().Err(err).Str("group", g.ID.String()).Int("members", len(g.Members)).Msg("group signing aborted")
		return err
	}

	g.Signed = results
	g.state = MembersSigned
	c.log.Debug().Str("group", g.ID.String()).Int("members", len(g.Members)).Msg("group signed")
	return nil
}

// Build runs a member list through every stage: id assignment, signing and
// validation. The returned group is Ready.
func (c *Coordinator) Build(ctx context.Context, members []Member) (*Group, error) {
	g, err := New(members)
	if err != nil {
		return nil, err
	}
	if err := g.AssignID(); err != nil {
		return nil, err
	}
	session := custody.NewSession(c.custodian, len(members))
	signer := &Coordinator{custodian: session, concurrency: c.concurrency, log: c.log}
	if err := signer.Sign(ctx, g); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
