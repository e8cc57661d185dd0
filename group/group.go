// Package group binds an ordered list of transactions into an atomic group:
// all of them execute or none do. The coordinator derives the shared group
// id, drives custody signing for every member and checks the result.
package group

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"custodyledger_go/address"
	"custodyledger_go/canonical"
	"custodyledger_go/custody"
	"custodyledger_go/signing"
	"custodyledger_go/transaction"
	"custodyledger_go/txerr"
)

// State is the lifecycle position of a group.
type State int

const (
	Ungrouped State = iota
	GroupIDAssigned
	MembersSigned
	Ready
)

func (s State) String() string {
	switch s {
	case Ungrouped:
		return "ungrouped"
	case GroupIDAssigned:
		return "group-id-assigned"
	case MembersSigned:
		return "members-signed"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Member is one transaction of a group together with the identity whose
// custodied key signs it.
type Member struct {
	Txn    *transaction.Transaction
	Signer custody.Identity
}

// Group is an ordered, index-addressed set of members sharing one id.
// Signed[i] always belongs to Members[i].
type Group struct {
	ID      address.Digest
	Members []Member
	Signed  []*signing.Result

	state State
}

// New checks the member list and returns an ungrouped Group.
func New(members []Member) (*Group, error) {
	if len(members) == 0 {
		return nil, txerr.New(txerr.StageGroup, txerr.EmptyGroup, "group has no members")
	}
	if len(members) > transaction.MaxGroupSize {
		return nil, txerr.Newf(txerr.StageGroup, txerr.InvalidParameters, "group has %d members, limit is %d", len(members), transaction.MaxGroupSize)
	}
	seen := make(map[*transaction.Transaction]int, len(members))
	for i, m := range members {
		if m.Txn == nil {
			return nil, txerr.Newf(txerr.StageGroup, txerr.InvalidParameters, "member %d has no transaction", i)
		}
		if j, dup := seen[m.Txn]; dup {
			return nil, txerr.Newf(txerr.StageGroup, txerr.InvalidParameters, "member %d repeats member %d", i, j)
		}
		seen[m.Txn] = i
	}
	return &Group{Members: append([]Member(nil), members...)}, nil
}

// State returns the group's lifecycle state.
func (g *Group) State() State {
	return g.state
}

// Transactions returns the member transactions in order.
func (g *Group) Transactions() []*transaction.Transaction {
	txs := make([]*transaction.Transaction, len(g.Members))
	for i, m := range g.Members {
		txs[i] = m.Txn
	}
	return txs
}

// ComputeID derives the group id from the ordered member digests, each taken
// with the member's own group field cleared. Reordering members changes it.
func ComputeID(txs []*transaction.Transaction) (address.Digest, error) {
	if len(txs) == 0 {
		return address.Digest{}, txerr.New(txerr.StageGroup, txerr.EmptyGroup, "group has no members")
	}
	digests := make([][]byte, len(txs))
	for i, tx := range txs {
		if tx == nil {
			return address.Digest{}, txerr.Newf(txerr.StageGroup, txerr.InvalidParameters, "member %d has no transaction", i)
		}
		d, err := tx.GroupDigest()
		if err != nil {
			return address.Digest{}, fmt.Errorf("group member %d: %w", i, err)
		}
		digests[i] = d[:]
	}
	m := canonical.NewMap()
	m.PutBytesList("txlist", digests)
	enc, err := canonical.Encode(m)
	if err != nil {
		return address.Digest{}, txerr.New(txerr.StageGroup, txerr.EncodingError, "encode group").Wrap(err)
	}
	return address.Hash(transaction.GroupTag, enc), nil
}

// AssignID computes the group id and injects it into every member. Nothing
// is mutated if any member already belongs to a different group.
func (g *Group) AssignID() error {
	if g.state != Ungrouped {
		return txerr.Newf(txerr.StageGroup, txerr.AlreadyGrouped, "group is already %s", g.state)
	}
	id, err := ComputeID(g.Transactions())
	if err != nil {
		return err
	}
	for i, m := range g.Members {
		if cur := m.Txn.Group(); !cur.IsZero() && cur != id {
			return txerr.Newf(txerr.StageGroup, txerr.AlreadyGrouped, "member %d already belongs to group %s", i, cur)
		}
	}
	for _, m := range g.Members {
		if err := m.Txn.SetGroup(id); err != nil {
			return err
		}
	}
	g.ID = id
	g.state = GroupIDAssigned
	return nil
}

// Validate checks that every signed member embeds the group id, is the
// member it claims to be, and is a well-formed record. All violations are
// reported together. On success the group is Ready.
func (g *Group) Validate() error {
	if g.state != MembersSigned && g.state != Ready {
		return txerr.Newf(txerr.StageGroup, txerr.InvalidParameters, "cannot validate a group that is %s", g.state)
	}
	var result *multierror.Error
	if len(g.Signed) != len(g.Members) {
		result = multierror.Append(result, fmt.Errorf("%d signed records for %d members", len(g.Signed), len(g.Members)))
	}
	for i := range g.Signed {
		if i >= len(g.Members) {
			break
		}
		if err := g.validateMember(i); err != nil {
			result = multierror.Append(result, fmt.Errorf("member %d: %w", i, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return txerr.New(txerr.StageGroup, txerr.EncodingError, "group failed validation").Wrap(err)
	}
	g.state = Ready
	return nil
}

func (g *Group) validateMember(i int) error {
	res := g.Signed[i]
	if res == nil {
		return fmt.Errorf("not signed")
	}
	decoded, err := signing.Decode(res.Bytes)
	if err != nil {
		return err
	}
	if decoded.Txn.Group() != g.ID {
		return fmt.Errorf("embeds group %s, want %s", decoded.Txn.Group(), g.ID)
	}
	id, err := decoded.Txn.ID()
	if err != nil {
		return err
	}
	want, err := g.Members[i].Txn.ID()
	if err != nil {
		return err
	}
	if id != want || id != res.TxID {
		return fmt.Errorf("record holds transaction %s, want %s", id, want)
	}
	return nil
}

// Bytes returns the concatenated signed records in member order, the form
// the node accepts for a group.
func (g *Group) Bytes() ([]byte, error) {
	if g.state != Ready {
		return nil, txerr.Newf(txerr.StageSubmit, txerr.InvalidParameters, "group is %s, not ready", g.state)
	}
	var buf bytes.Buffer
	for _, r := range g.Signed {
		buf.Write(r.Bytes)
	}
	return buf.Bytes(), nil
}

// TxIDs returns the member transaction ids in order.
func (g *Group) TxIDs() []string {
	ids := make([]string, len(g.Signed))
	for i, r := range g.Signed {
		if r != nil {
			ids[i] = r.TxID
		}
	}
	return ids
}
