package transaction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"custodyledger_go/address"
)

// SuggestedParams are the network parameters a transaction is built against.
type SuggestedParams struct {
	// Fee is per byte of the signed transaction unless FlatFee is set.
	Fee         uint64         `json:"fee"`
	MinFee      uint64         `json:"min-fee"`
	FlatFee     bool           `json:"flat-fee,omitempty"`
	FirstValid  uint64         `json:"first-valid"`
	LastValid   uint64         `json:"last-valid"`
	GenesisID   string         `json:"genesis-id"`
	GenesisHash address.Digest `json:"genesis-hash"`
}

// Common carries the caller parameters shared by every request type.
type Common struct {
	Sender  string `json:"sender"`
	Note    []byte `json:"note,omitempty"`
	Lease   []byte `json:"lease,omitempty"`
	RekeyTo string `json:"rekey_to,omitempty"`
}

func (c *Common) common() *Common { return c }

// Request is the closed set of caller-facing build requests, one per
// transaction type.
type Request interface {
	Kind() Type
	common() *Common
	fields() (Fields, error)
}

// PaymentRequest builds a pay transaction.
type PaymentRequest struct {
	Common
	Receiver         string `json:"receiver"`
	Amount           int64  `json:"amount"`
	CloseRemainderTo string `json:"close_remainder_to,omitempty"`
}

func (*PaymentRequest) Kind() Type { return Payment }

func (r *PaymentRequest) fields() (Fields, error) {
	rcv, err := parseAddress("receiver", r.Receiver, false)
	if err != nil {
		return nil, err
	}
	amt, err := nonNegative("amount", r.Amount)
	if err != nil {
		return nil, err
	}
	closeTo, err := parseAddress("close_remainder_to", r.CloseRemainderTo, false)
	if err != nil {
		return nil, err
	}
	return &PaymentFields{Receiver: rcv, Amount: amt, CloseRemainderTo: closeTo}, nil
}

// AssetTransferRequest builds an axfer transaction. Revocation names the
// account assets are clawed back from.
type AssetTransferRequest struct {
	Common
	AssetID    int64  `json:"asset_id"`
	Amount     int64  `json:"amount"`
	Receiver   string `json:"receiver"`
	Revocation string `json:"revocation_target,omitempty"`
	CloseTo    string `json:"close_to,omitempty"`
}

func (*AssetTransferRequest) Kind() Type { return AssetTransfer }

func (r *AssetTransferRequest) fields() (Fields, error) {
	f := &AssetTransferFields{}
	var err error
	if f.AssetID, err = nonNegative("asset_id", r.AssetID); err != nil {
		return nil, err
	}
	if f.Amount, err = nonNegative("amount", r.Amount); err != nil {
		return nil, err
	}
	if f.AssetReceiver, err = parseAddress("receiver", r.Receiver, false); err != nil {
		return nil, err
	}
	if f.AssetSender, err = parseAddress("revocation_target", r.Revocation, false); err != nil {
		return nil, err
	}
	if f.AssetCloseTo, err = parseAddress("close_to", r.CloseTo, false); err != nil {
		return nil, err
	}
	return f, nil
}

// AssetConfigRequest builds an acfg transaction.
type AssetConfigRequest struct {
	Common
	AssetID       int64  `json:"asset_id,omitempty"`
	Total         int64  `json:"total,omitempty"`
	Decimals      int64  `json:"decimals,omitempty"`
	DefaultFrozen bool   `json:"default_frozen,omitempty"`
	UnitName      string `json:"unit_name,omitempty"`
	AssetName     string `json:"asset_name,omitempty"`
	URL           string `json:"url,omitempty"`
	MetadataHash  []byte `json:"metadata_hash,omitempty"`
	Manager       string `json:"manager,omitempty"`
	Reserve       string `json:"reserve,omitempty"`
	Freeze        string `json:"freeze,omitempty"`
	Clawback      string `json:"clawback,omitempty"`
}

func (*AssetConfigRequest) Kind() Type { return AssetConfig }

func (r *AssetConfigRequest) fields() (Fields, error) {
	f := &AssetConfigFields{}
	var err error
	if f.AssetID, err = nonNegative("asset_id", r.AssetID); err != nil {
		return nil, err
	}
	p := &f.Params
	if p.Total, err = nonNegative("total", r.Total); err != nil {
		return nil, err
	}
	dc, err := nonNegative("decimals", r.Decimals)
	if err != nil {
		return nil, err
	}
	if dc > MaxAssetDecimals {
		return nil, invalid("decimals %d exceed %d", dc, MaxAssetDecimals)
	}
	p.Decimals = uint32(dc)
	p.DefaultFrozen = r.DefaultFrozen
	p.UnitName, p.AssetName, p.URL = r.UnitName, r.AssetName, r.URL
	if len(r.MetadataHash) != 0 {
		if len(r.MetadataHash) != len(p.MetadataHash) {
			return nil, invalid("metadata_hash must be %d bytes", len(p.MetadataHash))
		}
		copy(p.MetadataHash[:], r.MetadataHash)
	}
	for _, ref := range []struct {
		name string
		in   string
		out  *address.Address
	}{
		{"manager", r.Manager, &p.Manager},
		{"reserve", r.Reserve, &p.Reserve},
		{"freeze", r.Freeze, &p.Freeze},
		{"clawback", r.Clawback, &p.Clawback},
	} {
		if *ref.out, err = parseAddress(ref.name, ref.in, false); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// AssetFreezeRequest builds an afrz transaction.
type AssetFreezeRequest struct {
	Common
	AssetID int64  `json:"asset_id"`
	Account string `json:"account"`
	Frozen  bool   `json:"frozen"`
}

func (*AssetFreezeRequest) Kind() Type { return AssetFreeze }

func (r *AssetFreezeRequest) fields() (Fields, error) {
	id, err := nonNegative("asset_id", r.AssetID)
	if err != nil {
		return nil, err
	}
	acct, err := parseAddress("account", r.Account, true)
	if err != nil {
		return nil, err
	}
	return &AssetFreezeFields{AssetID: id, Account: acct, Frozen: r.Frozen}, nil
}

// AppCallRequest builds an appl transaction. OnComplete is one of noop,
// optin, close, clear, update, delete; empty means noop.
type AppCallRequest struct {
	Common
	AppID           int64    `json:"app_id,omitempty"`
	OnComplete      string   `json:"on_complete,omitempty"`
	Args            [][]byte `json:"args,omitempty"`
	Accounts        []string `json:"accounts,omitempty"`
	ForeignApps     []int64  `json:"foreign_apps,omitempty"`
	ForeignAssets   []int64  `json:"foreign_assets,omitempty"`
	ApprovalProgram []byte   `json:"approval_program,omitempty"`
	ClearProgram    []byte   `json:"clear_program,omitempty"`
	GlobalInts      int64    `json:"global_ints,omitempty"`
	GlobalBytes     int64    `json:"global_bytes,omitempty"`
	LocalInts       int64    `json:"local_ints,omitempty"`
	LocalBytes      int64    `json:"local_bytes,omitempty"`
	ExtraPages      int64    `json:"extra_pages,omitempty"`
}

func (*AppCallRequest) Kind() Type { return ApplicationCall }

func (r *AppCallRequest) fields() (Fields, error) {
	f := &AppCallFields{}
	var err error
	if f.AppID, err = nonNegative("app_id", r.AppID); err != nil {
		return nil, err
	}
	oc, ok := onCompleteNames[strings.ToLower(r.OnComplete)]
	if r.OnComplete == "" {
		oc, ok = NoOp, true
	}
	if !ok {
		return nil, invalid("unsupported on-complete action %q", r.OnComplete)
	}
	f.OnComplete = oc
	if len(r.Args) > 0 {
		f.Args = make([][]byte, len(r.Args))
		for i, a := range r.Args {
			f.Args[i] = append([]byte{}, a...)
		}
	}
	for i, s := range r.Accounts {
		a, err := parseAddress(fmt.Sprintf("accounts[%d]", i), s, true)
		if err != nil {
			return nil, err
		}
		f.Accounts = append(f.Accounts, a)
	}
	if f.ForeignApps, err = nonNegativeList("foreign_apps", r.ForeignApps); err != nil {
		return nil, err
	}
	if f.ForeignAssets, err = nonNegativeList("foreign_assets", r.ForeignAssets); err != nil {
		return nil, err
	}
	f.ApprovalProgram = nilIfEmpty(r.ApprovalProgram)
	f.ClearProgram = nilIfEmpty(r.ClearProgram)
	if f.GlobalSchema.NumUint, err = nonNegative("global_ints", r.GlobalInts); err != nil {
		return nil, err
	}
	if f.GlobalSchema.NumByteSlice, err = nonNegative("global_bytes", r.GlobalBytes); err != nil {
		return nil, err
	}
	if f.LocalSchema.NumUint, err = nonNegative("local_ints", r.LocalInts); err != nil {
		return nil, err
	}
	if f.LocalSchema.NumByteSlice, err = nonNegative("local_bytes", r.LocalBytes); err != nil {
		return nil, err
	}
	pages, err := nonNegative("extra_pages", r.ExtraPages)
	if err != nil {
		return nil, err
	}
	if pages > MaxExtraAppProgramPages {
		return nil, invalid("extra_pages %d exceed %d", pages, MaxExtraAppProgramPages)
	}
	f.ExtraPages = uint32(pages)
	return f, nil
}

// KeyRegRequest builds a keyreg transaction.
type KeyRegRequest struct {
	Common
	VotePK           []byte `json:"vote_pk,omitempty"`
	SelectionPK      []byte `json:"selection_pk,omitempty"`
	StateProofPK     []byte `json:"state_proof_pk,omitempty"`
	VoteFirst        int64  `json:"vote_first,omitempty"`
	VoteLast         int64  `json:"vote_last,omitempty"`
	VoteKeyDilution  int64  `json:"vote_key_dilution,omitempty"`
	NonParticipation bool   `json:"non_participation,omitempty"`
}

func (*KeyRegRequest) Kind() Type { return KeyRegistration }

func (r *KeyRegRequest) fields() (Fields, error) {
	f := &KeyRegFields{NonParticipation: r.NonParticipation}
	if err := fixed("vote_pk", r.VotePK, f.VotePK[:]); err != nil {
		return nil, err
	}
	if err := fixed("selection_pk", r.SelectionPK, f.SelectionPK[:]); err != nil {
		return nil, err
	}
	if err := fixed("state_proof_pk", r.StateProofPK, f.StateProofPK[:]); err != nil {
		return nil, err
	}
	var err error
	if f.VoteFirst, err = nonNegative("vote_first", r.VoteFirst); err != nil {
		return nil, err
	}
	if f.VoteLast, err = nonNegative("vote_last", r.VoteLast); err != nil {
		return nil, err
	}
	if f.VoteKeyDilution, err = nonNegative("vote_key_dilution", r.VoteKeyDilution); err != nil {
		return nil, err
	}
	return f, nil
}

// Build produces an unsigned transaction from a caller request and the
// current network parameters. It fails with InvalidParameters and has no
// side effects.
func Build(sp SuggestedParams, req Request) (*Transaction, error) {
	if req == nil {
		return nil, invalid("request is required")
	}
	c := req.common()
	sender, err := parseAddress("sender", c.Sender, true)
	if err != nil {
		return nil, err
	}
	rekeyTo, err := parseAddress("rekey_to", c.RekeyTo, false)
	if err != nil {
		return nil, err
	}
	fields, err := req.fields()
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Header: Header{
			Sender:      sender,
			FirstValid:  sp.FirstValid,
			LastValid:   sp.LastValid,
			GenesisID:   sp.GenesisID,
			GenesisHash: sp.GenesisHash,
			Note:        nilIfEmpty(c.Note),
			RekeyTo:     rekeyTo,
		},
		Fields: fields,
	}
	if len(c.Lease) != 0 {
		if err := fixed("lease", c.Lease, tx.Lease[:]); err != nil {
			return nil, err
		}
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	if tx.Fee, err = ComputeFee(tx, sp); err != nil {
		return nil, err
	}
	return tx, nil
}

// Envelope is the JSON form of a typed request, as found in group files.
type Envelope struct {
	Type   Type            `json:"type"`
	Params json.RawMessage `json:"params"`
}

// DecodeRequest decodes the JSON parameters of a request of the given type.
// Unknown fields are rejected.
func DecodeRequest(kind Type, data []byte) (Request, error) {
	var req Request
	switch kind {
	case Payment:
		req = &PaymentRequest{}
	case AssetTransfer:
		req = &AssetTransferRequest{}
	case AssetConfig:
		req = &AssetConfigRequest{}
	case AssetFreeze:
		req = &AssetFreezeRequest{}
	case ApplicationCall:
		req = &AppCallRequest{}
	case KeyRegistration:
		req = &KeyRegRequest{}
	default:
		return nil, invalid("unsupported transaction type %q", kind)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return nil, invalid("decode %s request", kind).Wrap(err)
	}
	return req, nil
}

// DecodeEnvelope decodes a typed request envelope.
func DecodeEnvelope(env Envelope) (Request, error) {
	return DecodeRequest(env.Type, env.Params)
}

func parseAddress(field, s string, required bool) (address.Address, error) {
	if s == "" {
		if required {
			return address.Zero, invalid("%s is required", field)
		}
		return address.Zero, nil
	}
	a, err := address.Decode(s)
	if err != nil {
		return address.Zero, invalid("malformed %s address", field).Wrap(err)
	}
	return a, nil
}

func nonNegative(field string, n int64) (uint64, error) {
	if n < 0 {
		return 0, invalid("%s must not be negative, got %d", field, n)
	}
	return uint64(n), nil
}

func nonNegativeList(field string, list []int64) ([]uint64, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]uint64, len(list))
	for i, n := range list {
		v, err := nonNegative(fmt.Sprintf("%s[%d]", field, i), n)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func fixed(field string, in []byte, out []byte) error {
	if len(in) == 0 {
		return nil
	}
	if len(in) != len(out) {
		return invalid("%s must be %d bytes, got %d", field, len(out), len(in))
	}
	copy(out, in)
	return nil
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
