package transaction

import (
	"fmt"

	"custodyledger_go/address"
	"custodyledger_go/canonical"
	"custodyledger_go/txerr"
)

// Header holds the fields common to every transaction type.
type Header struct {
	Sender      address.Address
	Fee         uint64
	FirstValid  uint64
	LastValid   uint64
	GenesisID   string
	GenesisHash address.Digest
	Note        []byte
	Lease       [LeaseSize]byte
	RekeyTo     address.Address

	// group is injected at most once by the group coordinator.
	group address.Digest
}

// Fields is the closed set of type-specific transaction bodies. The
// unexported methods seal the set to this package.
type Fields interface {
	Type() Type
	encode(m *canonical.Map)
	decode(m *canonical.Map) error
	validate() error
}

// Transaction is an unsigned transaction: a common header plus exactly one
// type-specific body.
type Transaction struct {
	Header
	Fields Fields
}

// newFields returns an empty body for the given type tag.
func newFields(t Type) (Fields, error) {
	switch t {
	case Payment:
		return &PaymentFields{}, nil
	case AssetTransfer:
		return &AssetTransferFields{}, nil
	case AssetConfig:
		return &AssetConfigFields{}, nil
	case AssetFreeze:
		return &AssetFreezeFields{}, nil
	case ApplicationCall:
		return &AppCallFields{}, nil
	case KeyRegistration:
		return &KeyRegFields{}, nil
	}
	return nil, fmt.Errorf("unknown transaction type %q", t)
}

// Type returns the transaction's type tag, or "" when it has no body.
func (tx *Transaction) Type() Type {
	if tx.Fields == nil {
		return ""
	}
	return tx.Fields.Type()
}

// Group returns the group id, zero when the transaction is ungrouped.
func (tx *Transaction) Group() address.Digest {
	return tx.group
}

// SetGroup injects the group id. Assigning the id a transaction already
// carries is a no-op; assigning a different one fails with AlreadyGrouped.
func (tx *Transaction) SetGroup(id address.Digest) error {
	if id.IsZero() {
		return txerr.New(txerr.StageGroup, txerr.EncodingError, "group id must not be zero")
	}
	if !tx.group.IsZero() && tx.group != id {
		return txerr.Newf(txerr.StageGroup, txerr.AlreadyGrouped, "transaction already carries group %s", tx.group)
	}
	tx.group = id
	return nil
}

// withoutGroup returns a shallow copy with the group field cleared.
func (tx *Transaction) withoutGroup() *Transaction {
	cp := *tx
	cp.group = address.Digest{}
	return &cp
}

// Validate checks the caller-controlled invariants of the transaction.
func (tx *Transaction) Validate() error {
	if tx.Fields == nil {
		return invalid("transaction type is required")
	}
	if tx.Sender.IsZero() {
		return invalid("sender is required")
	}
	if tx.GenesisHash.IsZero() {
		return invalid("genesis hash is required")
	}
	if tx.LastValid == 0 {
		return invalid("last valid round is required")
	}
	if tx.LastValid < tx.FirstValid {
		return invalid("last valid round %d precedes first valid round %d", tx.LastValid, tx.FirstValid)
	}
	if tx.LastValid-tx.FirstValid > MaxTxnLife {
		return invalid("validity window of %d rounds exceeds %d", tx.LastValid-tx.FirstValid, MaxTxnLife)
	}
	if len(tx.Note) > MaxNoteSize {
		return invalid("note is %d bytes, limit is %d", len(tx.Note), MaxNoteSize)
	}
	return tx.Fields.validate()
}

// Map returns the canonical field map of the unsigned transaction.
// It fails with EncodingError when a required field is missing.
func (tx *Transaction) Map() (*canonical.Map, error) {
	switch {
	case tx.Fields == nil:
		return nil, encodingError("transaction has no type-specific fields")
	case tx.Sender.IsZero():
		return nil, encodingError("missing sender")
	case tx.LastValid == 0:
		return nil, encodingError("missing last valid round")
	case tx.GenesisHash.IsZero():
		return nil, encodingError("missing genesis hash")
	}

	m := canonical.NewMap()
	m.PutString("type", string(tx.Fields.Type()))
	m.PutFixed("snd", tx.Sender[:])
	m.PutUint("fee", tx.Fee)
	m.PutUint("fv", tx.FirstValid)
	m.PutUint("lv", tx.LastValid)
	m.PutString("gen", tx.GenesisID)
	m.PutFixed("gh", tx.GenesisHash[:])
	m.PutBytes("note", tx.Note)
	m.PutFixed("lx", tx.Lease[:])
	m.PutFixed("rekey", tx.RekeyTo[:])
	m.PutFixed("grp", tx.group[:])
	tx.Fields.encode(m)
	return m, nil
}

// Encode returns the canonical unsigned encoding.
func (tx *Transaction) Encode() ([]byte, error) {
	m, err := tx.Map()
	if err != nil {
		return nil, err
	}
	b, err := canonical.Encode(m)
	if err != nil {
		return nil, encodingError("encode transaction").Wrap(err)
	}
	return b, nil
}

// BytesToSign returns the domain-tagged payload that custody signs. This is
// the only place the tag is prepended.
func (tx *Transaction) BytesToSign() ([]byte, error) {
	enc, err := tx.Encode()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(TxTag)+len(enc))
	out = append(out, TxTag...)
	return append(out, enc...), nil
}

// Digest returns the raw transaction id: the hash of the tagged unsigned
// encoding.
func (tx *Transaction) Digest() (address.Digest, error) {
	payload, err := tx.BytesToSign()
	if err != nil {
		return address.Digest{}, err
	}
	return address.Hash(payload), nil
}

// GroupDigest returns the digest of tx with its group field cleared, which
// is what a group id commits to.
func (tx *Transaction) GroupDigest() (address.Digest, error) {
	return tx.withoutGroup().Digest()
}

// ID returns the printable transaction id.
func (tx *Transaction) ID() (string, error) {
	d, err := tx.Digest()
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// Decode parses a canonical unsigned encoding.
func Decode(b []byte) (*Transaction, error) {
	m, err := canonical.Decode(b)
	if err != nil {
		return nil, encodingError("decode transaction").Wrap(err)
	}
	return FromMap(m)
}

// FromMap rebuilds a transaction from its canonical field map.
func FromMap(m *canonical.Map) (*Transaction, error) {
	typ, err := m.String("type")
	if err != nil {
		return nil, encodingError("decode transaction").Wrap(err)
	}
	fields, err := newFields(Type(typ))
	if err != nil {
		return nil, encodingError("decode transaction").Wrap(err)
	}

	tx := &Transaction{Fields: fields}
	h := &tx.Header
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(m.Fixed("snd", h.Sender[:]))
	h.Fee, err = m.Uint("fee")
	collect(err)
	h.FirstValid, err = m.Uint("fv")
	collect(err)
	h.LastValid, err = m.Uint("lv")
	collect(err)
	h.GenesisID, err = m.String("gen")
	collect(err)
	collect(m.Fixed("gh", h.GenesisHash[:]))
	h.Note, err = m.Bytes("note")
	collect(err)
	collect(m.Fixed("lx", h.Lease[:]))
	collect(m.Fixed("rekey", h.RekeyTo[:]))
	collect(m.Fixed("grp", h.group[:]))
	collect(fields.decode(m))
	if len(errs) > 0 {
		return nil, encodingError("decode transaction").Wrap(errs[0])
	}
	return tx, nil
}

func invalid(format string, args ...interface{}) *txerr.Error {
	return txerr.Newf(txerr.StageBuild, txerr.InvalidParameters, format, args...)
}

func encodingError(msg string) *txerr.Error {
	return txerr.New(txerr.StageAssemble, txerr.EncodingError, msg)
}
