// Package signing turns an unsigned transaction and a custody signature into
// the canonical signed-transaction record the network accepts.
package signing

import (
	"custodyledger_go/address"
	"custodyledger_go/canonical"
	"custodyledger_go/transaction"
	"custodyledger_go/txerr"
)

// SignedTransaction is the signed record {sgnr?, sig, txn}. AuthAddr is set
// only when the signing key is not the sender's own key.
type SignedTransaction struct {
	Txn      *transaction.Transaction
	Sig      []byte
	AuthAddr address.Address
}

// Signer returns the address whose key produced Sig.
func (st *SignedTransaction) Signer() address.Address {
	if !st.AuthAddr.IsZero() {
		return st.AuthAddr
	}
	return st.Txn.Sender
}

// Map returns the canonical field map of the record.
func (st *SignedTransaction) Map() (*canonical.Map, error) {
	if st.Txn == nil {
		return nil, encodingError("signed record has no transaction")
	}
	if len(st.Sig) == 0 {
		return nil, encodingError("signed record has no signature")
	}
	txn, err := st.Txn.Map()
	if err != nil {
		return nil, err
	}
	m := canonical.NewMap()
	m.PutMap("txn", txn)
	m.PutBytes("sig", st.Sig)
	m.PutFixed("sgnr", st.AuthAddr[:])
	return m, nil
}

// Encode returns the canonical encoding of the record.
func (st *SignedTransaction) Encode() ([]byte, error) {
	m, err := st.Map()
	if err != nil {
		return nil, err
	}
	b, err := canonical.Encode(m)
	if err != nil {
		return nil, encodingError("encode signed record").Wrap(err)
	}
	return b, nil
}

// Decode parses one canonically encoded signed record.
func Decode(b []byte) (*SignedTransaction, error) {
	m, err := canonical.Decode(b)
	if err != nil {
		return nil, encodingError("decode signed record").Wrap(err)
	}
	return FromMap(m)
}

// DecodeStream parses a concatenation of signed records, as posted to the
// node, returning each record with the exact bytes it came from.
func DecodeStream(b []byte) ([]*SignedTransaction, [][]byte, error) {
	maps, raws, err := canonical.DecodeAll(b)
	if err != nil {
		return nil, nil, encodingError("decode signed records").Wrap(err)
	}
	out := make([]*SignedTransaction, len(maps))
	for i, m := range maps {
		if out[i], err = FromMap(m); err != nil {
			return nil, nil, err
		}
	}
	return out, raws, nil
}

// FromMap rebuilds a signed record from its canonical field map.
func FromMap(m *canonical.Map) (*SignedTransaction, error) {
	if !m.Has("txn") {
		return nil, encodingError("signed record has no transaction")
	}
	txnMap, err := m.Map("txn")
	if err != nil {
		return nil, encodingError("decode signed record").Wrap(err)
	}
	txn, err := transaction.FromMap(txnMap)
	if err != nil {
		return nil, err
	}
	st := &SignedTransaction{Txn: txn}
	if st.Sig, err = m.Bytes("sig"); err != nil {
		return nil, encodingError("decode signed record").Wrap(err)
	}
	if err := m.Fixed("sgnr", st.AuthAddr[:]); err != nil {
		return nil, encodingError("decode signed record").Wrap(err)
	}
	return st, nil
}

func encodingError(msg string) *txerr.Error {
	return txerr.New(txerr.StageAssemble, txerr.EncodingError, msg)
}
