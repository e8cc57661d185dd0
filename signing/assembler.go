package signing

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"custodyledger_go/address"
	"custodyledger_go/custody"
	"custodyledger_go/transaction"
	"custodyledger_go/txerr"
	"custodyledger_go/utils"
)

// Result is an assembled signed transaction ready for submission.
type Result struct {
	Signed *SignedTransaction
	// Bytes is the canonical encoding of Signed.
	Bytes []byte
	// TxID is computed locally from the unsigned encoding.
	TxID string
}

// Assemble combines tx, the raw signature custody produced over its tagged
// payload, and the public key custody reported for the signer. The record
// carries the authorizer field only when that key differs from the sender.
func Assemble(tx *transaction.Transaction, sig []byte, signerPublicKey []byte) (*Result, error) {
	if tx == nil {
		return nil, encodingError("no transaction to assemble")
	}
	if len(sig) == 0 {
		return nil, encodingError("missing signature")
	}
	signer, err := address.FromPublicKey(signerPublicKey)
	if err != nil {
		return nil, encodingError("invalid signer public key").Wrap(err)
	}

	st := &SignedTransaction{Txn: tx, Sig: append([]byte(nil), sig...)}
	if !bytes.Equal(signer[:], tx.Sender[:]) {
		st.AuthAddr = signer
	}

	enc, err := st.Encode()
	if err != nil {
		return nil, err
	}
	id, err := tx.ID()
	if err != nil {
		return nil, err
	}
	return &Result{Signed: st, Bytes: enc, TxID: id}, nil
}

// Sign drives one transaction through custody: resolve the signer's key,
// sign the tagged payload, check the signature and assemble the record.
func Sign(ctx context.Context, c custody.Custodian, id custody.Identity, tx *transaction.Transaction) (*Result, error) {
	if tx == nil {
		return nil, encodingError("no transaction to sign")
	}
	log := utils.Component("signing")

	rec, err := c.ResolvePublicKey(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, err := tx.BytesToSign()
	if err != nil {
		return nil, err
	}
	sig, err := c.Sign(ctx, id, payload)
	if err != nil {
		return nil, err
	}
	if len(rec.PublicKey) == ed25519.PublicKeySize && !ed25519.Verify(rec.PublicKey, payload, sig) {
		return nil, txerr.Newf(txerr.StageCustody, txerr.SigningFailed, "custody signature for %s does not verify", id)
	}

	res, err := Assemble(tx, sig, rec.PublicKey)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("identity", id.Key()).
		Str("txid", res.TxID).
		Bool("rekeyed", !res.Signed.AuthAddr.IsZero()).
		Str("request_id", utils.GetRequestIDFromContext(ctx)).
		Msg("transaction signed")
	return res, nil
}
