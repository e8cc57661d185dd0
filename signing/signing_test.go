package signing

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"custodyledger_go/address"
	"custodyledger_go/canonical"
	"custodyledger_go/custody"
	"custodyledger_go/transaction"
	"custodyledger_go/txerr"
	"custodyledger_go/utils"
)

func TestMain(m *testing.M) {
	utils.InitLogger(false, true)
	os.Exit(m.Run())
}

var params = transaction.SuggestedParams{
	MinFee:      transaction.MinFee,
	FirstValid:  500,
	LastValid:   1500,
	GenesisID:   "devnet-v1",
	GenesisHash: address.Hash([]byte("devnet-v1")),
}

func provision(t *testing.T, ks *custody.Keystore, handle string) (custody.Identity, address.Address) {
	t.Helper()
	id := custody.Identity{Handle: handle, Provider: "google"}
	rec, err := ks.Provision(context.Background(), id)
	require.NoError(t, err)
	addr, err := rec.Address()
	require.NoError(t, err)
	return id, addr
}

func payment(t *testing.T, sender, receiver address.Address, amount int64) *transaction.Transaction {
	t.Helper()
	tx, err := transaction.Build(params, &transaction.PaymentRequest{
		Common:   transaction.Common{Sender: sender.String()},
		Receiver: receiver.String(),
		Amount:   amount,
	})
	require.NoError(t, err)
	return tx
}

func TestSignSingleTransfer(t *testing.T) {
	ctx := context.Background()
	ks, err := custody.NewKeystore("", "")
	require.NoError(t, err)
	alice, aliceAddr := provision(t, ks, "alice@example.com")
	_, bobAddr := provision(t, ks, "bob@example.com")

	tx := payment(t, aliceAddr, bobAddr, 1_000_000)
	res, err := Sign(ctx, ks, alice, tx)
	require.NoError(t, err)

	assert.True(t, res.Signed.AuthAddr.IsZero(), "own key must not produce an authorizer")
	assert.Equal(t, aliceAddr, res.Signed.Signer())

	unsigned, err := tx.Encode()
	require.NoError(t, err)
	assert.Equal(t, address.Hash([]byte("TX"), unsigned).String(), res.TxID)

	m, err := canonical.Decode(res.Bytes)
	require.NoError(t, err)
	assert.Equal(t, []string{"sig", "txn"}, m.Keys())

	decoded, err := Decode(res.Bytes)
	require.NoError(t, err)
	assert.Equal(t, res.Signed, decoded)
	assert.True(t, ed25519.Verify(aliceAddr.PublicKey(), append([]byte("TX"), unsigned...), decoded.Sig))

	pay := decoded.Txn.Fields.(*transaction.PaymentFields)
	assert.Equal(t, uint64(1_000_000), pay.Amount)
	assert.Equal(t, bobAddr, pay.Receiver)
}

func TestSignRekeyedAccount(t *testing.T) {
	ctx := context.Background()
	ks, err := custody.NewKeystore("", "")
	require.NoError(t, err)
	alice, aliceAddr := provision(t, ks, "alice@example.com")

	// the sender's spending authority has been moved to alice's key
	var legacy address.Address
	copy(legacy[:], bytes.Repeat([]byte{0x42}, 32))
	tx := payment(t, legacy, aliceAddr, 10)

	res, err := Sign(ctx, ks, alice, tx)
	require.NoError(t, err)
	assert.Equal(t, aliceAddr, res.Signed.AuthAddr)
	assert.Equal(t, aliceAddr, res.Signed.Signer())

	m, err := canonical.Decode(res.Bytes)
	require.NoError(t, err)
	assert.Equal(t, []string{"sgnr", "sig", "txn"}, m.Keys())

	id, err := tx.ID()
	require.NoError(t, err)
	assert.Equal(t, id, res.TxID)
}

func TestAssembleRejectsIncompleteInput(t *testing.T) {
	var sender, receiver address.Address
	sender[0], receiver[0] = 1, 2
	tx := &transaction.Transaction{Fields: &transaction.PaymentFields{Receiver: receiver}}
	tx.Sender = sender
	tx.LastValid = 10
	tx.GenesisHash = address.Hash([]byte("g"))
	sig := bytes.Repeat([]byte{1}, ed25519.SignatureSize)

	noSender := &transaction.Transaction{Fields: tx.Fields, Header: tx.Header}
	noSender.Sender = address.Zero
	noLastValid := &transaction.Transaction{Fields: tx.Fields, Header: tx.Header}
	noLastValid.LastValid = 0

	tests := []struct {
		name string
		tx   *transaction.Transaction
		sig  []byte
		pk   []byte
	}{
		{"nil transaction", nil, sig, sender[:]},
		{"empty signature", tx, nil, sender[:]},
		{"short public key", tx, sig, sender[:16]},
		{"missing sender", noSender, sig, sender[:]},
		{"missing last valid", noLastValid, sig, sender[:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Assemble(tt.tx, tt.sig, tt.pk)
			assert.Nil(t, res)
			assert.True(t, txerr.Is(err, txerr.EncodingError), "got %v", err)
			assert.Equal(t, txerr.StageAssemble, txerr.StageOf(err))
		})
	}
}

type forgingCustodian struct {
	custody.Custodian
}

func (forgingCustodian) Sign(ctx context.Context, id custody.Identity, payload []byte) (custody.RawSignature, error) {
	return bytes.Repeat([]byte{7}, ed25519.SignatureSize), nil
}

func TestSignRejectsBadCustodySignature(t *testing.T) {
	ks, err := custody.NewKeystore("", "")
	require.NoError(t, err)
	alice, aliceAddr := provision(t, ks, "alice@example.com")

	_, err = Sign(context.Background(), forgingCustodian{ks}, alice, payment(t, aliceAddr, aliceAddr, 1))
	assert.True(t, txerr.Is(err, txerr.SigningFailed), "got %v", err)
}

func TestSignUnknownIdentity(t *testing.T) {
	ks, err := custody.NewKeystore("", "")
	require.NoError(t, err)
	var sender address.Address
	sender[0] = 9

	_, err = Sign(context.Background(), ks, custody.Identity{Handle: "ghost", Provider: "google"}, payment(t, sender, sender, 1))
	assert.True(t, txerr.Is(err, txerr.IdentityNotProvisioned))
}

func TestDecodeStream(t *testing.T) {
	ks, err := custody.NewKeystore("", "")
	require.NoError(t, err)
	alice, aliceAddr := provision(t, ks, "alice@example.com")

	var stream []byte
	var want []string
	for i := int64(1); i <= 2; i++ {
		res, err := Sign(context.Background(), ks, alice, payment(t, aliceAddr, aliceAddr, i))
		require.NoError(t, err)
		stream = append(stream, res.Bytes...)
		want = append(want, res.TxID)
	}

	records, raws, err := DecodeStream(stream)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for i, rec := range records {
		id, err := rec.Txn.ID()
		require.NoError(t, err)
		assert.Equal(t, want[i], id)
		again, err := rec.Encode()
		require.NoError(t, err)
		assert.Equal(t, raws[i], again)
	}

	_, _, err = DecodeStream(append(stream, 0x80))
	assert.True(t, txerr.Is(err, txerr.EncodingError))
}

func TestAuthorizerPresentIffKeysDiffer(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var sender address.Address
		copy(sender[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "sender"))
		if sender.IsZero() {
			t.Skip("zero sender")
		}
		signer := sender
		if rapid.Bool().Draw(t, "rekeyed") {
			copy(signer[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "signer"))
		}

		tx := &transaction.Transaction{Fields: &transaction.PaymentFields{Receiver: sender, Amount: 1}}
		tx.Sender = sender
		tx.LastValid = 10
		tx.GenesisHash = address.Hash([]byte("g"))

		res, err := Assemble(tx, []byte{1}, signer[:])
		if err != nil {
			t.Fatalf("assemble: %v", err)
		}
		m, err := canonical.Decode(res.Bytes)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got, want := m.Has("sgnr"), signer != sender; got != want {
			t.Fatalf("sgnr present=%v, keys differ=%v", got, want)
		}
	})
}
