// Package custody is the boundary to the key-custody service. Private keys
// never cross it: callers resolve an identity to its public key and ask
// custody for raw signatures over payloads they prepared.
package custody

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"

	"custodyledger_go/address"
	"custodyledger_go/txerr"
)

// Identity names a custodied key: a verified handle as asserted by an
// identity provider. It is an opaque lookup key, never secret material.
type Identity struct {
	Handle   string `json:"handle"`
	Provider string `json:"provider"`
}

// Key returns the custody lookup key, "provider:handle".
func (id Identity) Key() string {
	return id.Provider + ":" + id.Handle
}

func (id Identity) String() string {
	return id.Key()
}

// Validate checks that both parts are present and the key is unambiguous.
func (id Identity) Validate() error {
	if id.Handle == "" || id.Provider == "" {
		return txerr.Newf(txerr.StageCustody, txerr.InvalidParameters, "identity %q needs a handle and a provider", id.Key())
	}
	if strings.Contains(id.Provider, ":") {
		return txerr.Newf(txerr.StageCustody, txerr.InvalidParameters, "identity provider %q must not contain ':'", id.Provider)
	}
	return nil
}

// ParseIdentity is the inverse of Identity.Key.
func ParseIdentity(key string) (Identity, error) {
	provider, handle, ok := strings.Cut(key, ":")
	id := Identity{Handle: handle, Provider: provider}
	if !ok {
		return id, txerr.Newf(txerr.StageCustody, txerr.InvalidParameters, "identity %q is not of the form provider:handle", key)
	}
	return id, id.Validate()
}

// PublicKeyRecord binds an identity to its raw public key.
type PublicKeyRecord struct {
	Identity  Identity
	PublicKey ed25519.PublicKey
}

// Address returns the ledger address of the record's key.
func (r PublicKeyRecord) Address() (address.Address, error) {
	return address.FromPublicKey(r.PublicKey)
}

// RawSignature is the opaque signature custody returns.
type RawSignature []byte

// Custodian is the signing oracle. Implementations must be safe for
// concurrent use.
type Custodian interface {
	// ResolvePublicKey returns the public key custody holds for id.
	ResolvePublicKey(ctx context.Context, id Identity) (PublicKeyRecord, error)
	// Sign returns a raw signature over payload, which the caller has
	// already domain-tagged.
	Sign(ctx context.Context, id Identity, payload []byte) (RawSignature, error)
}

func notProvisioned(id Identity) *txerr.Error {
	return txerr.Newf(txerr.StageCustody, txerr.IdentityNotProvisioned, "identity %s is not provisioned", id)
}

func unavailable(format string, args ...interface{}) *txerr.Error {
	return txerr.Newf(txerr.StageCustody, txerr.CustodyUnavailable, format, args...)
}

func signingFailed(format string, args ...interface{}) *txerr.Error {
	return txerr.Newf(txerr.StageCustody, txerr.SigningFailed, format, args...)
}

func checkPublicKey(id Identity, pk []byte) error {
	if len(pk) != ed25519.PublicKeySize {
		return unavailable("custody returned a %d-byte public key for %s", len(pk), id).
			Wrap(fmt.Errorf("want %d bytes", ed25519.PublicKeySize))
	}
	return nil
}
