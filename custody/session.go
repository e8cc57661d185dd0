package custody

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultSessionSize = 64

// Session wraps a Custodian for the duration of one request, remembering
// resolved public keys so a group with repeated signers resolves each
// identity once. A Session must not outlive the request it was made for.
type Session struct {
	Custodian
	keys *lru.Cache[string, PublicKeyRecord]
}

// NewSession returns a request-scoped view of c holding up to size keys.
func NewSession(c Custodian, size int) *Session {
	if size <= 0 {
		size = defaultSessionSize
	}
	cache, err := lru.New[string, PublicKeyRecord](size)
	if err != nil {
		// only reachable with a non-positive size
		panic(err)
	}
	return &Session{Custodian: c, keys: cache}
}

// ResolvePublicKey answers from the session cache when it can.
func (s *Session) ResolvePublicKey(ctx context.Context, id Identity) (PublicKeyRecord, error) {
	if rec, ok := s.keys.Get(id.Key()); ok {
		SessionCacheHits.Inc()
		return rec, nil
	}
	rec, err := s.Custodian.ResolvePublicKey(ctx, id)
	if err != nil {
		return PublicKeyRecord{}, err
	}
	s.keys.Add(id.Key(), rec)
	return rec, nil
}
