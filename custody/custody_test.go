package custody

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodyledger_go/txerr"
	"custodyledger_go/utils"
)

func TestMain(m *testing.M) {
	utils.InitLogger(false, true)
	os.Exit(m.Run())
}

var alice = Identity{Handle: "alice@example.com", Provider: "google"}

func TestIdentityKey(t *testing.T) {
	assert.Equal(t, "google:alice@example.com", alice.Key())

	parsed, err := ParseIdentity(alice.Key())
	require.NoError(t, err)
	assert.Equal(t, alice, parsed)

	_, err = ParseIdentity("no-provider")
	assert.True(t, txerr.Is(err, txerr.InvalidParameters))
	_, err = ParseIdentity("google:")
	assert.True(t, txerr.Is(err, txerr.InvalidParameters))

	// the handle may itself contain the separator
	id, err := ParseIdentity("github:odd:handle")
	require.NoError(t, err)
	assert.Equal(t, Identity{Handle: "odd:handle", Provider: "github"}, id)
}

func TestKeystoreProvisionAndSign(t *testing.T) {
	ctx := context.Background()
	ks, err := NewKeystore("", "")
	require.NoError(t, err)

	_, err = ks.ResolvePublicKey(ctx, alice)
	assert.True(t, txerr.Is(err, txerr.IdentityNotProvisioned))
	_, err = ks.Sign(ctx, alice, []byte("TXpayload"))
	assert.True(t, txerr.Is(err, txerr.IdentityNotProvisioned))

	rec, err := ks.Provision(ctx, alice)
	require.NoError(t, err)
	require.Len(t, rec.PublicKey, ed25519.PublicKeySize)

	again, err := ks.Provision(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, rec.PublicKey, again.PublicKey, "provisioning is idempotent")

	resolved, err := ks.ResolvePublicKey(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, rec.PublicKey, resolved.PublicKey)

	sig, err := ks.Sign(ctx, alice, []byte("TXpayload"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(rec.PublicKey, []byte("TXpayload"), sig))
	assert.Equal(t, 1, ks.Count())
}

func TestKeystorePersistsEncryptedKeys(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ks, err := NewKeystore(dir, "correct horse")
	require.NoError(t, err)
	rec, err := ks.Provision(ctx, alice)
	require.NoError(t, err)

	reopened, err := NewKeystore(dir, "correct horse")
	require.NoError(t, err)
	resolved, err := reopened.ResolvePublicKey(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, rec.PublicKey, resolved.PublicKey)
	assert.Equal(t, 1, reopened.Count())

	info, err := os.Stat(reopened.keyPath(alice))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	wrong, err := NewKeystore(dir, "wrong")
	require.NoError(t, err)
	_, err = wrong.ResolvePublicKey(ctx, alice)
	assert.True(t, txerr.Is(err, txerr.CustodyUnavailable), "got %v", err)

	_, err = NewKeystore(dir, "")
	assert.Error(t, err)
}

func newTestServer(t *testing.T) (*Keystore, *httptest.Server) {
	t.Helper()
	ks, err := NewKeystore("", "")
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(ks).Router)
	t.Cleanup(srv.Close)
	return ks, srv
}

func newTestClient(t *testing.T, base string, retries uint64) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{URL: base, Timeout: time.Second, MaxRetries: retries, BreakerFailures: 100})
	require.NoError(t, err)
	return c
}

func TestClientAgainstServer(t *testing.T) {
	ctx := context.Background()
	ks, srv := newTestServer(t)
	client := newTestClient(t, srv.URL, 0)

	_, err := client.ResolvePublicKey(ctx, alice)
	assert.True(t, txerr.Is(err, txerr.IdentityNotProvisioned), "got %v", err)
	assert.Equal(t, txerr.StageCustody, txerr.StageOf(err))

	rec, err := ks.Provision(ctx, alice)
	require.NoError(t, err)

	resolved, err := client.ResolvePublicKey(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, rec.PublicKey, resolved.PublicKey)
	assert.Equal(t, alice, resolved.Identity)

	payload := []byte("TX\x81\xa3amt\x01")
	sig, err := client.Sign(ctx, alice, payload)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(rec.PublicKey, payload, sig))

	bob := Identity{Handle: "bob/with/slashes", Provider: "apple"}
	_, err = client.Sign(ctx, bob, payload)
	assert.True(t, txerr.Is(err, txerr.IdentityNotProvisioned), "got %v", err)

	_, err = client.Sign(ctx, alice, nil)
	assert.True(t, txerr.Is(err, txerr.SigningFailed))
}

func TestProvisionHandlerEscapedIdentity(t *testing.T) {
	ks, srv := newTestServer(t)
	bob := Identity{Handle: "bob/with/slashes", Provider: "apple"}

	resp, err := http.Post(srv.URL+"/provision/"+url.PathEscape(bob.Key()), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(utils.RequestIDHeader))

	var body publicKeyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	rec, err := ks.ResolvePublicKey(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, []byte(rec.PublicKey), body.PublicKey)
}

func TestClientRetriesServerErrorsWithSamePayload(t *testing.T) {
	var (
		calls  int32
		mu     sync.Mutex
		inputs [][]byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req signRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		inputs = append(inputs, req.Input)
		mu.Unlock()
		if atomic.AddInt32(&calls, 1) < 3 {
			writeError(w, http.StatusServiceUnavailable, "warming up")
			return
		}
		writeJSON(w, http.StatusOK, signResponse{Signature: []byte("sig")})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	sig, err := client.Sign(context.Background(), alice, []byte("TXabc"))
	require.NoError(t, err)
	assert.Equal(t, RawSignature("sig"), sig)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, inputs, 3)
	for _, in := range inputs {
		assert.Equal(t, []byte("TXabc"), in)
	}
}

func TestClientUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusInternalServerError, "hsm offline")
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 1)
	_, err := client.ResolvePublicKey(context.Background(), alice)
	assert.True(t, txerr.Is(err, txerr.CustodyUnavailable), "got %v", err)
	assert.True(t, txerr.Retryable(err))

	_, err = client.Sign(context.Background(), alice, []byte("TXabc"))
	assert.True(t, txerr.Is(err, txerr.CustodyUnavailable), "got %v", err)

	srv.Close()
	_, err = client.ResolvePublicKey(context.Background(), alice)
	assert.True(t, txerr.Is(err, txerr.CustodyUnavailable), "got %v", err)
}

func TestClientSignRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusForbidden, "policy denied")
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	_, err := client.Sign(context.Background(), alice, []byte("TXabc"))
	require.True(t, txerr.Is(err, txerr.SigningFailed), "got %v", err)
	assert.Contains(t, err.Error(), "policy denied")
}

func TestClientBreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{URL: srv.URL, BreakerFailures: 2, BreakerTimeout: time.Minute})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := client.ResolvePublicKey(context.Background(), alice)
		assert.True(t, txerr.Is(err, txerr.CustodyUnavailable))
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open breaker stops calls")
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(ClientConfig{URL: "not a url"})
	assert.Error(t, err)
}

type countingCustodian struct {
	Custodian
	resolves int32
}

func (c *countingCustodian) ResolvePublicKey(ctx context.Context, id Identity) (PublicKeyRecord, error) {
	atomic.AddInt32(&c.resolves, 1)
	return c.Custodian.ResolvePublicKey(ctx, id)
}

func TestSessionCachesPublicKeys(t *testing.T) {
	ctx := context.Background()
	ks, err := NewKeystore("", "")
	require.NoError(t, err)
	_, err = ks.Provision(ctx, alice)
	require.NoError(t, err)

	inner := &countingCustodian{Custodian: ks}
	session := NewSession(inner, 0)
	for i := 0; i < 3; i++ {
		_, err := session.ResolvePublicKey(ctx, alice)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.resolves))

	_, err = session.ResolvePublicKey(ctx, Identity{Handle: "nobody", Provider: "google"})
	assert.True(t, txerr.Is(err, txerr.IdentityNotProvisioned))

	sig, err := session.Sign(ctx, alice, []byte("TXx"))
	require.NoError(t, err)
	assert.Len(t, sig, ed25519.SignatureSize)
}
