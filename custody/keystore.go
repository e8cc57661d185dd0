package custody

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"

	"custodyledger_go/utils"
)

const (
	saltSize         = 16
	pbkdf2Iterations = 4096
	keyFileSuffix    = ".key"
)

// Keystore is a development custodian holding ed25519 keys encrypted at rest
// with a passphrase. It is a stand-in for a real HSM and must not guard
// real funds.
//
// With an empty directory keys only live in memory.
type Keystore struct {
	dir        string
	passphrase string
	rand       io.Reader

	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey

	log zerolog.Logger
}

// NewKeystore opens (creating if needed) a keystore rooted at dir.
func NewKeystore(dir, passphrase string) (*Keystore, error) {
	if dir != "" {
		if passphrase == "" {
			return nil, errors.New("passphrase cannot be empty")
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create key directory %s: %w", dir, err)
		}
	}
	return &Keystore{
		dir:        dir,
		passphrase: passphrase,
		rand:       rand.Reader,
		keys:       make(map[string]ed25519.PrivateKey),
		log:        utils.Component("keystore"),
	}, nil
}

// Provision returns the key of id, generating and storing a new one if the
// identity is unknown.
func (k *Keystore) Provision(ctx context.Context, id Identity) (PublicKeyRecord, error) {
	if err := id.Validate(); err != nil {
		return PublicKeyRecord{}, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	priv, err := k.loadLocked(id)
	if err != nil {
		return PublicKeyRecord{}, err
	}
	if priv == nil {
		_, priv, err = ed25519.GenerateKey(k.rand)
		if err != nil {
			return PublicKeyRecord{}, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
		}
		if k.dir != "" {
			if err := saveEncryptedKey(k.keyPath(id), priv, k.passphrase); err != nil {
				return PublicKeyRecord{}, unavailable("store key for %s", id).Wrap(err)
			}
		}
		k.keys[id.Key()] = priv
		k.log.Info().Str("identity", id.Key()).Msg("provisioned new key")
	}
	return PublicKeyRecord{Identity: id, PublicKey: priv.Public().(ed25519.PublicKey)}, nil
}

// ResolvePublicKey implements Custodian.
func (k *Keystore) ResolvePublicKey(ctx context.Context, id Identity) (PublicKeyRecord, error) {
	priv, err := k.load(id)
	if err != nil {
		return PublicKeyRecord{}, err
	}
	return PublicKeyRecord{Identity: id, PublicKey: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign implements Custodian.
func (k *Keystore) Sign(ctx context.Context, id Identity, payload []byte) (RawSignature, error) {
	if len(payload) == 0 {
		return nil, signingFailed("empty payload for %s", id)
	}
	priv, err := k.load(id)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, payload), nil
}

// Count returns the number of provisioned identities.
func (k *Keystore) Count() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.dir == "" {
		return len(k.keys)
	}
	matches, err := filepath.Glob(filepath.Join(k.dir, "*"+keyFileSuffix))
	if err != nil {
		return len(k.keys)
	}
	return len(matches)
}

func (k *Keystore) load(id Identity) (ed25519.PrivateKey, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	k.mu.RLock()
	priv, ok := k.keys[id.Key()]
	k.mu.RUnlock()
	if ok {
		return priv, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	priv, err := k.loadLocked(id)
	if err != nil {
		return nil, err
	}
	if priv == nil {
		return nil, notProvisioned(id)
	}
	return priv, nil
}

// loadLocked returns nil, nil when id has no key.
func (k *Keystore) loadLocked(id Identity) (ed25519.PrivateKey, error) {
	if priv, ok := k.keys[id.Key()]; ok {
		return priv, nil
	}
	if k.dir == "" {
		return nil, nil
	}
	path := k.keyPath(id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	raw, err := loadAndDecryptKey(path, k.passphrase)
	if err != nil {
		return nil, unavailable("load key for %s", id).Wrap(err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, unavailable("key file for %s holds %d bytes", id, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	k.keys[id.Key()] = priv
	k.log.Debug().Str("identity", id.Key()).Str("path", path).Msg("loaded key")
	return priv, nil
}

// keyPath hashes the identity key so arbitrary handles map to safe names.
func (k *Keystore) keyPath(id Identity) string {
	sum := sha256.Sum256([]byte(id.Key()))
	return filepath.Join(k.dir, hex.EncodeToString(sum[:])+keyFileSuffix)
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
}

// saveEncryptedKey writes salt || nonce || ciphertext.
func saveEncryptedKey(filePath string, privateKey ed25519.PrivateKey, passphrase string) error {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(privateKey)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, privateKey, nil)
	if err := os.WriteFile(filePath, out, 0600); err != nil {
		return fmt.Errorf("failed to write encrypted key to file %s: %w", filePath, err)
	}
	return nil
}

func loadAndDecryptKey(filePath string, passphrase string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read encrypted key file %s: %w", filePath, err)
	}
	if len(data) < saltSize {
		return nil, errors.New("encrypted data is too short to contain salt")
	}
	gcm, err := newGCM(passphrase, data[:saltSize])
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < saltSize+nonceSize {
		return nil, errors.New("encrypted data is too short to contain nonce")
	}
	plain, err := gcm.Open(nil, data[saltSize:saltSize+nonceSize], data[saltSize+nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key (check passphrase or data integrity): %w", err)
	}
	return plain, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
