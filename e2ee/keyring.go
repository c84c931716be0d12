// Package e2ee provides a key ring implementing the data track encryption
// and decryption providers with ChaCha20-Poly1305.
//
// Keys are derived with HKDF-SHA256 from key material set by the application.
// Material set for a participant applies to that participant only; shared
// material applies to everyone without a participant key at that index.
package e2ee

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/1ureka/datatrack"
)

var (
	ErrNoKey   = errors.New("e2ee: no key for index")
	ErrDecrypt = errors.New("e2ee: decryption failed")
)

const hkdfSalt = "datatrack-e2ee-v1"

type keyID struct {
	identity datatrack.ParticipantIdentity // empty for shared keys
	index    uint8
}

// KeyRing holds the AEAD keys of every participant by key index. It is safe
// for concurrent use.
type KeyRing struct {
	local datatrack.ParticipantIdentity

	mu      sync.RWMutex
	keys    map[keyID]cipher.AEAD
	current uint8
}

// NewKeyRing creates an empty key ring for the local participant.
func NewKeyRing(local datatrack.ParticipantIdentity) *KeyRing {
	return &KeyRing{local: local, keys: make(map[keyID]cipher.AEAD)}
}

// SetKey derives and stores the key of identity at index.
func (k *KeyRing) SetKey(identity datatrack.ParticipantIdentity, index uint8, material []byte) error {
	aead, err := deriveAEAD(material, identity)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.keys[keyID{identity, index}] = aead
	k.mu.Unlock()
	return nil
}

// SetSharedKey derives and stores a key used for every participant.
func (k *KeyRing) SetSharedKey(index uint8, material []byte) error {
	return k.SetKey("", index, material)
}

// SetKeyIndex selects the key index used to encrypt outgoing frames.
func (k *KeyRing) SetKeyIndex(index uint8) {
	k.mu.Lock()
	k.current = index
	k.mu.Unlock()
}

// Encrypt seals payload with the local participant's current key and a
// random 12-byte IV.
func (k *KeyRing) Encrypt(payload []byte) (datatrack.EncryptedPayload, error) {
	k.mu.RLock()
	index := k.current
	aead, ok := k.lookup(k.local, index)
	k.mu.RUnlock()
	if !ok {
		return datatrack.EncryptedPayload{}, fmt.Errorf("%w %d", ErrNoKey, index)
	}

	out := datatrack.EncryptedPayload{KeyIndex: index}
	if _, err := io.ReadFull(rand.Reader, out.IV[:]); err != nil {
		return datatrack.EncryptedPayload{}, fmt.Errorf("e2ee: generate iv: %w", err)
	}
	out.Payload = aead.Seal(nil, out.IV[:], payload, nil)
	return out, nil
}

// Decrypt opens a payload sent by sender.
func (k *KeyRing) Decrypt(p datatrack.EncryptedPayload, sender datatrack.ParticipantIdentity) ([]byte, error) {
	k.mu.RLock()
	aead, ok := k.lookup(sender, p.KeyIndex)
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %d (sender %s)", ErrNoKey, p.KeyIndex, sender)
	}

	plain, err := aead.Open(nil, p.IV[:], p.Payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

// lookup must be called with mu held.
func (k *KeyRing) lookup(identity datatrack.ParticipantIdentity, index uint8) (cipher.AEAD, bool) {
	if aead, ok := k.keys[keyID{identity, index}]; ok {
		return aead, true
	}
	aead, ok := k.keys[keyID{"", index}]
	return aead, ok
}

func deriveAEAD(material []byte, identity datatrack.ParticipantIdentity) (cipher.AEAD, error) {
	if len(material) == 0 {
		return nil, errors.New("e2ee: empty key material")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, material, []byte(hkdfSalt), []byte(identity))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("e2ee: derive key: %w", err)
	}
	return chacha20poly1305.New(key)
}

var (
	_ datatrack.EncryptionProvider = (*KeyRing)(nil)
	_ datatrack.DecryptionProvider = (*KeyRing)(nil)
)
