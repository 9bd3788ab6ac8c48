package storage

import (
	"context"
	"crypto/cipher"
	"crypto/rand"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/roach88/ripple/internal/fault"
)

// Encrypted wraps any Backend and encrypts object contents under a
// passphrase-derived key. Keys (object names) pass through in plaintext.
//
// Envelope layout: magic || salt || nonce || AEAD ciphertext. A fresh salt
// and nonce are drawn per object, and the key is derived per object with
// argon2id, so no nonce reuse can occur across objects or overwrites.
type Encrypted struct {
	inner      Backend
	passphrase []byte
}

var envelopeMagic = []byte("RPL1")

const (
	saltSize  = 16
	nonceSize = chacha20poly1305.NonceSizeX

	// argon2id parameters: one pass over 64 MiB with four lanes.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	keySize      = chacha20poly1305.KeySize
)

// NewEncrypted wraps inner with passphrase-based encryption.
func NewEncrypted(inner Backend, passphrase string) (*Encrypted, error) {
	if passphrase == "" {
		return nil, fault.New(fault.Config, "encryption requires a non-empty passphrase")
	}
	return &Encrypted{inner: inner, passphrase: []byte(passphrase)}, nil
}

// List implements Backend. Object names are not encrypted.
func (e *Encrypted) List(ctx context.Context, prefix string) ([]string, error) {
	return e.inner.List(ctx, prefix)
}

// Get implements Backend.
func (e *Encrypted) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := e.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.open(sealed)
}

// Put implements Backend.
func (e *Encrypted) Put(ctx context.Context, key string, data []byte) error {
	sealed, err := e.seal(data)
	if err != nil {
		return err
	}
	return e.inner.Put(ctx, key, sealed)
}

// Delete implements Backend.
func (e *Encrypted) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}

func (e *Encrypted) seal(plaintext []byte) ([]byte, error) {
	envelope := make([]byte, 0, len(envelopeMagic)+saltSize+nonceSize+len(plaintext)+chacha20poly1305.Overhead)
	envelope = append(envelope, envelopeMagic...)

	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, fault.Wrap(fault.Crypto, err, "draw salt")
	}
	envelope = append(envelope, salt[:]...)

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fault.Wrap(fault.Crypto, err, "draw nonce")
	}
	envelope = append(envelope, nonce[:]...)

	aead, err := e.aead(salt[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(envelope, nonce[:], plaintext, nil), nil
}

func (e *Encrypted) open(envelope []byte) ([]byte, error) {
	header := len(envelopeMagic) + saltSize + nonceSize
	if len(envelope) < header || string(envelope[:len(envelopeMagic)]) != string(envelopeMagic) {
		return nil, fault.New(fault.Crypto, "object is not a ripple encryption envelope")
	}
	salt := envelope[len(envelopeMagic) : len(envelopeMagic)+saltSize]
	nonce := envelope[len(envelopeMagic)+saltSize : header]

	aead, err := e.aead(salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, envelope[header:], nil)
	if err != nil {
		return nil, fault.Wrap(fault.Crypto, err, "authenticate object (wrong passphrase or tampering)")
	}
	return plaintext, nil
}

func (e *Encrypted) aead(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(e.passphrase, salt, argonTime, argonMemory, argonThreads, keySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fault.Wrap(fault.Crypto, err, "construct cipher")
	}
	return aead, nil
}
