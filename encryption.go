package cachemanager

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
	"time"
)

var (
	encryptionMagic = []byte("ENC1")

	ErrEncryptionKey = errors.New("cache: encryption key must be 16, 24, or 32 bytes")
	ErrDecryptFailed = errors.New("cache: decrypt failed")
)

// encryptingBackend seals values with AES-GCM before they reach inner.
type encryptingBackend struct {
	decorator
	aead cipher.AEAD
}

func newEncryptingBackend(inner Backend, key []byte) (Backend, error) {
	if len(key) == 0 {
		return inner, nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrEncryptionKey
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &encryptingBackend{decorator: decorator{inner: inner}, aead: aead}, nil
}

func (b *encryptingBackend) Load(ctx context.Context, id string) ([]byte, bool, error) {
	body, ok, err := b.inner.Load(ctx, id)
	if err != nil || !ok {
		return body, ok, err
	}
	plain, err := b.decrypt(body)
	if err != nil {
		return nil, false, err
	}
	return plain, true, nil
}

func (b *encryptingBackend) Save(ctx context.Context, id string, data []byte, tags []string, lifetime time.Duration) error {
	sealed, err := b.encrypt(data)
	if err != nil {
		return err
	}
	return b.inner.Save(ctx, id, sealed, tags, lifetime)
}

func (b *encryptingBackend) encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ct := b.aead.Seal(nil, nonce, plain, nil)
	buf := make([]byte, 0, len(encryptionMagic)+1+len(nonce)+len(ct))
	buf = append(buf, encryptionMagic...)
	buf = append(buf, byte(len(nonce)))
	buf = append(buf, nonce...)
	buf = append(buf, ct...)
	return buf, nil
}

func (b *encryptingBackend) decrypt(in []byte) ([]byte, error) {
	if len(in) < len(encryptionMagic)+1 || !bytes.Equal(in[:len(encryptionMagic)], encryptionMagic) {
		return in, nil
	}
	nonceLen := int(in[len(encryptionMagic)])
	offset := len(encryptionMagic) + 1
	if len(in) < offset+nonceLen {
		return nil, ErrDecryptFailed
	}
	plain, err := b.aead.Open(nil, in[offset:offset+nonceLen], in[offset+nonceLen:], nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}
