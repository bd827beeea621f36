package blob

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	nonceSize = 24
	keySize   = 32
)

var (
	ErrDecrypt = errors.New("failed to decrypt blob")

	keySalt = []byte("syncbox-blob-v1")
)

// EncryptedStore seals blob contents with a key derived from a shared passphrase.
// Blobs stay addressed by the plaintext hash so hosts sharing the passphrase deduplicate.
// Filename metadata is not encrypted.
type EncryptedStore struct {
	Store
	key [keySize]byte
}

func NewEncryptedStore(inner Store, passphrase string) (*EncryptedStore, error) {
	derived, err := scrypt.Key([]byte(passphrase), keySalt, 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive blob key: %w", err)
	}

	s := &EncryptedStore{Store: inner}
	copy(s.key[:], derived)
	return s, nil
}

func (s *EncryptedStore) GetBlob(ctx context.Context, hash string) (io.ReadCloser, error) {
	rc, err := s.Store.GetBlob(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	sealed, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	plain, err := s.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrDecrypt, hash, err)
	}
	return io.NopCloser(bytes.NewReader(plain)), nil
}

func (s *EncryptedStore) PutBlob(ctx context.Context, hash string, body io.Reader, size int64) error {
	plain, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	sealed, err := s.seal(plain)
	if err != nil {
		return err
	}
	return s.Store.PutBlob(ctx, hash, bytes.NewReader(sealed), int64(len(sealed)))
}

// seal returns nonce || secretbox(plain).
func (s *EncryptedStore) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

func (s *EncryptedStore) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, errors.New("ciphertext too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("authentication failed")
	}
	return plain, nil
}

var _ Store = (*EncryptedStore)(nil)
