package store

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of the master key obtained from the credential store.
const KeySize = 32

const subkeyInfo = "docleek findings store v1"

var errDecrypt = errors.New("store: decryption failed")

// sealer encrypts column values with XChaCha20-Poly1305. The additional data
// binds every ciphertext to its table, row and column so values cannot be
// swapped between rows without detection.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(master []byte) (*sealer, error) {
	if len(master) != KeySize {
		return nil, fmt.Errorf("store: key must be %d bytes, got %d", KeySize, len(master))
	}
	sub := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(subkeyInfo)), sub); err != nil {
		return nil, fmt.Errorf("store: derive subkey: %w", err)
	}
	aead, err := chacha20poly1305.NewX(sub)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

func aad(table, id, column string) []byte {
	return []byte(table + "/" + id + "/" + column)
}

// seal returns nonce || ciphertext.
func (s *sealer) seal(table, id, column string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, aad(table, id, column)), nil
}

func (s *sealer) open(table, id, column string, sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, errDecrypt
	}
	out, err := s.aead.Open(nil, sealed[:n], sealed[n:], aad(table, id, column))
	if err != nil {
		return nil, errDecrypt
	}
	return out, nil
}

func (s *sealer) sealString(table, id, column, v string) ([]byte, error) {
	return s.seal(table, id, column, []byte(v))
}

func (s *sealer) openString(table, id, column string, sealed []byte) (string, error) {
	b, err := s.open(table, id, column, sealed)
	return string(b), err
}
