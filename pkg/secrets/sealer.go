// Package secrets seals provider credentials before they are written to storage.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

const (
	versionPlain byte = 0x00
	versionGCMv1 byte = 0x01
)

// Sealer encrypts with AES-256-GCM using sha256(key). Blob format: version | nonce | ciphertext.
// With an empty key it stores plaintext behind the 0x00 version byte.
type Sealer struct {
	key []byte
}

func NewSealer(key string) *Sealer {
	if key == "" {
		return &Sealer{}
	}
	h := sha256.Sum256([]byte(key))
	return &Sealer{key: h[:]}
}

func (s *Sealer) Enabled() bool { return s != nil && len(s.key) > 0 }

func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	if !s.Enabled() {
		return append([]byte{versionPlain}, plain...), nil
	}
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := gcm.Seal(nil, nonce, plain, nil)
	out := make([]byte, 1+len(nonce)+len(ct))
	out[0] = versionGCMv1
	copy(out[1:1+len(nonce)], nonce)
	copy(out[1+len(nonce):], ct)
	return out, nil
}

func (s *Sealer) Open(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	switch blob[0] {
	case versionPlain:
		return blob[1:], nil
	case versionGCMv1:
	default:
		return nil, fmt.Errorf("unsupported blob version %#x", blob[0])
	}
	if !s.Enabled() {
		return nil, errors.New("sealed blob but no encryption key configured")
	}
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	if len(blob) < 1+gcm.NonceSize() {
		return nil, errors.New("short nonce")
	}
	nonce := blob[1 : 1+gcm.NonceSize()]
	return gcm.Open(nil, nonce, blob[1+gcm.NonceSize():], nil)
}

func (s *Sealer) SealString(v string) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	return s.Seal([]byte(v))
}

func (s *Sealer) OpenString(blob []byte) (string, error) {
	b, err := s.Open(blob)
	return string(b), err
}

func (s *Sealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
