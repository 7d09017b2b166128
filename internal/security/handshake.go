// Package security implements the per-connection RSA/AES-GCM handshake and
// the length-prefixed encrypted frame codec used on top of it.
//
// Handshake: the server generates one RSA-2048 keypair per process start
// (no long-term certificate store — spec.md §4.B) and publishes the public
// key in PEM form as the first plaintext frame on every accepted
// connection. The client wraps a random 32-byte AES-256 key with
// RSA-OAEP(SHA-256) and sends it back as the second frame. From then on,
// every frame on the connection is AES-256-GCM ciphertext.
package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// KeySize is the AES-256 session key length in bytes.
const KeySize = 32

// ServerIdentity holds the per-process RSA keypair used to anchor every
// connection's handshake. A fresh identity is generated at startup; it is
// never persisted.
type ServerIdentity struct {
	privateKey    *rsa.PrivateKey
	publicKeyPEM  []byte
}

// NewServerIdentity generates a fresh RSA-2048 keypair and pre-encodes the
// public half as PEM so it does not need to be re-marshaled per connection.
func NewServerIdentity() (*ServerIdentity, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate rsa keypair: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return &ServerIdentity{privateKey: key, publicKeyPEM: pemBytes}, nil
}

// PublicKeyPEM returns the PEM-encoded public key sent as the handshake
// anchor.
func (s *ServerIdentity) PublicKeyPEM() []byte {
	return s.publicKeyPEM
}

// UnwrapSessionKey decrypts an RSA-OAEP(SHA-256)-wrapped AES key sent by a
// client during the handshake.
func (s *ServerIdentity) UnwrapSessionKey(wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, s.privateKey, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap session key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("unwrap session key: got %d bytes, want %d", len(key), KeySize)
	}
	return key, nil
}
