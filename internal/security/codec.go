package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// nonceSize is the AES-GCM nonce length used on the wire (spec.md §4.A:
// "12-byte nonce || AES-256-GCM(key, plaintext)").
const nonceSize = 12

// maxFrameBytes bounds a single ciphertext frame to guard against a
// malicious or corrupt length prefix forcing an unbounded allocation.
const maxFrameBytes = 16 << 20 // 16 MiB

// ErrFrameTooLarge is returned by ReadFrameBytes when the declared length
// exceeds maxFrameBytes. The caller should treat this as a ProtocolError
// and close the connection (spec.md §7).
var ErrFrameTooLarge = errors.New("security: frame exceeds maximum size")

// Codec frames and encrypts/decrypts JSON messages over a raw byte stream
// using a single negotiated AES-256-GCM session key.
type Codec struct {
	r    io.Reader
	w    io.Writer
	gcm  cipher.AEAD
}

// NewCodec builds a Codec bound to key (the unwrapped session key from the
// handshake) and the connection's read/write halves.
func NewCodec(r io.Reader, w io.Writer, key []byte) (*Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Codec{r: r, w: w, gcm: gcm}, nil
}

// WriteFrameBytes writes length-prefixed plaintext, as the handshake does
// for the RSA public key and wrapped AES key, with no encryption.
func WriteFrameBytes(w io.Writer, plaintext []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(plaintext)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrameBytes reads one length-prefixed plaintext frame, as the
// handshake does. Reading is exact: a frame is either fully read or an
// error is returned (spec.md §4.A).
func ReadFrameBytes(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Encode marshals v to JSON, encrypts it, and writes the framed ciphertext.
func (c *Codec) Encode(v any) error {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := c.gcm.Seal(nonce[:], nonce[:], plaintext, nil)
	return WriteFrameBytes(c.w, ciphertext)
}

// ReadEnvelope reads one frame, decrypts it, and returns the raw decrypted
// JSON bytes alongside the decoded "type" discriminator. Callers re-decode
// the bytes into a concrete request struct once they know the type.
func (c *Codec) ReadEnvelope() (raw []byte, msgType string, err error) {
	ciphertext, err := ReadFrameBytes(c.r)
	if err != nil {
		return nil, "", err
	}
	if len(ciphertext) < nonceSize {
		return nil, "", fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, "", fmt.Errorf("decrypt frame: %w", err)
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return nil, "", fmt.Errorf("decode envelope: %w", err)
	}
	return plaintext, env.Type, nil
}
