package security

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"testing"
)

func parsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPub, nil
}

func unmarshalStrict(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

// pipe is a minimal io.ReadWriter splicing a client's view of the wire onto
// two independent buffers, mirroring how a real net.Conn looks from one
// side of a handshake test.
type pipe struct {
	toServer *bytes.Buffer
	toClient *bytes.Buffer
}

func (p *pipe) Read(b []byte) (int, error)  { return p.toServer.Read(b) }
func (p *pipe) Write(b []byte) (int, error) { return p.toClient.Write(b) }

func TestServerHandshakeAndRoundTrip(t *testing.T) {
	identity, err := NewServerIdentity()
	if err != nil {
		t.Fatalf("NewServerIdentity: %v", err)
	}

	// Simulate the client side synchronously: read the server's public key
	// frame that ServerHandshake will have written, wrap a session key with
	// it, and stage the wrapped key as the next frame ServerHandshake reads.
	serverToClient := &bytes.Buffer{}
	clientToServer := &bytes.Buffer{}

	if err := WriteFrameBytes(serverToClient, identity.PublicKeyPEM()); err != nil {
		t.Fatalf("write pubkey frame: %v", err)
	}
	pubPEM, err := ReadFrameBytes(serverToClient)
	if err != nil {
		t.Fatalf("read pubkey frame: %v", err)
	}
	pub, err := parsePublicKeyPEM(pubPEM)
	if err != nil {
		t.Fatalf("parse pubkey: %v", err)
	}

	sessionKey := make([]byte, KeySize)
	if _, err := rand.Read(sessionKey); err != nil {
		t.Fatalf("rand session key: %v", err)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, sessionKey, nil)
	if err != nil {
		t.Fatalf("wrap session key: %v", err)
	}
	if err := WriteFrameBytes(clientToServer, wrapped); err != nil {
		t.Fatalf("write wrapped key: %v", err)
	}

	// Now run the real server-side handshake against a fresh transcript: it
	// writes its pubkey frame, then reads the wrapped key frame we staged.
	conn := &pipe{toServer: clientToServer, toClient: &bytes.Buffer{}}
	codec, err := ServerHandshake(conn, identity)
	if err != nil {
		t.Fatalf("ServerHandshake: %v", err)
	}

	type payload struct {
		Type string `json:"type"`
		Msg  string `json:"msg"`
	}
	if err := codec.Encode(payload{Type: "ping", Msg: "hello"}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// The first frame the server wrote is its plaintext public key; the
	// encrypted reply follows it.
	if _, err := ReadFrameBytes(conn.toClient); err != nil {
		t.Fatalf("read server pubkey frame: %v", err)
	}

	clientCodec, err := NewCodec(conn.toClient, io.Discard, sessionKey)
	if err != nil {
		t.Fatalf("NewCodec client: %v", err)
	}
	raw, msgType, err := clientCodec.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if msgType != "ping" {
		t.Fatalf("msgType = %q, want ping", msgType)
	}
	var got payload
	if err := unmarshalStrict(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Msg != "hello" {
		t.Fatalf("Msg = %q, want hello", got.Msg)
	}
}

func TestReadFrameBytesRejectsOversizedLength(t *testing.T) {
	buf := &bytes.Buffer{}
	var header [4]byte
	header[0] = 0xFF // absurdly large length prefix
	buf.Write(header[:])
	if _, err := ReadFrameBytes(buf); err != ErrFrameTooLarge {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	out := &bytes.Buffer{}
	codec, err := NewCodec(nil, out, key)
	if err != nil {
		t.Fatal(err)
	}
	if err := codec.Encode(map[string]string{"type": "x"}); err != nil {
		t.Fatal(err)
	}
	tampered := out.Bytes()
	tampered[len(tampered)-1] ^= 0xFF // flip last byte of the GCM tag

	in := bytes.NewBuffer(tampered)
	readCodec, err := NewCodec(in, nil, key)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := readCodec.ReadEnvelope(); err == nil {
		t.Fatal("expected decryption of tampered ciphertext to fail")
	}
}
