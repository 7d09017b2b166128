package security

import (
	"fmt"
	"io"
)

// ServerHandshake performs the server side of the three-step handshake
// (spec.md §4.B) over conn and returns a Codec bound to the negotiated
// session key. Any failure leaves the connection for the caller to close
// without a reply, matching the "close the connection without reply"
// contract for handshake failures.
func ServerHandshake(conn io.ReadWriter, identity *ServerIdentity) (*Codec, error) {
	if err := WriteFrameBytes(conn, identity.PublicKeyPEM()); err != nil {
		return nil, fmt.Errorf("send public key: %w", err)
	}
	wrapped, err := ReadFrameBytes(conn)
	if err != nil {
		return nil, fmt.Errorf("read wrapped session key: %w", err)
	}
	key, err := identity.UnwrapSessionKey(wrapped)
	if err != nil {
		return nil, err
	}
	return NewCodec(conn, conn, key)
}
