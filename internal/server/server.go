// Package server runs the TCP accept loop that terminates InkSprint's
// encrypted wire protocol: handshake, then a read/dispatch loop per
// connection, grounded on the teacher's Server/handleClient split
// (server.go/client.go) but adapted from TLS+WebSocket transport to a raw
// TCP socket framed by internal/security.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/kramQAQ/inksprint/internal/dispatch"
	"github.com/kramQAQ/inksprint/internal/registry"
	"github.com/kramQAQ/inksprint/internal/security"
)

// Server accepts raw TCP connections, performs the handshake, and hands
// each connection off to its own read/dispatch loop.
type Server struct {
	addr     string
	identity *security.ServerIdentity
	registry *registry.Registry
	dispatch *dispatch.Dispatcher
}

// New builds a Server bound to addr. identity is generated fresh per
// process start (spec.md §4.B: no long-term certificate store).
func New(addr string, identity *security.ServerIdentity, reg *registry.Registry, d *dispatch.Dispatcher) *Server {
	return &Server{addr: addr, identity: identity, registry: reg, dispatch: d}
}

// Run listens on s.addr and accepts connections until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("server: listening", "addr", s.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

// connSendPath is a serialized outbound writer for one connection (spec.md
// §4.A: "the session's send path is serialized"). Each push or reply is
// enqueued on outbox and drained by a single goroutine so concurrent
// writers (the dispatch loop and registry fan-out pushes) never interleave
// partial frame writes on the socket.
type connSendPath struct {
	outbox chan any
	done   chan struct{}
}

func newConnSendPath(codec *security.Codec) *connSendPath {
	p := &connSendPath{
		outbox: make(chan any, 64),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		for msg := range p.outbox {
			if err := codec.Encode(msg); err != nil {
				slog.Debug("server: write error, stopping send path", "err", err)
				return
			}
		}
	}()
	return p
}

// Send implements registry.Sender. A full outbox drops the message rather
// than blocking the caller (spec.md §4.D: "failures are swallowed").
func (p *connSendPath) Send(msg any) {
	select {
	case p.outbox <- msg:
	default:
		slog.Debug("server: outbox full, dropping push")
	}
}

func (p *connSendPath) close() {
	close(p.outbox)
	<-p.done
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	codec, err := security.ServerHandshake(conn, s.identity)
	if err != nil {
		slog.Debug("server: handshake failed", "remote", remote, "err", err)
		return
	}

	send := newConnSendPath(codec)
	defer send.close()

	session := &dispatch.Session{}
	var attachedUserID int64

	defer func() {
		if attachedUserID != 0 {
			s.registry.Detach(attachedUserID, send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, msgType, err := codec.ReadEnvelope()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Debug("server: read error", "remote", remote, "err", err)
			}
			return
		}

		start := time.Now()
		outcome := s.dispatch.Handle(session, frame)

		if outcome.AttachUserID != 0 {
			if attachedUserID != 0 && attachedUserID != outcome.AttachUserID {
				s.registry.Detach(attachedUserID, send)
			}
			attachedUserID = outcome.AttachUserID
			s.registry.Attach(attachedUserID, send)
		}

		if outcome.HasReply {
			send.Send(outcome.Reply)
		}

		slog.Debug("server: handled frame", "type", msgType, "user_id", session.UserID, "remote", remote, "duration_ms", time.Since(start).Milliseconds())

		if outcome.CloseConn {
			return
		}
	}
}
