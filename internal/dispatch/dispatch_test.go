package dispatch

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/kramQAQ/inksprint/internal/auth"
	"github.com/kramQAQ/inksprint/internal/blob"
	"github.com/kramQAQ/inksprint/internal/email"
	"github.com/kramQAQ/inksprint/internal/metrics"
	"github.com/kramQAQ/inksprint/internal/protocol"
	"github.com/kramQAQ/inksprint/internal/registry"
	"github.com/kramQAQ/inksprint/internal/rooms"
	"github.com/kramQAQ/inksprint/internal/social"
	"github.com/kramQAQ/inksprint/internal/store"
	"github.com/kramQAQ/inksprint/internal/verification"
)

type testSender struct {
	mu  sync.Mutex
	got []any
}

func (s *testSender) Send(msg any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store, *registry.Registry) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	avatars, err := blob.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob.NewStore: %v", err)
	}
	reg := registry.New()
	codes := verification.New()
	authSvc := auth.New(st, avatars, email.NoopSender{}, codes)
	socialSvc := social.New(st, reg, avatars)
	roomsSvc := rooms.New(st, reg, avatars)
	return New(authSvc, socialSvc, roomsSvc, metrics.New()), st, reg
}

func frame(t *testing.T, v map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return b
}

func TestUnauthenticatedFrameRequiresLogin(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	session := &Session{}
	out := d.Handle(session, frame(t, map[string]any{"type": protocol.TypeGetFriends}))
	if out.CloseConn {
		t.Fatal("should not close connection, just reply with error")
	}
	if !out.HasReply || out.Reply["status"] != protocol.StatusError || out.Reply["msg"] != "not_logged_in" {
		t.Fatalf("reply = %+v, want not_logged_in error", out.Reply)
	}
}

func TestRegisterThenLoginAttachesSession(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	session := &Session{}

	out := d.Handle(session, frame(t, map[string]any{
		"type": protocol.TypeRegister, "username": "alice", "password_hash": "h1",
	}))
	if !out.HasReply || out.Reply["status"] != protocol.StatusSuccess {
		t.Fatalf("register reply = %+v", out.Reply)
	}

	out = d.Handle(session, frame(t, map[string]any{
		"type": protocol.TypeLogin, "username": "alice", "password_hash": "h1",
	}))
	if !out.HasReply || out.Reply["status"] != protocol.StatusSuccess {
		t.Fatalf("login reply = %+v", out.Reply)
	}
	if session.UserID == 0 {
		t.Fatal("session should be attached with a user id after login")
	}
	if out.AttachUserID != session.UserID {
		t.Fatalf("AttachUserID = %d, want %d", out.AttachUserID, session.UserID)
	}
}

func TestLoginWrongPasswordReturnsErrorWithoutClosing(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	session := &Session{}
	d.Handle(session, frame(t, map[string]any{"type": protocol.TypeRegister, "username": "bob", "password_hash": "h1"}))

	out := d.Handle(session, frame(t, map[string]any{"type": protocol.TypeLogin, "username": "bob", "password_hash": "wrong"}))
	if out.CloseConn {
		t.Fatal("credential failure should not close the connection")
	}
	if out.Reply["status"] != protocol.StatusFail || out.Reply["type"] != protocol.TypeLoginResponse {
		t.Fatalf("reply = %+v, want fail status on login_response", out.Reply)
	}
	if session.LoggedIn() {
		t.Fatal("session should not be logged in after failed login")
	}
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	session := &Session{}
	out := d.Handle(session, []byte("not json"))
	if !out.CloseConn {
		t.Fatal("malformed JSON should close the connection")
	}
}

func TestUnknownTypeYieldsAck(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	session := &Session{}
	d.Handle(session, frame(t, map[string]any{"type": protocol.TypeRegister, "username": "carol", "password_hash": "h1"}))
	d.Handle(session, frame(t, map[string]any{"type": protocol.TypeLogin, "username": "carol", "password_hash": "h1"}))

	out := d.Handle(session, frame(t, map[string]any{"type": "totally_unknown_type"}))
	if out.CloseConn || !out.HasReply || out.Reply["msg"] != "Ack" {
		t.Fatalf("unknown type reply = %+v", out.Reply)
	}
}

func TestCreateGroupTwiceConflictCarriesCurrentGroupID(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	owner := &Session{}
	d.Handle(owner, frame(t, map[string]any{"type": protocol.TypeRegister, "username": "owner", "password_hash": "h"}))
	d.Handle(owner, frame(t, map[string]any{"type": protocol.TypeLogin, "username": "owner", "password_hash": "h"}))

	out := d.Handle(owner, frame(t, map[string]any{"type": protocol.TypeCreateGroup, "name": "Room", "is_private": false}))
	if out.Reply["status"] != protocol.StatusSuccess {
		t.Fatalf("create_group reply = %+v", out.Reply)
	}
	groupID := out.Reply["group_id"]

	out = d.Handle(owner, frame(t, map[string]any{"type": protocol.TypeCreateGroup, "name": "Room Two"}))
	if out.Reply["status"] != protocol.StatusFail || out.Reply["msg"] != "already_in_group" {
		t.Fatalf("second create_group reply = %+v, want already_in_group fail", out.Reply)
	}
	if out.Reply["current_group_id"] != groupID {
		t.Fatalf("current_group_id = %v, want %v", out.Reply["current_group_id"], groupID)
	}
}

func TestGroupChatHasNoDirectReplyOnlyPush(t *testing.T) {
	d, _, reg := newTestDispatcher(t)
	owner := &Session{}
	d.Handle(owner, frame(t, map[string]any{"type": protocol.TypeRegister, "username": "owner", "password_hash": "h"}))
	d.Handle(owner, frame(t, map[string]any{"type": protocol.TypeLogin, "username": "owner", "password_hash": "h"}))

	out := d.Handle(owner, frame(t, map[string]any{"type": protocol.TypeCreateGroup, "name": "Room"}))
	groupIDFloat, _ := out.Reply["group_id"].(int64)

	sender := &testSender{}
	reg.Attach(owner.UserID, sender)

	out = d.Handle(owner, frame(t, map[string]any{"type": protocol.TypeGroupChat, "group_id": groupIDFloat, "content": "hi"}))
	if out.HasReply {
		t.Fatalf("group_chat should have no direct reply, got %+v", out.Reply)
	}
	if len(sender.got) != 1 {
		t.Fatalf("sender should receive exactly one push, got %d", len(sender.got))
	}
}
