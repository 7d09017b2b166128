package social

import (
	"strconv"
	"sync"
	"testing"

	"github.com/kramQAQ/inksprint/internal/apierr"
	"github.com/kramQAQ/inksprint/internal/blob"
	"github.com/kramQAQ/inksprint/internal/registry"
	"github.com/kramQAQ/inksprint/internal/store"
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

func (s *testSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func newTestService(t *testing.T) (*Service, *store.Store, *registry.Registry) {
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
	return New(st, reg, avatars), st, reg
}

func mustUser(t *testing.T, st *store.Store, username string) *store.User {
	t.Helper()
	u, err := st.CreateUser(username, "hash", "Nick-"+username)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func asAPIErr(t *testing.T, err error) *apierr.Error {
	t.Helper()
	ae, ok := err.(*apierr.Error)
	if !ok {
		t.Fatalf("error %v is not *apierr.Error", err)
	}
	return ae
}

func TestAddFriendRejectsSelf(t *testing.T) {
	s, st, _ := newTestService(t)
	a := mustUser(t, st, "a")
	err := s.AddFriend(a.ID, a.ID)
	if ae := asAPIErr(t, err); ae.Kind != apierr.Conflict {
		t.Fatalf("Kind = %v, want Conflict", ae.Kind)
	}
}

func TestAddFriendTwiceProducesOneRequest(t *testing.T) {
	s, st, reg := newTestService(t)
	a := mustUser(t, st, "a")
	b := mustUser(t, st, "b")
	sender := &testSender{}
	reg.Attach(b.ID, sender)

	if err := s.AddFriend(a.ID, b.ID); err != nil {
		t.Fatalf("first AddFriend: %v", err)
	}
	err := s.AddFriend(a.ID, b.ID)
	if ae := asAPIErr(t, err); ae.Kind != apierr.Conflict {
		t.Fatalf("second AddFriend Kind = %v, want Conflict", ae.Kind)
	}

	reqs, err := s.GetFriendRequests(b.ID)
	if err != nil {
		t.Fatalf("GetFriendRequests: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("len(reqs) = %d, want 1", len(reqs))
	}
	if sender.count() != 1 {
		t.Fatalf("push count = %d, want 1", sender.count())
	}
}

func TestRespondFriendAcceptCreatesFriendshipAndPushesBothSides(t *testing.T) {
	s, st, reg := newTestService(t)
	a := mustUser(t, st, "a")
	b := mustUser(t, st, "b")
	senderA, senderB := &testSender{}, &testSender{}
	reg.Attach(a.ID, senderA)
	reg.Attach(b.ID, senderB)

	if err := s.AddFriend(a.ID, b.ID); err != nil {
		t.Fatalf("AddFriend: %v", err)
	}
	reqs, err := s.GetFriendRequests(b.ID)
	if err != nil || len(reqs) != 1 {
		t.Fatalf("GetFriendRequests: %v, %+v", err, reqs)
	}

	if err := s.RespondFriend(b.ID, reqs[0].RequestID, "accept"); err != nil {
		t.Fatalf("RespondFriend accept: %v", err)
	}

	friendsOfA, err := s.GetFriends(a.ID)
	if err != nil {
		t.Fatalf("GetFriends: %v", err)
	}
	if len(friendsOfA) != 1 || friendsOfA[0].UserID != b.ID {
		t.Fatalf("friends of a = %+v, want [b]", friendsOfA)
	}
	if senderA.count() == 0 || senderB.count() == 0 {
		t.Fatal("both sides should receive a refresh_friends push")
	}
}

func TestRespondFriendRejectsWrongReceiver(t *testing.T) {
	s, st, _ := newTestService(t)
	a := mustUser(t, st, "a")
	b := mustUser(t, st, "b")
	c := mustUser(t, st, "c")

	if err := s.AddFriend(a.ID, b.ID); err != nil {
		t.Fatalf("AddFriend: %v", err)
	}
	reqs, err := s.GetFriendRequests(b.ID)
	if err != nil || len(reqs) != 1 {
		t.Fatalf("GetFriendRequests: %v, %+v", err, reqs)
	}

	err = s.RespondFriend(c.ID, reqs[0].RequestID, "accept")
	if ae := asAPIErr(t, err); ae.Kind != apierr.Forbidden {
		t.Fatalf("Kind = %v, want Forbidden", ae.Kind)
	}
}

func TestGetFriendsReflectsOnlineStatus(t *testing.T) {
	s, st, reg := newTestService(t)
	a := mustUser(t, st, "a")
	b := mustUser(t, st, "b")
	if err := st.CreateFriendship(a.ID, b.ID); err != nil {
		t.Fatalf("CreateFriendship: %v", err)
	}

	friends, err := s.GetFriends(a.ID)
	if err != nil {
		t.Fatalf("GetFriends: %v", err)
	}
	if len(friends) != 1 || friends[0].Online {
		t.Fatalf("friend should be offline: %+v", friends)
	}

	reg.Attach(b.ID, &testSender{})
	friends, err = s.GetFriends(a.ID)
	if err != nil {
		t.Fatalf("GetFriends: %v", err)
	}
	if !friends[0].Online {
		t.Fatal("friend should be online after attach")
	}
}

func TestDeleteFriendNotifiesPeer(t *testing.T) {
	s, st, reg := newTestService(t)
	a := mustUser(t, st, "a")
	b := mustUser(t, st, "b")
	if err := st.CreateFriendship(a.ID, b.ID); err != nil {
		t.Fatalf("CreateFriendship: %v", err)
	}
	sender := &testSender{}
	reg.Attach(b.ID, sender)

	if err := s.DeleteFriend(a.ID, b.ID); err != nil {
		t.Fatalf("DeleteFriend: %v", err)
	}
	ok, err := st.AreFriends(a.ID, b.ID)
	if err != nil || ok {
		t.Fatalf("friendship should be removed: ok=%v err=%v", ok, err)
	}
	if sender.count() != 1 {
		t.Fatalf("push count = %d, want 1", sender.count())
	}
}

func TestSearchUserByNumericID(t *testing.T) {
	s, st, _ := newTestService(t)
	a := mustUser(t, st, "a")

	got, err := s.SearchUser(strconv.FormatInt(a.ID, 10))
	if err != nil {
		t.Fatalf("SearchUser: %v", err)
	}
	if got.UserID != a.ID {
		t.Fatalf("UserID = %d, want %d", got.UserID, a.ID)
	}
}
