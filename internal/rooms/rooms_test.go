package rooms

import (
	"sync"
	"testing"
	"time"

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

func TestCreateGroupThenSecondGroupConflicts(t *testing.T) {
	s, _, _ := newTestService(t)
	owner := mustUser(t, s.store, "owner")

	g, err := s.CreateGroup(owner.ID, "Room", false, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	_, err = s.CreateGroup(owner.ID, "Room Two", false, "")
	ae := asAPIErr(t, err)
	if ae.Kind != apierr.Conflict || ae.Code != "already_in_group" {
		t.Fatalf("err = %+v, want already_in_group conflict", ae)
	}
	if ae.Extra["current_group_id"] != g.ID {
		t.Fatalf("current_group_id = %v, want %d", ae.Extra["current_group_id"], g.ID)
	}
}

func TestJoinGroupPasswordGate(t *testing.T) {
	s, _, _ := newTestService(t)
	owner := mustUser(t, s.store, "owner")
	joiner := mustUser(t, s.store, "joiner")

	g, err := s.CreateGroup(owner.ID, "Locked", false, "secret")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	err = s.JoinGroup(joiner.ID, g.ID, "wrong")
	if ae := asAPIErr(t, err); ae.Code != "incorrect_password" {
		t.Fatalf("err = %+v, want incorrect_password", ae)
	}

	if err := s.JoinGroup(joiner.ID, g.ID, "secret"); err != nil {
		t.Fatalf("JoinGroup with correct password: %v", err)
	}
}

func TestJoinGroupFullAtTen(t *testing.T) {
	s, _, _ := newTestService(t)
	owner := mustUser(t, s.store, "owner")
	g, err := s.CreateGroup(owner.ID, "Packed", false, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	for i := 0; i < 9; i++ {
		u := mustUser(t, s.store, string(rune('a'+i))+"member")
		if err := s.JoinGroup(u.ID, g.ID, ""); err != nil {
			t.Fatalf("JoinGroup member %d: %v", i, err)
		}
	}
	overflow := mustUser(t, s.store, "overflow")
	err = s.JoinGroup(overflow.ID, g.ID, "")
	if ae := asAPIErr(t, err); ae.Code != "group_full" {
		t.Fatalf("err = %+v, want group_full", ae)
	}
}

func TestJoinGroupIdempotentForCurrentMember(t *testing.T) {
	s, _, _ := newTestService(t)
	owner := mustUser(t, s.store, "owner")
	g, err := s.CreateGroup(owner.ID, "Room", false, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := s.JoinGroup(owner.ID, g.ID, ""); err != nil {
		t.Fatalf("re-JoinGroup own room should be idempotent: %v", err)
	}
}

func TestOwnerLeaveDisbandsAndNotifiesMembers(t *testing.T) {
	s, _, reg := newTestService(t)
	owner := mustUser(t, s.store, "owner")
	member := mustUser(t, s.store, "member")
	g, err := s.CreateGroup(owner.ID, "Room", false, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := s.JoinGroup(member.ID, g.ID, ""); err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	sender := &testSender{}
	reg.Attach(member.ID, sender)

	if err := s.LeaveGroup(owner.ID, g.ID); err != nil {
		t.Fatalf("LeaveGroup (owner): %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("member should receive a disband push, got %d", sender.count())
	}
	if _, err := s.store.GetGroup(g.ID); err != store.ErrNotFound {
		t.Fatalf("group should be deleted, err = %v", err)
	}
}

func TestMemberLeaveDeletesSprintScore(t *testing.T) {
	s, _, _ := newTestService(t)
	owner := mustUser(t, s.store, "owner")
	member := mustUser(t, s.store, "member")
	g, err := s.CreateGroup(owner.ID, "Room", false, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := s.JoinGroup(member.ID, g.ID, ""); err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	if err := s.store.AddSprintScore(g.ID, member.ID, 100); err != nil {
		t.Fatalf("AddSprintScore: %v", err)
	}

	if err := s.LeaveGroup(member.ID, g.ID); err != nil {
		t.Fatalf("LeaveGroup (member): %v", err)
	}
	board, err := s.store.SprintLeaderboard(g.ID)
	if err != nil {
		t.Fatalf("SprintLeaderboard: %v", err)
	}
	if len(board) != 0 {
		t.Fatalf("leaderboard should have no rows after member leaves, got %+v", board)
	}
}

func TestGetPublicGroupsIncludesPrivateRoomsOwnedByFriends(t *testing.T) {
	s, st, _ := newTestService(t)
	caller := mustUser(t, st, "caller")
	friend := mustUser(t, st, "friend")
	stranger := mustUser(t, st, "stranger")

	if err := st.CreateFriendship(caller.ID, friend.ID); err != nil {
		t.Fatalf("CreateFriendship: %v", err)
	}

	pub, err := s.CreateGroup(stranger.ID, "Public Room", false, "")
	if err != nil {
		t.Fatalf("CreateGroup public: %v", err)
	}
	priv, err := s.CreateGroup(friend.ID, "Friend's Room", true, "")
	if err != nil {
		t.Fatalf("CreateGroup private: %v", err)
	}

	rooms, err := s.GetPublicGroups(caller.ID)
	if err != nil {
		t.Fatalf("GetPublicGroups: %v", err)
	}
	seen := map[int64]bool{}
	for _, r := range rooms {
		seen[r.ID] = true
	}
	if !seen[pub.ID] {
		t.Fatalf("expected public room %d in lobby, got %+v", pub.ID, rooms)
	}
	if !seen[priv.ID] {
		t.Fatalf("expected friend's private room %d in lobby, got %+v", priv.ID, rooms)
	}
}

func TestSprintControlStartStopOnlyOwner(t *testing.T) {
	s, _, reg := newTestService(t)
	owner := mustUser(t, s.store, "owner")
	member := mustUser(t, s.store, "member")
	g, err := s.CreateGroup(owner.ID, "Room", false, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := s.JoinGroup(member.ID, g.ID, ""); err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	senderMember := &testSender{}
	reg.Attach(member.ID, senderMember)

	err = s.SprintControl(member.ID, g.ID, "start", 1000, time.Now().Unix())
	if ae := asAPIErr(t, err); ae.Kind != apierr.Forbidden {
		t.Fatalf("non-owner start Kind = %v, want Forbidden", ae.Kind)
	}

	if err := s.SprintControl(owner.ID, g.ID, "start", 1000, time.Now().Unix()); err != nil {
		t.Fatalf("SprintControl start: %v", err)
	}
	got, err := s.store.GetGroup(g.ID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if !got.SprintActive || got.SprintTargetWords != 1000 {
		t.Fatalf("group sprint state = %+v, want active with target 1000", got)
	}
	if senderMember.count() == 0 {
		t.Fatal("member should receive sprint pushes on start")
	}

	if err := s.SprintControl(owner.ID, g.ID, "stop", 0, 0); err != nil {
		t.Fatalf("SprintControl stop: %v", err)
	}
	got, err = s.store.GetGroup(g.ID)
	if err != nil {
		t.Fatalf("GetGroup after stop: %v", err)
	}
	if got.SprintActive {
		t.Fatal("sprint should be inactive after stop")
	}
}

func TestGroupChatFanOutIncludesSender(t *testing.T) {
	s, _, reg := newTestService(t)
	owner := mustUser(t, s.store, "owner")
	member := mustUser(t, s.store, "member")
	g, err := s.CreateGroup(owner.ID, "Room", false, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := s.JoinGroup(member.ID, g.ID, ""); err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	senderOwner, senderMember := &testSender{}, &testSender{}
	reg.Attach(owner.ID, senderOwner)
	reg.Attach(member.ID, senderMember)

	if err := s.GroupChat(owner.ID, g.ID, "hello room"); err != nil {
		t.Fatalf("GroupChat: %v", err)
	}
	if senderOwner.count() != 1 || senderMember.count() != 1 {
		t.Fatalf("both sender and member should receive the push: owner=%d member=%d", senderOwner.count(), senderMember.count())
	}
}

func TestGroupChatRejectsNonMember(t *testing.T) {
	s, _, _ := newTestService(t)
	owner := mustUser(t, s.store, "owner")
	outsider := mustUser(t, s.store, "outsider")
	g, err := s.CreateGroup(owner.ID, "Room", false, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	err = s.GroupChat(outsider.ID, g.ID, "hi")
	if ae := asAPIErr(t, err); ae.Kind != apierr.Forbidden {
		t.Fatalf("Kind = %v, want Forbidden", ae.Kind)
	}
}

func TestGetGroupDetailIncludesZeroScoreMembers(t *testing.T) {
	s, _, _ := newTestService(t)
	owner := mustUser(t, s.store, "owner")
	member := mustUser(t, s.store, "member")
	g, err := s.CreateGroup(owner.ID, "Room", false, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := s.JoinGroup(member.ID, g.ID, ""); err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	if err := s.store.AddSprintScore(g.ID, owner.ID, 50); err != nil {
		t.Fatalf("AddSprintScore: %v", err)
	}

	detail, err := s.GetGroupDetail(owner.ID, g.ID, time.Now().Unix())
	if err != nil {
		t.Fatalf("GetGroupDetail: %v", err)
	}
	if len(detail.Leaderboard) != 2 {
		t.Fatalf("leaderboard = %+v, want 2 entries (including zero-score member)", detail.Leaderboard)
	}
	if detail.Leaderboard[0].UserID != owner.ID || detail.Leaderboard[0].WordCount != 50 {
		t.Fatalf("top entry = %+v, want owner with 50 words", detail.Leaderboard[0])
	}
	if detail.Leaderboard[1].UserID != member.ID || detail.Leaderboard[1].WordCount != 0 {
		t.Fatalf("second entry = %+v, want member with 0 words", detail.Leaderboard[1])
	}
}

func TestSyncDataIgnoresZeroProgress(t *testing.T) {
	s, _, _ := newTestService(t)
	u := mustUser(t, s.store, "writer")
	if err := s.SyncData(u.ID, 0, 0, 0, ""); err != nil {
		t.Fatalf("SyncData no-op: %v", err)
	}
	records, err := s.store.RecentDetailRecords(u.ID, 10)
	if err != nil {
		t.Fatalf("RecentDetailRecords: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("records = %+v, want none for zero-progress sync", records)
	}
}

func TestSyncDataUpdatesDailyReportAndActiveSprintScore(t *testing.T) {
	s, _, reg := newTestService(t)
	owner := mustUser(t, s.store, "owner")
	g, err := s.CreateGroup(owner.ID, "Room", false, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := s.SprintControl(owner.ID, g.ID, "start", 500, time.Now().Unix()); err != nil {
		t.Fatalf("SprintControl start: %v", err)
	}
	sender := &testSender{}
	reg.Attach(owner.ID, sender)

	if err := s.SyncData(owner.ID, 120, 60, time.Now().Unix(), "2026-08-01"); err != nil {
		t.Fatalf("SyncData: %v", err)
	}

	board, err := s.store.SprintLeaderboard(g.ID)
	if err != nil {
		t.Fatalf("SprintLeaderboard: %v", err)
	}
	if len(board) != 1 || board[0].CurrentScore != 120 {
		t.Fatalf("leaderboard = %+v, want single row with score 120", board)
	}

	heatmap, err := s.GetAnalytics(owner.ID)
	if err != nil {
		t.Fatalf("GetAnalytics: %v", err)
	}
	if heatmap["2026-08-01"] != 120 {
		t.Fatalf("heatmap[2026-08-01] = %d, want 120", heatmap["2026-08-01"])
	}

	details, err := s.GetDetails(owner.ID)
	if err != nil {
		t.Fatalf("GetDetails: %v", err)
	}
	if len(details) != 1 || details[0].Increment != 120 {
		t.Fatalf("details = %+v, want single entry with increment 120", details)
	}
}
