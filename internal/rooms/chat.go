package rooms

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kramQAQ/inksprint/internal/apierr"
	"github.com/kramQAQ/inksprint/internal/store"
)

// chatHistoryWindow is how far back get_group_detail looks for chat
// history (spec.md §4.I: "last 48h").
const chatHistoryWindow = 48 * 60 * 60

// ChatMessage is the wire shape of one group_messages row.
type ChatMessage struct {
	SenderID  int64
	IsSystem  bool
	Nickname  string
	Content   string
	Timestamp int64
}

func viewMessage(m *store.GroupMessage) ChatMessage {
	cm := ChatMessage{Nickname: m.Nickname, Content: m.Content, Timestamp: m.Timestamp}
	if m.SenderID.Valid {
		cm.SenderID = m.SenderID.Int64
	} else {
		cm.IsSystem = true
	}
	return cm
}

// groupMsgPush builds the flat {group_msg_push, group_id, sender, content,
// time} payload (spec.md §4.I), fanned out to every current member
// including the message's own sender.
func groupMsgPush(groupID int64, m *store.GroupMessage) map[string]any {
	return map[string]any{
		"type":     "group_msg_push",
		"group_id": groupID,
		"sender":   m.Nickname,
		"content":  m.Content,
		"time":     m.Timestamp,
	}
}

// membershipGuard fetches the caller's group and ensures membership,
// returning Forbidden if callerID does not currently belong to groupID.
func (s *Service) membershipGuard(callerID, groupID int64) (*store.Group, error) {
	current, err := s.store.MemberGroupID(callerID)
	if errors.Is(err, store.ErrNotFound) || current != groupID {
		return nil, apierr.New(apierr.Forbidden, "not_a_member")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "group_chat_failed", err)
	}
	g, err := s.store.GetGroup(groupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierr.New(apierr.NotFound, "group_not_found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "group_chat_failed", err)
	}
	return g, nil
}

// GroupChat appends a chat message from callerID to groupID and fans it out
// to every current member, including the sender (spec.md §4.I).
func (s *Service) GroupChat(callerID, groupID int64, content string) error {
	g, err := s.membershipGuard(callerID, groupID)
	if err != nil {
		return err
	}

	sender, err := s.store.GetUserByID(callerID)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "group_chat_failed", err)
	}

	m, err := s.store.AppendGroupMessage(g.ID, callerID, sender.Nickname, content)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "group_chat_failed", err)
	}

	memberIDs, err := s.store.GroupMemberIDs(g.ID)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "group_chat_failed", err)
	}
	s.reg.SendToMany(memberIDs, groupMsgPush(g.ID, m))
	s.recordMessageRouted()
	return nil
}

// LeaderboardEntry is one row of get_group_detail's leaderboard, covering
// every current member (zero-scored members included) (spec.md §4.I).
type LeaderboardEntry struct {
	UserID        int64
	Nickname      string
	WordCount     int64
	IsOnline      bool
	AvatarB64     string
	ReachedTarget bool
}

// GroupDetail is the full shape returned by get_group_detail.
type GroupDetail struct {
	Name              string
	OwnerID           int64
	OwnerAvatarB64    string
	SprintActive      bool
	SprintTargetWords int64
	ChatHistory       []ChatMessage
	Leaderboard       []LeaderboardEntry
}

// GetGroupDetail assembles a room's full detail view for a member.
func (s *Service) GetGroupDetail(callerID, groupID int64, nowUnix int64) (*GroupDetail, error) {
	g, err := s.membershipGuard(callerID, groupID)
	if err != nil {
		return nil, err
	}

	history, err := s.store.GroupMessagesSince(g.ID, nowUnix-chatHistoryWindow)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "get_group_detail_failed", err)
	}
	chatHistory := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		chatHistory = append(chatHistory, viewMessage(m))
	}

	memberIDs, err := s.store.GroupMemberIDs(g.ID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "get_group_detail_failed", err)
	}
	board, err := s.store.SprintLeaderboard(g.ID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "get_group_detail_failed", err)
	}
	scored := make(map[int64]int64, len(board))
	for _, sc := range board {
		scored[sc.UserID] = sc.CurrentScore
	}

	leaderboard := make([]LeaderboardEntry, 0, len(memberIDs))
	for _, id := range memberIDs {
		u, err := s.store.GetUserByID(id)
		if err != nil {
			continue
		}
		score := scored[id]
		entry := LeaderboardEntry{
			UserID:        id,
			Nickname:      u.Nickname,
			WordCount:     score,
			IsOnline:      s.reg.IsOnline(id),
			ReachedTarget: g.SprintTargetWords > 0 && score >= g.SprintTargetWords,
		}
		if s.avatars.Exists(id) {
			if data, err := s.avatars.Get(id); err == nil {
				entry.AvatarB64 = data
			}
		}
		leaderboard = append(leaderboard, entry)
	}
	sort.Slice(leaderboard, func(i, j int) bool {
		a, b := leaderboard[i], leaderboard[j]
		if a.WordCount != b.WordCount {
			return a.WordCount > b.WordCount
		}
		return a.UserID < b.UserID
	})

	owner, err := s.store.GetUserByID(g.OwnerID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "get_group_detail_failed", err)
	}
	var ownerAvatar string
	if s.avatars.Exists(owner.ID) {
		ownerAvatar, _ = s.avatars.Get(owner.ID)
	}

	return &GroupDetail{
		Name:              g.Name,
		OwnerID:           g.OwnerID,
		OwnerAvatarB64:    ownerAvatar,
		SprintActive:      g.SprintActive,
		SprintTargetWords: g.SprintTargetWords,
		ChatHistory:       chatHistory,
		Leaderboard:       leaderboard,
	}, nil
}

// SprintControl starts or stops groupID's sprint. Only the owner may call
// this (spec.md §4.I): non-owners get Forbidden. Any action other than
// exactly "start" is treated as a stop request, matching the original
// handler's behavior rather than validating an enum.
func (s *Service) SprintControl(callerID, groupID int64, action string, targetWords int64, startUnix int64) error {
	g, err := s.store.GetGroup(groupID)
	if errors.Is(err, store.ErrNotFound) {
		return apierr.New(apierr.NotFound, "group_not_found")
	}
	if err != nil {
		return apierr.Wrap(apierr.Transient, "sprint_control_failed", err)
	}
	if g.OwnerID != callerID {
		return apierr.New(apierr.Forbidden, "not_room_owner")
	}

	memberIDs, err := s.store.GroupMemberIDs(groupID)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "sprint_control_failed", err)
	}

	if action == "start" {
		if err := s.store.ResetSprintScores(groupID); err != nil {
			return apierr.Wrap(apierr.Transient, "sprint_control_failed", err)
		}
		if err := s.store.SetSprintState(groupID, true, startUnix, targetWords); err != nil {
			return apierr.Wrap(apierr.Transient, "sprint_control_failed", err)
		}
		msg, err := s.store.AppendSystemMessage(groupID, fmt.Sprintf("Sprint started: target %d words.", targetWords))
		if err != nil {
			return apierr.Wrap(apierr.Transient, "sprint_control_failed", err)
		}
		s.reg.SendToMany(memberIDs, groupMsgPush(groupID, msg))
		s.reg.SendToMany(memberIDs, map[string]any{"type": "sprint_status_push", "group_id": groupID, "active": true, "target_words": targetWords})
		s.reg.BroadcastAll(map[string]any{"type": "refresh_groups"})
		s.recordMessageRouted()
		return nil
	}

	if err := s.store.SetSprintState(groupID, false, 0, g.SprintTargetWords); err != nil {
		return apierr.Wrap(apierr.Transient, "sprint_control_failed", err)
	}
	msg, err := s.store.AppendSystemMessage(groupID, "Sprint ended.")
	if err != nil {
		return apierr.Wrap(apierr.Transient, "sprint_control_failed", err)
	}
	s.reg.SendToMany(memberIDs, groupMsgPush(groupID, msg))
	s.reg.SendToMany(memberIDs, map[string]any{"type": "sprint_status_push", "group_id": groupID, "active": false})
	s.reg.BroadcastAll(map[string]any{"type": "refresh_groups"})
	s.recordMessageRouted()
	return nil
}
