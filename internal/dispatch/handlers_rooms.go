package dispatch

import "github.com/kramQAQ/inksprint/internal/protocol"

func (d *Dispatcher) handleCreateGroup(session *Session, req protocol.Request) (protocol.Message, error) {
	g, err := d.rooms.CreateGroup(session.UserID, req.Name, req.IsPrivate, req.Password)
	if err != nil {
		return nil, err
	}
	return protocol.Message{
		"type":     protocol.TypeCreateGroupResp,
		"status":   protocol.StatusSuccess,
		"group_id": g.ID,
		"name":     g.Name,
	}, nil
}

func (d *Dispatcher) handleGetPublicGroups(session *Session) (protocol.Message, error) {
	rooms, err := d.rooms.GetPublicGroups(session.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Message, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, protocol.Message{
			"id":             r.ID,
			"name":           r.Name,
			"owner_nickname": r.OwnerNickname,
			"member_count":   r.MemberCount,
			"has_password":   r.HasPassword,
			"sprint_active":  r.SprintActive,
			"is_private":     r.IsPrivate,
		})
	}
	return protocol.Message{"type": protocol.TypeGroupListResponse, "status": protocol.StatusSuccess, "groups": out}, nil
}

func (d *Dispatcher) handleJoinGroup(session *Session, req protocol.Request) (protocol.Message, error) {
	if err := d.rooms.JoinGroup(session.UserID, req.GroupID, req.Password); err != nil {
		return nil, err
	}
	return protocol.Message{"type": protocol.TypeJoinGroupResponse, "status": protocol.StatusSuccess, "group_id": req.GroupID}, nil
}

func (d *Dispatcher) handleLeaveGroup(session *Session, req protocol.Request) (protocol.Message, error) {
	if err := d.rooms.LeaveGroup(session.UserID, req.GroupID); err != nil {
		return nil, err
	}
	return protocol.Message{"type": protocol.TypeLeaveGroupResponse, "status": protocol.StatusSuccess}, nil
}

func (d *Dispatcher) handleGroupChat(session *Session, req protocol.Request) (protocol.Message, error) {
	if err := d.rooms.GroupChat(session.UserID, req.GroupID, req.Content); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *Dispatcher) handleGetGroupDetail(session *Session, req protocol.Request) (protocol.Message, error) {
	detail, err := d.rooms.GetGroupDetail(session.UserID, req.GroupID, now())
	if err != nil {
		return nil, err
	}
	history := make([]protocol.Message, 0, len(detail.ChatHistory))
	for _, m := range detail.ChatHistory {
		sender := m.Nickname
		if m.IsSystem {
			sender = "SYSTEM"
		}
		history = append(history, protocol.Message{
			"sender":  sender,
			"content": m.Content,
			"time":    m.Timestamp,
		})
	}
	board := make([]protocol.Message, 0, len(detail.Leaderboard))
	for _, e := range detail.Leaderboard {
		board = append(board, protocol.Message{
			"user_id":        e.UserID,
			"nickname":       e.Nickname,
			"word_count":     e.WordCount,
			"is_online":      e.IsOnline,
			"avatar":         e.AvatarB64,
			"reached_target": e.ReachedTarget,
		})
	}
	return protocol.Message{
		"type":          protocol.TypeGroupDetailResp,
		"status":        protocol.StatusSuccess,
		"name":          detail.Name,
		"owner_id":      detail.OwnerID,
		"owner_avatar":  detail.OwnerAvatarB64,
		"sprint_active": detail.SprintActive,
		"sprint_target": detail.SprintTargetWords,
		"chat_history":  history,
		"leaderboard":   board,
	}, nil
}

func (d *Dispatcher) handleSprintControl(session *Session, req protocol.Request) (protocol.Message, error) {
	if err := d.rooms.SprintControl(session.UserID, req.GroupID, req.Action, req.Target, now()); err != nil {
		return nil, err
	}
	return protocol.Message{"type": protocol.TypeResponse, "status": protocol.StatusSuccess}, nil
}

func (d *Dispatcher) handleSyncData(session *Session, req protocol.Request) (protocol.Message, error) {
	if err := d.rooms.SyncData(session.UserID, req.Increment, req.Duration, req.Timestamp, req.LocalDate); err != nil {
		return nil, err
	}
	return protocol.Message{"type": protocol.TypeResponse, "status": protocol.StatusOK, "msg": "Synced"}, nil
}

func (d *Dispatcher) handleGetAnalytics(session *Session) (protocol.Message, error) {
	heatmap, err := d.rooms.GetAnalytics(session.UserID)
	if err != nil {
		return nil, err
	}
	return protocol.Message{"type": protocol.TypeAnalyticsData, "heatmap": heatmap}, nil
}

func (d *Dispatcher) handleGetDetails(session *Session) (protocol.Message, error) {
	details, err := d.rooms.GetDetails(session.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Message, 0, len(details))
	for _, r := range details {
		out = append(out, protocol.Message{
			"time":      r.Time,
			"increment": r.Increment,
			"duration":  r.Duration,
		})
	}
	return protocol.Message{"type": protocol.TypeDetailsData, "data": out}, nil
}
