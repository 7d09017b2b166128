package dispatch

import "github.com/kramQAQ/inksprint/internal/protocol"

func (d *Dispatcher) handleSearchUser(req protocol.Request) (protocol.Message, error) {
	u, err := d.social.SearchUser(req.Query)
	if err != nil {
		return nil, err
	}
	return protocol.Message{
		"type":     protocol.TypeSearchUserResponse,
		"status":   protocol.StatusSuccess,
		"user_id":  u.UserID,
		"username": u.Username,
		"nickname": u.Nickname,
	}, nil
}

func (d *Dispatcher) handleAddFriend(session *Session, req protocol.Request) (protocol.Message, error) {
	if err := d.social.AddFriend(session.UserID, req.FriendID); err != nil {
		return nil, err
	}
	return protocol.Message{"type": protocol.TypeResponse, "status": protocol.StatusSuccess}, nil
}

func (d *Dispatcher) handleDeleteFriend(session *Session, req protocol.Request) (protocol.Message, error) {
	if err := d.social.DeleteFriend(session.UserID, req.FriendID); err != nil {
		return nil, err
	}
	return protocol.Message{"type": protocol.TypeResponse, "status": protocol.StatusSuccess}, nil
}

func (d *Dispatcher) handleGetFriendRequests(session *Session) (protocol.Message, error) {
	reqs, err := d.social.GetFriendRequests(session.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Message, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, protocol.Message{
			"request_id": r.RequestID,
			"user_id":    r.Sender.UserID,
			"username":   r.Sender.Username,
			"nickname":   r.Sender.Nickname,
			"created_at": r.CreatedAt,
		})
	}
	return protocol.Message{"type": protocol.TypeFriendRequestsResp, "status": protocol.StatusSuccess, "requests": out}, nil
}

func (d *Dispatcher) handleRespondFriend(session *Session, req protocol.Request) (protocol.Message, error) {
	if err := d.social.RespondFriend(session.UserID, req.RequestID, req.Action); err != nil {
		return nil, err
	}
	return protocol.Message{"type": protocol.TypeResponse, "status": protocol.StatusSuccess}, nil
}

func (d *Dispatcher) handleGetFriends(session *Session) (protocol.Message, error) {
	friends, err := d.social.GetFriends(session.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Message, 0, len(friends))
	for _, f := range friends {
		status := "Offline"
		if f.Online {
			status = "Online"
		}
		out = append(out, protocol.Message{
			"user_id":  f.UserID,
			"nickname": f.Nickname,
			"status":   status,
			"avatar":   f.AvatarB64,
		})
	}
	return protocol.Message{"type": protocol.TypeGetFriendsResponse, "status": protocol.StatusSuccess, "friends": out}, nil
}
