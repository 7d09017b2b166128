// Package social implements the friend graph (spec.md §4.G): search,
// friend requests, accept/reject, and the friends list annotated with
// online status from the Session Registry.
package social

import (
	"errors"
	"strconv"

	"github.com/kramQAQ/inksprint/internal/apierr"
	"github.com/kramQAQ/inksprint/internal/blob"
	"github.com/kramQAQ/inksprint/internal/registry"
	"github.com/kramQAQ/inksprint/internal/store"
)

// Service wires the store, registry, and avatar blob store behind the
// friend-graph operations.
type Service struct {
	store   *store.Store
	reg     *registry.Registry
	avatars *blob.Store
}

// New builds a social Service.
func New(st *store.Store, reg *registry.Registry, avatars *blob.Store) *Service {
	return &Service{store: st, reg: reg, avatars: avatars}
}

// UserSummary is the shape of a user as embedded in friend-graph responses.
type UserSummary struct {
	UserID   int64
	Username string
	Nickname string
}

// SearchUser returns the unique user matching query by numeric id, exact
// username, or exact nickname (spec.md §4.G).
func (s *Service) SearchUser(query string) (*UserSummary, error) {
	users, err := s.store.SearchUsers(query)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "search_failed", err)
	}
	if id, err := strconv.ParseInt(query, 10, 64); err == nil {
		if u, err := s.store.GetUserByID(id); err == nil {
			return &UserSummary{UserID: u.ID, Username: u.Username, Nickname: u.Nickname}, nil
		}
	}
	for _, u := range users {
		if u.Username == query || u.Nickname == query {
			return &UserSummary{UserID: u.ID, Username: u.Username, Nickname: u.Nickname}, nil
		}
	}
	return nil, apierr.New(apierr.NotFound, "user_not_found")
}

// AddFriend sends a friend request from callerID to friendID (spec.md
// §4.G): rejects self-friending, an existing friendship, or an existing
// request in either direction.
func (s *Service) AddFriend(callerID, friendID int64) error {
	if callerID == friendID {
		return apierr.New(apierr.Conflict, "cannot_friend_self")
	}
	if _, err := s.store.GetUserByID(friendID); err != nil {
		return apierr.New(apierr.NotFound, "user_not_found")
	}
	areFriends, err := s.store.AreFriends(callerID, friendID)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "add_friend_failed", err)
	}
	if areFriends {
		return apierr.New(apierr.Conflict, "already_friends")
	}
	if existing, _ := s.store.PendingFriendRequestsFor(friendID); hasRequestBetween(existing, callerID, friendID) {
		return apierr.New(apierr.Conflict, "request_pending")
	}
	if existing, _ := s.store.PendingFriendRequestsFor(callerID); hasRequestBetween(existing, callerID, friendID) {
		return apierr.New(apierr.Conflict, "request_pending")
	}

	if _, err := s.store.CreateFriendRequest(callerID, friendID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return apierr.New(apierr.Conflict, "request_pending")
		}
		return apierr.Wrap(apierr.Transient, "add_friend_failed", err)
	}
	s.reg.SendTo(friendID, map[string]any{"type": "refresh_friend_requests"})
	return nil
}

func hasRequestBetween(requests []*store.FriendRequest, a, b int64) bool {
	for _, r := range requests {
		if (r.SenderID == a && r.ReceiverID == b) || (r.SenderID == b && r.ReceiverID == a) {
			return true
		}
	}
	return false
}

// FriendRequestView is a pending request with the sender's profile fields
// joined in, ready for get_friend_requests.
type FriendRequestView struct {
	RequestID int64
	Sender    UserSummary
	CreatedAt int64
}

// GetFriendRequests returns requests addressed to callerID.
func (s *Service) GetFriendRequests(callerID int64) ([]FriendRequestView, error) {
	reqs, err := s.store.PendingFriendRequestsFor(callerID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "get_friend_requests_failed", err)
	}
	out := make([]FriendRequestView, 0, len(reqs))
	for _, r := range reqs {
		sender, err := s.store.GetUserByID(r.SenderID)
		if err != nil {
			continue
		}
		out = append(out, FriendRequestView{
			RequestID: r.ID,
			Sender:    UserSummary{UserID: sender.ID, Username: sender.Username, Nickname: sender.Nickname},
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// RespondFriend accepts or rejects a pending request. Accepting inserts
// the canonical Friendship and pushes refresh_friends to both sides;
// rejecting just deletes the request and pushes refresh_friend_requests to
// the caller (spec.md §4.G).
func (s *Service) RespondFriend(callerID, requestID int64, action string) error {
	req, err := s.store.GetFriendRequest(requestID)
	if errors.Is(err, store.ErrNotFound) {
		return apierr.New(apierr.NotFound, "request_not_found")
	}
	if err != nil {
		return apierr.Wrap(apierr.Transient, "respond_friend_failed", err)
	}
	if req.ReceiverID != callerID {
		return apierr.New(apierr.Forbidden, "not_addressed_to_caller")
	}

	switch action {
	case "accept":
		if err := s.store.CreateFriendship(req.SenderID, req.ReceiverID); err != nil && !errors.Is(err, store.ErrConflict) {
			return apierr.Wrap(apierr.Transient, "respond_friend_failed", err)
		}
		if err := s.store.DeleteFriendRequest(requestID); err != nil {
			return apierr.Wrap(apierr.Transient, "respond_friend_failed", err)
		}
		push := map[string]any{"type": "refresh_friends"}
		s.reg.SendTo(req.SenderID, push)
		s.reg.SendTo(req.ReceiverID, push)
		return nil
	case "reject":
		if err := s.store.DeleteFriendRequest(requestID); err != nil {
			return apierr.Wrap(apierr.Transient, "respond_friend_failed", err)
		}
		s.reg.SendTo(callerID, map[string]any{"type": "refresh_friend_requests"})
		return nil
	default:
		// An action outside {accept,reject} is a no-op success: no state
		// change, no push, matching the original handler's fallthrough.
		return nil
	}
}

// FriendView is a friend entry annotated with online status, for
// get_friends.
type FriendView struct {
	UserID    int64
	Nickname  string
	Online    bool
	AvatarB64 string
}

// GetFriends returns callerID's friends annotated with Session Registry
// online status and cached avatar blob (spec.md §4.G).
func (s *Service) GetFriends(callerID int64) ([]FriendView, error) {
	ids, err := s.store.FriendsOf(callerID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "get_friends_failed", err)
	}
	out := make([]FriendView, 0, len(ids))
	for _, id := range ids {
		u, err := s.store.GetUserByID(id)
		if err != nil {
			continue
		}
		var avatarB64 string
		if u.AvatarFilename.Valid && s.avatars.Exists(u.ID) {
			if data, err := s.avatars.Get(u.ID); err == nil {
				avatarB64 = data
			}
		}
		out = append(out, FriendView{
			UserID:    u.ID,
			Nickname:  u.Nickname,
			Online:    s.reg.IsOnline(u.ID),
			AvatarB64: avatarB64,
		})
	}
	return out, nil
}

// DeleteFriend removes the canonical friendship row and notifies the
// removed peer.
func (s *Service) DeleteFriend(callerID, friendID int64) error {
	if err := s.store.DeleteFriendship(callerID, friendID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierr.New(apierr.NotFound, "not_friends")
		}
		return apierr.Wrap(apierr.Transient, "delete_friend_failed", err)
	}
	s.reg.SendTo(friendID, map[string]any{"type": "refresh_friends"})
	return nil
}
