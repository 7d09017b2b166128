// Package rooms implements group/room membership, the lobby listing, chat,
// sprint control, and activity ingest (spec.md §4.H, §4.I, §4.J).
package rooms

import (
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/kramQAQ/inksprint/internal/apierr"
	"github.com/kramQAQ/inksprint/internal/blob"
	"github.com/kramQAQ/inksprint/internal/metrics"
	"github.com/kramQAQ/inksprint/internal/registry"
	"github.com/kramQAQ/inksprint/internal/store"
)

// lobbyCap bounds the number of rooms returned by get_public_groups
// (spec.md §4.H: "capped at 50").
const lobbyCap = 50

// Service wires the store, registry, and avatar blob store behind the room
// operations.
type Service struct {
	store   *store.Store
	reg     *registry.Registry
	avatars *blob.Store
	metrics *metrics.Counters
	now     func() time.Time
}

// New builds a rooms Service.
func New(st *store.Store, reg *registry.Registry, avatars *blob.Store) *Service {
	return &Service{store: st, reg: reg, avatars: avatars, now: time.Now}
}

// WithMetrics attaches the process-wide counters so chat/push fan-out is
// reflected in the admin surface's /metrics route. Returns s for chaining.
func (s *Service) WithMetrics(m *metrics.Counters) *Service {
	s.metrics = m
	return s
}

func (s *Service) recordMessageRouted() {
	if s.metrics != nil {
		s.metrics.RecordMessageRouted()
	}
}

// GroupView is the shape returned for a single created/joined group.
type GroupView struct {
	ID        int64
	Name      string
	OwnerID   int64
	IsPrivate bool
}

// CreateGroup creates a new room owned by callerID. Fails with Conflict
// ("already_in_group", current_group_id) if the caller already belongs to
// a room (spec.md §4.H).
func (s *Service) CreateGroup(callerID int64, name string, isPrivate bool, password string) (*GroupView, error) {
	var pw sql.NullString
	if password != "" {
		pw = sql.NullString{String: password, Valid: true}
	}
	g, currentGroupID, err := s.store.CreateGroup(name, callerID, isPrivate, pw)
	if errors.Is(err, store.ErrAlreadyInGroup) {
		return nil, apierr.New(apierr.Conflict, "already_in_group").WithExtra("current_group_id", currentGroupID)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "create_group_failed", err)
	}
	return &GroupView{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID, IsPrivate: g.IsPrivate}, nil
}

// JoinGroup adds callerID to groupID, enforcing every invariant in spec.md
// §4.H: single-room, password gate, sprint-active gate, and the 10-member
// cap. The already-in-a-different-group check runs before the sprint and
// password gates, so a caller blocked by those never loses the
// already_in_group + current_group_id hint to a gate meant for new joiners.
func (s *Service) JoinGroup(callerID, groupID int64, password string) error {
	g, err := s.store.GetGroup(groupID)
	if errors.Is(err, store.ErrNotFound) {
		return apierr.New(apierr.NotFound, "group_not_found")
	}
	if err != nil {
		return apierr.Wrap(apierr.Transient, "join_group_failed", err)
	}

	current, merr := s.store.MemberGroupID(callerID)
	alreadyMember := merr == nil && current == groupID
	alreadyInOtherGroup := merr == nil && current != 0 && current != groupID
	if alreadyInOtherGroup {
		return apierr.New(apierr.Conflict, "already_in_group").WithExtra("current_group_id", current)
	}

	if g.SprintActive && !alreadyMember {
		return apierr.New(apierr.Conflict, "sprint_active")
	}

	if g.Password.Valid && g.Password.String != "" && !alreadyMember {
		if password != g.Password.String {
			return apierr.New(apierr.Conflict, "incorrect_password").WithExtra("need_password", true)
		}
	}

	currentGroupID, err := s.store.JoinGroup(groupID, callerID)
	switch {
	case errors.Is(err, store.ErrAlreadyInGroup):
		return apierr.New(apierr.Conflict, "already_in_group").WithExtra("current_group_id", currentGroupID)
	case errors.Is(err, store.ErrGroupFull):
		return apierr.New(apierr.Conflict, "group_full")
	case err != nil:
		return apierr.Wrap(apierr.Transient, "join_group_failed", err)
	}
	return nil
}

// LeaveGroup removes callerID's membership. If callerID is the room's
// owner, the room is disbanded: every former member is notified and the
// lobby is implicitly refreshed by the group's removal from future
// get_public_groups calls (spec.md §4.H).
func (s *Service) LeaveGroup(callerID, groupID int64) error {
	g, err := s.store.GetGroup(groupID)
	if errors.Is(err, store.ErrNotFound) {
		return apierr.New(apierr.NotFound, "group_not_found")
	}
	if err != nil {
		return apierr.Wrap(apierr.Transient, "leave_group_failed", err)
	}

	if g.OwnerID == callerID {
		memberIDs, merr := s.store.GroupMemberIDs(groupID)
		if merr != nil {
			return apierr.Wrap(apierr.Transient, "leave_group_failed", merr)
		}
		if err := s.store.DeleteGroup(groupID); err != nil {
			return apierr.Wrap(apierr.Transient, "leave_group_failed", err)
		}
		push := map[string]any{"type": "group_disbanded", "group_id": groupID}
		s.reg.SendToMany(memberIDs, push)
		return nil
	}

	if err := s.store.LeaveGroup(callerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierr.New(apierr.NotFound, "not_a_member")
		}
		return apierr.Wrap(apierr.Transient, "leave_group_failed", err)
	}
	if err := s.store.DeleteSprintScore(groupID, callerID); err != nil {
		return apierr.Wrap(apierr.Transient, "leave_group_failed", err)
	}
	return nil
}

// LobbyRoom is one row of the get_public_groups listing.
type LobbyRoom struct {
	ID            int64
	Name          string
	OwnerNickname string
	MemberCount   int
	HasPassword   bool
	SprintActive  bool
	IsPrivate     bool
}

// GetPublicGroups returns public rooms plus private rooms owned by a
// friend of callerID, sorted by updated_at descending, capped at 50
// (spec.md §4.H).
func (s *Service) GetPublicGroups(callerID int64) ([]LobbyRoom, error) {
	groups, err := s.store.PublicGroups(lobbyCap)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "get_public_groups_failed", err)
	}

	friendIDs, err := s.store.FriendsOf(callerID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "get_public_groups_failed", err)
	}

	privateOwnedByFriends, err := s.store.PrivateGroupsOwnedBy(friendIDs)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "get_public_groups_failed", err)
	}
	groups = append(groups, privateOwnedByFriends...)
	sort.Slice(groups, func(i, j int) bool { return groups[i].UpdatedAt > groups[j].UpdatedAt })

	out := make([]LobbyRoom, 0, len(groups))
	for _, g := range groups {
		owner, err := s.store.GetUserByID(g.OwnerID)
		if err != nil {
			continue
		}
		count, err := s.store.GroupMemberCount(g.ID)
		if err != nil {
			return nil, apierr.Wrap(apierr.Transient, "get_public_groups_failed", err)
		}
		out = append(out, LobbyRoom{
			ID:            g.ID,
			Name:          g.Name,
			OwnerNickname: owner.Nickname,
			MemberCount:   count,
			HasPassword:   g.Password.Valid && g.Password.String != "",
			SprintActive:  g.SprintActive,
			IsPrivate:     g.IsPrivate,
		})
	}
	if len(out) > lobbyCap {
		out = out[:lobbyCap]
	}
	return out, nil
}
