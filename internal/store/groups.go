package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// maxGroupMembers caps a single group's membership (spec.md §4.I "group_full
// at 10 members").
const maxGroupMembers = 10

// Group mirrors the groups table.
type Group struct {
	ID                int64
	Name              string
	OwnerID           int64
	IsPrivate         bool
	Password          sql.NullString
	SprintActive      bool
	SprintStartTime   sql.NullInt64
	SprintTargetWords int64
	CreatedAt         int64
	UpdatedAt         int64
}

const groupColumns = `id, name, owner_id, is_private, password, sprint_active, sprint_start_time, sprint_target_words, created_at, updated_at`

func scanGroup(row interface{ Scan(...any) error }) (*Group, error) {
	var g Group
	var isPrivate, sprintActive int
	err := row.Scan(&g.ID, &g.Name, &g.OwnerID, &isPrivate, &g.Password,
		&sprintActive, &g.SprintStartTime, &g.SprintTargetWords, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}
	g.IsPrivate = isPrivate != 0
	g.SprintActive = sprintActive != 0
	return &g, nil
}

// CreateGroup creates a new group owned by ownerID and seeds the owner as
// its first member. Fails with ErrAlreadyInGroup (currentGroupID set) if
// the owner already belongs to a room (spec.md §4.H).
func (s *Store) CreateGroup(name string, ownerID int64, isPrivate bool, password sql.NullString) (group *Group, currentGroupID int64, err error) {
	var id int64
	err = s.WithTx(func(tx *sql.Tx) error {
		var existingGroup int64
		qerr := tx.QueryRow(`SELECT group_id FROM group_members WHERE user_id = ?`, ownerID).Scan(&existingGroup)
		if qerr == nil {
			currentGroupID = existingGroup
			return ErrAlreadyInGroup
		}
		if !errors.Is(qerr, sql.ErrNoRows) {
			return fmt.Errorf("query existing membership: %w", qerr)
		}

		res, err := tx.Exec(
			`INSERT INTO groups(name, owner_id, is_private, password) VALUES(?, ?, ?, ?)`,
			name, ownerID, boolToInt(isPrivate), password,
		)
		if err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO group_members(group_id, user_id) VALUES(?, ?)`, id, ownerID); err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, currentGroupID, err
	}
	group, err = s.GetGroup(id)
	return group, 0, err
}

// GetGroup fetches a group by id.
func (s *Store) GetGroup(id int64) (*Group, error) {
	row := s.db.QueryRow(`SELECT `+groupColumns+` FROM groups WHERE id = ?`, id)
	return scanGroup(row)
}

// PublicGroups returns non-private groups for the lobby listing (spec.md
// §4.I get_public_groups), capped to the lobby size.
func (s *Store) PublicGroups(limit int) ([]*Group, error) {
	rows, err := s.db.Query(`SELECT `+groupColumns+` FROM groups WHERE is_private = 0 ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query public groups: %w", err)
	}
	defer rows.Close()

	var out []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// PrivateGroupsOwnedBy returns private groups owned by any of ownerIDs, used
// to surface a friend's private room in the lobby (spec.md §4.H).
func (s *Store) PrivateGroupsOwnedBy(ownerIDs []int64) ([]*Group, error) {
	if len(ownerIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(ownerIDs)*2)
	args := make([]any, 0, len(ownerIDs))
	for i, id := range ownerIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	query := `SELECT ` + groupColumns + ` FROM groups WHERE is_private = 1 AND owner_id IN (` + string(placeholders) + `) ORDER BY updated_at DESC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query private groups owned by: %w", err)
	}
	defer rows.Close()

	var out []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListGroups returns every group regardless of visibility, for the CLI
// "rooms list" subcommand.
func (s *Store) ListGroups() ([]*Group, error) {
	rows, err := s.db.Query(`SELECT ` + groupColumns + ` FROM groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// CountGroups returns the total number of rooms, active or not.
func (s *Store) CountGroups() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM groups`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}
	return n, nil
}

// CountActiveSprintGroups returns the number of rooms with an active
// sprint, used by the admin surface's /metrics endpoint.
func (s *Store) CountActiveSprintGroups() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM groups WHERE sprint_active = 1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active sprint groups: %w", err)
	}
	return n, nil
}

// DeleteGroup removes a group and its dependent rows (members, messages,
// scores), used when the owner disbands it (spec.md §4.I leave_group).
func (s *Store) DeleteGroup(id int64) error {
	return s.WithTx(func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM sprint_scores WHERE group_id = ?`,
			`DELETE FROM group_messages WHERE group_id = ?`,
			`DELETE FROM group_members WHERE group_id = ?`,
			`DELETE FROM groups WHERE id = ?`,
		} {
			if _, err := tx.Exec(q, id); err != nil {
				return fmt.Errorf("delete group cascade: %w", err)
			}
		}
		return nil
	})
}

// SetSprintState writes the active sprint flag, start time and target
// words exactly as given and touches updated_at; it does not itself clear
// the start time or target when active is false.
func (s *Store) SetSprintState(groupID int64, active bool, startTime int64, targetWords int64) error {
	res, err := s.db.Exec(
		`UPDATE groups SET sprint_active = ?, sprint_start_time = ?, sprint_target_words = ?, updated_at = unixepoch() WHERE id = ?`,
		boolToInt(active), startTime, targetWords, groupID,
	)
	if err != nil {
		return fmt.Errorf("update sprint state: %w", err)
	}
	return requireRowsAffected(res)
}

// GroupMemberCount returns the number of members currently in groupID.
func (s *Store) GroupMemberCount(groupID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM group_members WHERE group_id = ?`, groupID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count group members: %w", err)
	}
	return n, nil
}

// MemberGroupID returns the group a user currently belongs to, or
// ErrNotFound if the user is in no group (spec.md's single-room invariant:
// at most one group_members row per user).
func (s *Store) MemberGroupID(userID int64) (int64, error) {
	var groupID int64
	err := s.db.QueryRow(`SELECT group_id FROM group_members WHERE user_id = ?`, userID).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query member group: %w", err)
	}
	return groupID, nil
}

// ErrAlreadyInGroup is returned by JoinGroup/CreateGroup when the caller is
// already a member of a different group (spec.md's single-room invariant).
var ErrAlreadyInGroup = errors.New("store: already in a group")

// ErrGroupFull is returned by JoinGroup when the target group already has
// maxGroupMembers members.
var ErrGroupFull = errors.New("store: group is full")

// JoinGroup adds userID to groupID, enforcing the single-room invariant and
// the 10-member cap (spec.md §4.I). Returns ErrAlreadyInGroup (with
// currentGroupID set to the other group) or ErrGroupFull, and is
// idempotent if the user is already a member of groupID
// (original_source/server/main.py: handle_join_group).
func (s *Store) JoinGroup(groupID, userID int64) (currentGroupID int64, err error) {
	err = s.WithTx(func(tx *sql.Tx) error {
		var existingGroup int64
		qerr := tx.QueryRow(`SELECT group_id FROM group_members WHERE user_id = ?`, userID).Scan(&existingGroup)
		switch {
		case errors.Is(qerr, sql.ErrNoRows):
			// not in any group yet, fall through to insert
		case qerr != nil:
			return fmt.Errorf("query existing membership: %w", qerr)
		case existingGroup == groupID:
			return nil // already a member, idempotent
		default:
			currentGroupID = existingGroup
			return ErrAlreadyInGroup
		}

		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM group_members WHERE group_id = ?`, groupID).Scan(&count); err != nil {
			return fmt.Errorf("count members: %w", err)
		}
		if count >= maxGroupMembers {
			return ErrGroupFull
		}
		if _, err := tx.Exec(`INSERT INTO group_members(group_id, user_id) VALUES(?, ?)`, groupID, userID); err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		return nil
	})
	return currentGroupID, err
}

// LeaveGroup removes userID's membership row. The caller (internal/rooms)
// decides separately whether the group must now be disbanded (owner leaving).
func (s *Store) LeaveGroup(userID int64) error {
	res, err := s.db.Exec(`DELETE FROM group_members WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return requireRowsAffected(res)
}

// GroupMemberIDs returns the member user ids of groupID.
func (s *Store) GroupMemberIDs(groupID int64) ([]int64, error) {
	rows, err := s.db.Query(`SELECT user_id FROM group_members WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query member ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
