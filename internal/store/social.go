package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// FriendRequest mirrors the friend_requests table.
type FriendRequest struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	CreatedAt  int64
}

// Friendship mirrors the friendships table. Rows are always stored with
// LowID < HighID (spec.md §3: "canonical low_id < high_id pair").
type Friendship struct {
	ID        int64
	LowID     int64
	HighID    int64
	CreatedAt int64
}

func canonicalPair(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// CreateFriendRequest records a pending request from sender to receiver.
// Returns ErrConflict if an identical pending request already exists.
func (s *Store) CreateFriendRequest(senderID, receiverID int64) (*FriendRequest, error) {
	res, err := s.db.Exec(
		`INSERT INTO friend_requests(sender_id, receiver_id) VALUES(?, ?)`,
		senderID, receiverID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert friend request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(
		`SELECT id, sender_id, receiver_id, created_at FROM friend_requests WHERE id = ?`, id,
	)
	var fr FriendRequest
	if err := row.Scan(&fr.ID, &fr.SenderID, &fr.ReceiverID, &fr.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan friend request: %w", err)
	}
	return &fr, nil
}

// PendingFriendRequestsFor returns requests addressed to receiverID.
func (s *Store) PendingFriendRequestsFor(receiverID int64) ([]*FriendRequest, error) {
	rows, err := s.db.Query(
		`SELECT id, sender_id, receiver_id, created_at FROM friend_requests WHERE receiver_id = ? ORDER BY created_at`,
		receiverID,
	)
	if err != nil {
		return nil, fmt.Errorf("query friend requests: %w", err)
	}
	defer rows.Close()

	var out []*FriendRequest
	for rows.Next() {
		var fr FriendRequest
		if err := rows.Scan(&fr.ID, &fr.SenderID, &fr.ReceiverID, &fr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		out = append(out, &fr)
	}
	return out, rows.Err()
}

// DeleteFriendRequest removes a single pending request by id, returning
// ErrNotFound if it does not exist.
func (s *Store) DeleteFriendRequest(id int64) error {
	res, err := s.db.Exec(`DELETE FROM friend_requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete friend request: %w", err)
	}
	return requireRowsAffected(res)
}

// GetFriendRequest fetches a single request by id.
func (s *Store) GetFriendRequest(id int64) (*FriendRequest, error) {
	row := s.db.QueryRow(`SELECT id, sender_id, receiver_id, created_at FROM friend_requests WHERE id = ?`, id)
	var fr FriendRequest
	err := row.Scan(&fr.ID, &fr.SenderID, &fr.ReceiverID, &fr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan friend request: %w", err)
	}
	return &fr, nil
}

// CreateFriendship inserts the canonical (low, high) pair. Returns
// ErrConflict if the pair is already friends.
func (s *Store) CreateFriendship(userA, userB int64) error {
	low, high := canonicalPair(userA, userB)
	_, err := s.db.Exec(`INSERT INTO friendships(low_id, high_id) VALUES(?, ?)`, low, high)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert friendship: %w", err)
	}
	return nil
}

// DeleteFriendship removes the canonical pair, if present.
func (s *Store) DeleteFriendship(userA, userB int64) error {
	low, high := canonicalPair(userA, userB)
	res, err := s.db.Exec(`DELETE FROM friendships WHERE low_id = ? AND high_id = ?`, low, high)
	if err != nil {
		return fmt.Errorf("delete friendship: %w", err)
	}
	return requireRowsAffected(res)
}

// AreFriends reports whether userA and userB have an existing friendship.
func (s *Store) AreFriends(userA, userB int64) (bool, error) {
	low, high := canonicalPair(userA, userB)
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM friendships WHERE low_id = ? AND high_id = ?`, low, high).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query friendship: %w", err)
	}
	return true, nil
}

// FriendsOf returns the user IDs friended with userID, across both sides of
// the canonical pair.
func (s *Store) FriendsOf(userID int64) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT high_id FROM friendships WHERE low_id = ?
		 UNION ALL
		 SELECT low_id FROM friendships WHERE high_id = ?`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan friend id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
