package store

import (
	"database/sql"
	"fmt"
)

// GroupMessage mirrors the group_messages table. Nickname is a snapshot of
// the sender's nickname at send time so history reads do not change
// retroactively when a user later renames (matches
// original_source/server/database.py: GroupMessage.user_nickname).
// SenderID is null for SYSTEM messages (sprint start/stop notices).
type GroupMessage struct {
	ID        int64
	GroupID   int64
	SenderID  sql.NullInt64
	Nickname  string
	Content   string
	Timestamp int64
}

func scanGroupMessage(row interface{ Scan(...any) error }) (*GroupMessage, error) {
	var m GroupMessage
	if err := row.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.Nickname, &m.Content, &m.Timestamp); err != nil {
		return nil, fmt.Errorf("scan group message: %w", err)
	}
	return &m, nil
}

const groupMessageColumns = `id, group_id, sender_id, sender_nickname_snap, content, timestamp`

// AppendGroupMessage records a chat message in groupID sent by senderID.
func (s *Store) AppendGroupMessage(groupID, senderID int64, nickname, content string) (*GroupMessage, error) {
	res, err := s.db.Exec(
		`INSERT INTO group_messages(group_id, sender_id, sender_nickname_snap, content) VALUES(?, ?, ?, ?)`,
		groupID, senderID, nickname, content,
	)
	if err != nil {
		return nil, fmt.Errorf("insert group message: %w", err)
	}
	return s.getGroupMessage(res)
}

// AppendSystemMessage records a SYSTEM message (sender_id NULL), used for
// sprint start/stop notices (spec.md §4.I).
func (s *Store) AppendSystemMessage(groupID int64, content string) (*GroupMessage, error) {
	res, err := s.db.Exec(
		`INSERT INTO group_messages(group_id, sender_id, sender_nickname_snap, content) VALUES(?, NULL, 'SYSTEM', ?)`,
		groupID, content,
	)
	if err != nil {
		return nil, fmt.Errorf("insert system message: %w", err)
	}
	return s.getGroupMessage(res)
}

func (s *Store) getGroupMessage(res sql.Result) (*GroupMessage, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+groupMessageColumns+` FROM group_messages WHERE id = ?`, id)
	return scanGroupMessage(row)
}

// GroupMessagesSince returns groupID's messages with timestamp >= sinceUnix,
// ascending — the 48-hour chat history window for get_group_detail
// (spec.md §4.I).
func (s *Store) GroupMessagesSince(groupID, sinceUnix int64) ([]*GroupMessage, error) {
	rows, err := s.db.Query(
		`SELECT `+groupMessageColumns+` FROM group_messages WHERE group_id = ? AND timestamp >= ? ORDER BY timestamp ASC`,
		groupID, sinceUnix,
	)
	if err != nil {
		return nil, fmt.Errorf("query group messages since: %w", err)
	}
	defer rows.Close()

	var out []*GroupMessage
	for rows.Next() {
		m, err := scanGroupMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
