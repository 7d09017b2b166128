package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// SprintScore mirrors the sprint_scores table.
type SprintScore struct {
	GroupID      int64
	UserID       int64
	CurrentScore int64
}

// AddSprintScore adds delta words to (groupID, userID)'s running sprint
// total, creating the row on first write.
func (s *Store) AddSprintScore(groupID, userID, delta int64) error {
	_, err := s.db.Exec(
		`INSERT INTO sprint_scores(group_id, user_id, current_score) VALUES(?, ?, ?)
		 ON CONFLICT(group_id, user_id) DO UPDATE SET current_score = current_score + excluded.current_score`,
		groupID, userID, delta,
	)
	if err != nil {
		return fmt.Errorf("upsert sprint score: %w", err)
	}
	return nil
}

// DeleteSprintScore removes a single user's score row from a group, used
// when they leave the room (spec.md §3: SprintScore is "deleted when the
// user leaves the room").
func (s *Store) DeleteSprintScore(groupID, userID int64) error {
	_, err := s.db.Exec(`DELETE FROM sprint_scores WHERE group_id = ? AND user_id = ?`, groupID, userID)
	if err != nil {
		return fmt.Errorf("delete sprint score: %w", err)
	}
	return nil
}

// ResetSprintScores deletes every score row for groupID, so scores restart
// from zero; used when a new sprint starts.
func (s *Store) ResetSprintScores(groupID int64) error {
	_, err := s.db.Exec(`DELETE FROM sprint_scores WHERE group_id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("reset sprint scores: %w", err)
	}
	return nil
}

// SprintLeaderboard returns scores for groupID ordered by current_score
// descending, ties broken by user_id ascending (SPEC_FULL.md §4.I tightens
// the reference server's unordered dict iteration into this deterministic
// rule).
func (s *Store) SprintLeaderboard(groupID int64) ([]*SprintScore, error) {
	rows, err := s.db.Query(
		`SELECT group_id, user_id, current_score FROM sprint_scores
		 WHERE group_id = ? ORDER BY current_score DESC, user_id ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []*SprintScore
	for rows.Next() {
		var sc SprintScore
		if err := rows.Scan(&sc.GroupID, &sc.UserID, &sc.CurrentScore); err != nil {
			return nil, fmt.Errorf("scan sprint score: %w", err)
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

// DailyReport mirrors the daily_reports table.
type DailyReport struct {
	UserID     int64
	ReportDate string
	TotalWords int64
}

// AddDailyWords increments userID's word count for reportDate (YYYY-MM-DD),
// creating the row on first write for that date.
func (s *Store) AddDailyWords(userID int64, reportDate string, delta int64) error {
	_, err := s.db.Exec(
		`INSERT INTO daily_reports(user_id, report_date, total_words) VALUES(?, ?, ?)
		 ON CONFLICT(user_id, report_date) DO UPDATE SET total_words = total_words + excluded.total_words`,
		userID, reportDate, delta,
	)
	if err != nil {
		return fmt.Errorf("upsert daily report: %w", err)
	}
	return nil
}

// DailyReportsFor returns a user's reports across the given date range,
// inclusive, ascending by date — the source data for get_analytics
// (spec.md §4.H).
func (s *Store) DailyReportsFor(userID int64, fromDate, toDate string) ([]*DailyReport, error) {
	rows, err := s.db.Query(
		`SELECT user_id, report_date, total_words FROM daily_reports
		 WHERE user_id = ? AND report_date BETWEEN ? AND ? ORDER BY report_date`,
		userID, fromDate, toDate,
	)
	if err != nil {
		return nil, fmt.Errorf("query daily reports: %w", err)
	}
	defer rows.Close()

	var out []*DailyReport
	for rows.Next() {
		var r DailyReport
		if err := rows.Scan(&r.UserID, &r.ReportDate, &r.TotalWords); err != nil {
			return nil, fmt.Errorf("scan daily report: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// TotalWordsFor sums all of userID's recorded words across every date.
func (s *Store) TotalWordsFor(userID int64) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(total_words) FROM daily_reports WHERE user_id = ?`, userID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sum total words: %w", err)
	}
	return total.Int64, nil
}

// DetailRecord mirrors the detail_records table: an append-only log of
// individual writing sessions (spec.md §3).
type DetailRecord struct {
	ID              int64
	UserID          int64
	WordIncrement   int64
	DurationSeconds int64
	SourceType      string
	EndTime         int64
}

// AppendDetailRecord inserts one append-only writing-session record.
func (s *Store) AppendDetailRecord(userID, wordIncrement, durationSeconds int64, sourceType string, endTime int64) error {
	_, err := s.db.Exec(
		`INSERT INTO detail_records(user_id, word_increment, duration_seconds, source_type, end_time) VALUES(?, ?, ?, ?, ?)`,
		userID, wordIncrement, durationSeconds, sourceType, endTime,
	)
	if err != nil {
		return fmt.Errorf("insert detail record: %w", err)
	}
	return nil
}

// RecentDetailRecords returns up to limit of userID's most recent writing
// sessions, newest first (spec.md §4.H get_details).
func (s *Store) RecentDetailRecords(userID int64, limit int) ([]*DetailRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, word_increment, duration_seconds, source_type, end_time
		 FROM detail_records WHERE user_id = ? ORDER BY end_time DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query detail records: %w", err)
	}
	defer rows.Close()

	var out []*DetailRecord
	for rows.Next() {
		var r DetailRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.WordIncrement, &r.DurationSeconds, &r.SourceType, &r.EndTime); err != nil {
			return nil, fmt.Errorf("scan detail record: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
