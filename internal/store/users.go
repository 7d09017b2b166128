package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a unique constraint would be violated.
var ErrConflict = errors.New("store: conflict")

// User mirrors the users table (spec.md §3).
type User struct {
	ID              int64
	Username        string
	PasswordHash    string
	PasswordKDFHash sql.NullString
	Nickname        string
	Email           sql.NullString
	AvatarFilename  sql.NullString
	Signature       string
	IsAdmin         bool
	CreatedAt       int64
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var isAdmin int
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.PasswordKDFHash,
		&u.Nickname, &u.Email, &u.AvatarFilename, &u.Signature, &isAdmin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.IsAdmin = isAdmin != 0
	return &u, nil
}

const userColumns = `id, username, password_hash, password_kdf_hash, nickname, email, avatar_filename, signature, is_admin, created_at`

// CreateUser inserts a new user with a verbatim (legacy) password hash and
// no KDF hash set; the KDF hash is populated lazily on first successful
// login (SPEC_FULL.md §4.F credential migration).
func (s *Store) CreateUser(username, passwordHash, nickname string) (*User, error) {
	res, err := s.db.Exec(
		`INSERT INTO users(username, password_hash, nickname) VALUES(?, ?, ?)`,
		username, passwordHash, nickname,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetUserByID(id)
}

// GetUserByID fetches a user by primary key.
func (s *Store) GetUserByID(id int64) (*User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByUsername fetches a user by unique username.
func (s *Store) GetUserByUsername(username string) (*User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// SetPasswordKDFHash records the bcrypt-derived hash computed after a
// successful verbatim-hash login, completing that user's migration.
func (s *Store) SetPasswordKDFHash(userID int64, kdfHash string) error {
	res, err := s.db.Exec(`UPDATE users SET password_kdf_hash = ? WHERE id = ?`, kdfHash, userID)
	if err != nil {
		return fmt.Errorf("update password_kdf_hash: %w", err)
	}
	return requireRowsAffected(res)
}

// ResetPassword overwrites the legacy password hash and clears any KDF
// hash, forcing re-migration on the next login (SPEC_FULL.md §4.F).
func (s *Store) ResetPassword(userID int64, newPasswordHash string) error {
	res, err := s.db.Exec(
		`UPDATE users SET password_hash = ?, password_kdf_hash = NULL WHERE id = ?`,
		newPasswordHash, userID,
	)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	return requireRowsAffected(res)
}

// SetEmail overwrites a user's email address. Pass an empty string to
// clear it (stored as NULL).
func (s *Store) SetEmail(userID int64, email string) error {
	var arg sql.NullString
	if email != "" {
		arg = sql.NullString{String: email, Valid: true}
	}
	res, err := s.db.Exec(`UPDATE users SET email = ? WHERE id = ?`, arg, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("set email: %w", err)
	}
	return requireRowsAffected(res)
}

// UpdateProfile updates the mutable profile fields supplied (empty string
// means "leave unchanged" for nickname/signature; avatarFilename is applied
// only when non-empty).
func (s *Store) UpdateProfile(userID int64, nickname, signature, avatarFilename string) error {
	q := `UPDATE users SET
		nickname = CASE WHEN ? <> '' THEN ? ELSE nickname END,
		signature = CASE WHEN ? <> '' THEN ? ELSE signature END,
		avatar_filename = CASE WHEN ? <> '' THEN ? ELSE avatar_filename END
		WHERE id = ?`
	res, err := s.db.Exec(q, nickname, nickname, signature, signature, avatarFilename, avatarFilename, userID)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return requireRowsAffected(res)
}

// SearchUsers returns users whose username matches exactly or whose
// nickname contains query, mirroring the reference server's numeric/string
// dual search (original_source/server/main.py: handle_search_user).
func (s *Store) SearchUsers(query string) ([]*User, error) {
	rows, err := s.db.Query(
		`SELECT `+userColumns+` FROM users WHERE username = ? OR nickname LIKE '%' || ? || '%' LIMIT 20`,
		query, query,
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ListUsers returns every user ordered by id, for the CLI "users list"
// subcommand.
func (s *Store) ListUsers() ([]*User, error) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// PromoteUser flips a user's is_admin flag on, for the CLI "users promote"
// subcommand. There is no wire-protocol path to this state.
func (s *Store) PromoteUser(userID int64) error {
	res, err := s.db.Exec(`UPDATE users SET is_admin = 1 WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("promote user: %w", err)
	}
	return requireRowsAffected(res)
}

// CountUsers returns the total number of registered users.
func (s *Store) CountUsers() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
