// Package auth implements registration, login, password reset, and profile
// update (spec.md §4.F), plus the bcrypt credential migration that
// SPEC_FULL.md layers on top of the reference server's verbatim
// credential comparison.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kramQAQ/inksprint/internal/apierr"
	"github.com/kramQAQ/inksprint/internal/blob"
	"github.com/kramQAQ/inksprint/internal/email"
	"github.com/kramQAQ/inksprint/internal/store"
	"github.com/kramQAQ/inksprint/internal/verification"
)

// Service wires together the store, the avatar blob store, the email
// sender, and the verification code cache behind the auth operations.
type Service struct {
	store   *store.Store
	avatars *blob.Store
	mailer  email.Sender
	codes   *verification.Store
}

// New builds an auth Service.
func New(st *store.Store, avatars *blob.Store, mailer email.Sender, codes *verification.Store) *Service {
	return &Service{store: st, avatars: avatars, mailer: mailer, codes: codes}
}

// RegisterResult is returned by Register on success.
type RegisterResult struct {
	UserID int64
}

// Register creates a new user. The password is stored exactly as received
// (the client pre-hashes with SHA-256; the server treats it as an opaque
// credential — spec.md §4.F).
func (s *Service) Register(username, passwordHash, emailAddr string) (*RegisterResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || passwordHash == "" {
		return nil, apierr.New(apierr.Protocol, "missing_required_field")
	}
	u, err := s.store.CreateUser(username, passwordHash, username)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apierr.New(apierr.Conflict, "username_taken")
		}
		return nil, apierr.Wrap(apierr.Transient, "register_failed", err)
	}
	if emailAddr = strings.TrimSpace(emailAddr); emailAddr != "" {
		if err := s.store.SetEmail(u.ID, emailAddr); err != nil {
			slog.Warn("auth: register email assignment failed", "user_id", u.ID, "err", err)
		}
	}
	return &RegisterResult{UserID: u.ID}, nil
}

// LoginResult carries everything the login_response payload needs.
type LoginResult struct {
	UserID         int64
	Nickname       string
	Email          string
	AvatarBlobB64  string
	TodayTotal     int64
	CurrentGroupID int64
	HasGroup       bool
}

// Login authenticates a user by comparing the stored credential against
// the supplied one. On the user's very first successful login with a
// verbatim-hash row, it transparently computes and persists a bcrypt
// hash (SPEC_FULL.md §4.F credential migration); subsequent logins
// compare against that bcrypt hash instead.
func (s *Service) Login(username, passwordHash string) (*LoginResult, error) {
	u, err := s.store.GetUserByUsername(username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierr.New(apierr.CredentialFailure, "user_not_found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "login_failed", err)
	}

	if u.PasswordKDFHash.Valid {
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordKDFHash.String), []byte(passwordHash)); err != nil {
			return nil, apierr.New(apierr.CredentialFailure, "bad_password")
		}
	} else {
		if subtle.ConstantTimeCompare([]byte(u.PasswordHash), []byte(passwordHash)) != 1 {
			return nil, apierr.New(apierr.CredentialFailure, "bad_password")
		}
		if hash, err := bcrypt.GenerateFromPassword([]byte(passwordHash), bcrypt.DefaultCost); err != nil {
			slog.Warn("auth: bcrypt migration hash generation failed", "user_id", u.ID, "err", err)
		} else if err := s.store.SetPasswordKDFHash(u.ID, string(hash)); err != nil {
			slog.Warn("auth: bcrypt migration persist failed", "user_id", u.ID, "err", err)
		}
	}

	var avatarB64 string
	if u.AvatarFilename.Valid && s.avatars.Exists(u.ID) {
		if data, err := s.avatars.Get(u.ID); err == nil {
			avatarB64 = data
		}
	}

	today := time.Now().Format("2006-01-02")
	reports, err := s.store.DailyReportsFor(u.ID, today, today)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "login_failed", err)
	}
	var todayTotal int64
	if len(reports) == 1 {
		todayTotal = reports[0].TotalWords
	}

	res := &LoginResult{
		UserID:        u.ID,
		Nickname:      u.Nickname,
		AvatarBlobB64: avatarB64,
		TodayTotal:    todayTotal,
	}
	if u.Email.Valid {
		res.Email = u.Email.String
	}
	if groupID, err := s.store.MemberGroupID(u.ID); err == nil {
		res.HasGroup = true
		res.CurrentGroupID = groupID
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apierr.Wrap(apierr.Transient, "login_failed", err)
	}
	return res, nil
}

// SendCode issues a verification code for username and emails it, if the
// user has an email on file (spec.md §4.F send_code).
func (s *Service) SendCode(username string) error {
	u, err := s.store.GetUserByUsername(username)
	if err != nil || !u.Email.Valid || u.Email.String == "" {
		return apierr.New(apierr.NotFound, "no_email_on_file")
	}
	code, err := s.codes.Issue(username)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "issue_code_failed", err)
	}
	if err := s.mailer.SendVerificationCode(u.Email.String, code); err != nil {
		return apierr.Wrap(apierr.SideEffectFailure, "send_failed", err)
	}
	return nil
}

// ResetPassword validates a verification code and, on success, rewrites
// the user's credential and clears any bcrypt migration hash so the new
// password re-migrates on next login (spec.md §4.F, SPEC_FULL.md §4.F).
func (s *Service) ResetPassword(username, code, newPasswordHash string) error {
	u, err := s.store.GetUserByUsername(username)
	if err != nil {
		return apierr.New(apierr.NotFound, "user_not_found")
	}
	if !s.codes.Verify(username, code) {
		return apierr.New(apierr.Conflict, "invalid_or_expired_code")
	}
	if err := s.store.ResetPassword(u.ID, newPasswordHash); err != nil {
		return apierr.Wrap(apierr.Transient, "reset_failed", err)
	}
	return nil
}

// UpdateProfile applies a partial profile update, decoding and storing a
// new avatar when avatarDataB64 is non-empty (spec.md §4.F update_profile).
// emailSet distinguishes "field omitted" from "field sent empty to clear
// it", matching the reference server's `new_email is not None` check.
func (s *Service) UpdateProfile(userID int64, nickname string, emailAddr string, emailSet bool, signature, avatarDataB64 string) error {
	if err := s.store.UpdateProfile(userID, nickname, signature, ""); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierr.New(apierr.NotFound, "user_not_found")
		}
		return apierr.Wrap(apierr.Transient, "update_failed", err)
	}
	if emailSet {
		if err := s.store.SetEmail(userID, strings.TrimSpace(emailAddr)); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apierr.New(apierr.Conflict, "email_taken")
			}
			return apierr.Wrap(apierr.Transient, "update_failed", err)
		}
	}
	if avatarDataB64 != "" {
		raw, err := base64.StdEncoding.DecodeString(avatarDataB64)
		if err != nil {
			return apierr.New(apierr.Protocol, "invalid_avatar_data")
		}
		filename, err := s.avatars.Put(userID, strings.NewReader(string(raw)))
		if err != nil {
			return apierr.Wrap(apierr.Transient, "avatar_store_failed", err)
		}
		if err := s.store.UpdateProfile(userID, "", "", filename); err != nil {
			return apierr.Wrap(apierr.Transient, "update_failed", err)
		}
	}
	return nil
}
