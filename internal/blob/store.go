// Package blob stores user avatar images on disk. Unlike the teacher's
// UUID-keyed blob store, avatars are keyed by user id — there is exactly
// one current avatar per user, so SPEC_FULL.md's Component M names it by
// owner rather than by content-addressed identity.
package blob

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const maxAvatarBytes = 2 << 20 // 2 MiB

// Store writes and reads avatar files rooted at a single directory.
type Store struct {
	rootDir string
}

// NewStore creates (if needed) rootDir and returns a Store rooted there.
func NewStore(rootDir string) (*Store, error) {
	rootDir = strings.TrimSpace(rootDir)
	if rootDir == "" {
		return nil, fmt.Errorf("avatar root directory is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create avatar directory: %w", err)
	}
	return &Store{rootDir: rootDir}, nil
}

func (s *Store) filename(userID int64) string {
	return fmt.Sprintf("user_%d.png", userID)
}

func (s *Store) path(userID int64) string {
	return filepath.Join(s.rootDir, s.filename(userID))
}

// Put writes userID's avatar atomically: the new image is staged in a temp
// file in the same directory, then renamed over the final path so a reader
// never observes a partially-written avatar.
func (s *Store) Put(userID int64, r io.Reader) (filename string, err error) {
	tempFile, err := os.CreateTemp(s.rootDir, ".avatar-write-*")
	if err != nil {
		return "", fmt.Errorf("create temp avatar file: %w", err)
	}
	tempPath := tempFile.Name()

	n, copyErr := io.Copy(tempFile, io.LimitReader(r, maxAvatarBytes+1))
	closeErr := tempFile.Close()
	if copyErr != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("write avatar bytes: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("close avatar file: %w", closeErr)
	}
	if n > maxAvatarBytes {
		os.Remove(tempPath)
		return "", fmt.Errorf("avatar exceeds %d bytes", maxAvatarBytes)
	}

	finalPath := s.path(userID)
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("move avatar into place: %w", err)
	}

	slog.Debug("blob: avatar stored", "user_id", userID, "size", n)
	return s.filename(userID), nil
}

// Get reads userID's avatar and returns it base64-encoded, ready to embed
// directly in a JSON response (spec.md §4.M: avatars are echoed
// base64-inline, never served as a separate download).
func (s *Store) Get(userID int64) (base64Data string, err error) {
	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		return "", fmt.Errorf("read avatar: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Exists reports whether userID has a stored avatar.
func (s *Store) Exists(userID int64) bool {
	_, err := os.Stat(s.path(userID))
	return err == nil
}
