// Package identity keeps a participant's stable id and display name on disk.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
)

var errMissingPath = errors.New("identity: path is required")

// Identity is the cached participant.
type Identity struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// Store reads and writes one identity file.
type Store struct {
	path  string
	newID func() (string, error)
}

func NewStore(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errMissingPath
	}
	return &Store{path: trimmed, newID: rooms.NewUUIDProvider().NewID}, nil
}

func (s *Store) Path() string {
	return s.path
}

// LoadOrCreate returns the cached identity, creating one with a fresh id when
// the file does not exist. A non-empty userName replaces the cached name.
func (s *Store) LoadOrCreate(userName string) (Identity, error) {
	current, err := s.load()
	created := errors.Is(err, fs.ErrNotExist)
	switch {
	case created:
		id, idErr := s.newID()
		if idErr != nil {
			return Identity{}, fmt.Errorf("identity: generate id: %w", idErr)
		}
		current = Identity{UserID: id, UserName: rooms.DefaultAuthorName}
	case err != nil:
		return Identity{}, err
	}

	changed := created
	if name := strings.TrimSpace(userName); name != "" && name != current.UserName {
		current.UserName = name
		changed = true
	}
	if !changed {
		return current, nil
	}
	if err := s.Save(current); err != nil {
		return Identity{}, err
	}
	return current, nil
}

func (s *Store) Save(identity Identity) error {
	if strings.TrimSpace(identity.UserID) == "" {
		return fmt.Errorf("identity: %w", rooms.ErrInvalidUserID)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("identity: create directory: %w", err)
	}
	encoded, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: encode: %w", err)
	}

	temporary := s.path + ".tmp"
	if err := os.WriteFile(temporary, append(encoded, '\n'), 0o600); err != nil {
		return fmt.Errorf("identity: write: %w", err)
	}
	if err := os.Rename(temporary, s.path); err != nil {
		return fmt.Errorf("identity: replace: %w", err)
	}
	return nil
}

func (s *Store) load() (Identity, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Identity{}, err
	}
	var identity Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return Identity{}, fmt.Errorf("identity: decode %s: %w", s.path, err)
	}
	if strings.TrimSpace(identity.UserID) == "" {
		return Identity{}, fmt.Errorf("identity: %s: %w", s.path, rooms.ErrInvalidUserID)
	}
	if strings.TrimSpace(identity.UserName) == "" {
		identity.UserName = rooms.DefaultAuthorName
	}
	return identity, nil
}

