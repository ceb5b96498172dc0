package realtime

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// User is one dashboard credential as stored in users.json.
type User struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserStore holds the dashboard credential list. It is read once at startup.
type UserStore struct {
	mu    sync.RWMutex
	path  string
	users []User
}

// LoadUsers reads the credential list at path. A missing or empty list is
// seeded with the given default user and written back.
func LoadUsers(path, defaultUser, defaultPassword string) (*UserStore, error) {
	s := &UserStore{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(strings.TrimSpace(string(data))) > 0 {
			if err := json.Unmarshal(data, &s.users); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if len(s.users) == 0 {
		s.users = []User{{Username: defaultUser, Password: defaultPassword}}
		if err := s.save(); err != nil {
			return nil, err
		}
		zap.S().Warnf("[auth] %s seeded with default user %q, change its password", path, defaultUser)
	}

	zap.S().Infof("[auth] %d dashboard users loaded", len(s.users))
	return s, nil
}

func (s *UserStore) save() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	return nil
}

// Verify reports whether the pair matches a stored user.
func (s *UserStore) Verify(username, password string) bool {
	if username == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username && checkPassword(u.Password, password) {
			return true
		}
	}
	return false
}

// Len returns the number of users.
func (s *UserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// checkPassword accepts bcrypt hashes ($2a$, $2b$, $2y$) and plain text.
func checkPassword(stored, given string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

// HashPassword returns a bcrypt hash suitable for users.json.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
