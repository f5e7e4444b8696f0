package authtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/panyam/authgate"
)

// ErrUserNotFound is returned by UserStore lookups that find nothing
var ErrUserNotFound = errors.New("user not found")

// User is an account known to the fake server
type User struct {
	ID           string        `json:"user_id"`
	Email        string        `json:"email"`
	PasswordHash string        `json:"password_hash,omitempty"`
	Role         authgate.Role `json:"role"`
	CompanyID    string        `json:"company_id,omitempty"`
	BusinessName string        `json:"business_name,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Identity is the view of the user the contract exposes
func (u *User) Identity() *authgate.Identity {
	return &authgate.Identity{
		ID:             u.ID,
		Role:           u.Role,
		OrganizationID: u.CompanyID,
		Email:          u.Email,
	}
}

// UserStore persists accounts for the fake server
type UserStore interface {
	GetUserByID(id string) (*User, error)
	GetUserByEmail(email string) (*User, error)
	SaveUser(user *User) error
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemoryUserStore keeps users in memory
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryUserStore) GetUserByID(id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryUserStore) GetUserByEmail(email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryUserStore) SaveUser(user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[user.ID] = user
	s.byEmail[normalizeEmail(user.Email)] = user.ID
	return nil
}

// FSUserStore stores users as JSON files so devserver accounts survive restarts
type FSUserStore struct {
	StoragePath string
	mu          sync.Mutex
}

func NewFSUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath}
}

func (s *FSUserStore) getUserPath(id string) string {
	return filepath.Join(s.StoragePath, "users", id+".json")
}

func (s *FSUserStore) GetUserByID(id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readUser(s.getUserPath(id))
}

func (s *FSUserStore) readUser(path string) (*User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user file %s: %w", path, err)
	}
	return &user, nil
}

func (s *FSUserStore) GetUserByEmail(email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(s.StoragePath, "users", "*.json"))
	if err != nil {
		return nil, err
	}
	want := normalizeEmail(email)
	for _, p := range paths {
		u, err := s.readUser(p)
		if err != nil {
			return nil, err
		}
		if normalizeEmail(u.Email) == want {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *FSUserStore) SaveUser(user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.getUserPath(user.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create users directory: %w", err)
	}
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

// writeAtomicFile writes data to a file atomically by writing to a temp file first
func writeAtomicFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
