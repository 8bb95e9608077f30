package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// User represents an account in the database
type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	CreatedAt    int64 // unix ms
	UpdatedAt    int64 // unix ms
}

// CreateUser inserts a new user. Fails if the email is already registered.
func (s *Store) CreateUser(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if u.CreatedAt == 0 {
		u.CreatedAt = now
	}
	if u.UpdatedAt == 0 {
		u.UpdatedAt = now
	}

	query := `
	INSERT INTO users (id, email, password_hash, display_name, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query, u.ID, u.Email, u.PasswordHash, u.DisplayName, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("email already registered: %w", err)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanUser(`SELECT id, email, password_hash, display_name, created_at, updated_at FROM users WHERE id = ?`, id)
}

// GetUserByEmail retrieves a user by email address
func (s *Store) GetUserByEmail(email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanUser(`SELECT id, email, password_hash, display_name, created_at, updated_at FROM users WHERE email = ?`, email)
}

func (s *Store) scanUser(query string, arg interface{}) (*User, error) {
	u := &User{}
	err := s.db.QueryRow(query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}
