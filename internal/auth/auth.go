// Package auth handles account registration, login, and access tokens.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/daybook-hq/daybook/internal/clock"
	apperrors "github.com/daybook-hq/daybook/internal/errors"
	"github.com/daybook-hq/daybook/internal/store"
)

const minPasswordLen = 8

// Claims carried inside access tokens.
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Service issues and verifies HS256 access tokens backed by the user table.
type Service struct {
	store  *store.Store
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
	logger zerolog.Logger
}

// NewService creates an auth service. secret signs tokens; ttl bounds their lifetime.
func NewService(st *store.Store, secret string, ttl time.Duration, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clk,
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

// Register creates an account and returns it with a fresh access token.
func (s *Service) Register(email, password, displayName string) (*store.User, string, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", apperrors.NewValidationError("email", "must be a valid email address")
	}
	if len(password) < minPasswordLen {
		return nil, "", apperrors.NewValidationError("password", fmt.Sprintf("must be at least %d characters", minPasswordLen))
	}

	existing, err := s.store.GetUserByEmail(email)
	if err != nil {
		return nil, "", fmt.Errorf("register: %w", err)
	}
	if existing != nil {
		return nil, "", fmt.Errorf("email already registered: %w", apperrors.ErrConflict)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("register: hash password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(displayName),
	}
	if err := s.store.CreateUser(user); err != nil {
		// Unique constraint race between the existence check and the insert.
		if strings.Contains(err.Error(), "already registered") {
			return nil, "", fmt.Errorf("email already registered: %w", apperrors.ErrConflict)
		}
		return nil, "", fmt.Errorf("register: %w", err)
	}

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info().Str("user_id", user.ID).Msg("user registered")
	return user, token, nil
}

// Login verifies credentials and returns the user with a fresh access token.
// Unknown email and wrong password fail identically.
func (s *Service) Login(email, password string) (*store.User, string, error) {
	user, err := s.store.GetUserByEmail(normalizeEmail(email))
	if err != nil {
		return nil, "", fmt.Errorf("login: %w", err)
	}
	if user == nil {
		return nil, "", apperrors.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", apperrors.ErrUnauthorized
	}

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// IssueToken mints a signed access token for the given user id.
func (s *Service) IssueToken(userID string) (string, error) {
	now := s.clock.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.New().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a token and returns the user id it was issued for.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return "", apperrors.ErrUnauthorized
	}
	if claims.UserID == "" {
		return "", apperrors.ErrUnauthorized
	}
	return claims.UserID, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
