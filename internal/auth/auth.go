package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lox/wellwatch/internal/models"
	"github.com/lox/wellwatch/internal/store"
)

const DefaultSessionTTL = 7 * 24 * time.Hour

var ErrInvalidCredentials = errors.New("invalid credentials")

type Config struct {
	SessionTTL time.Duration
	BcryptCost int
}

// Service handles registration, password login and cookie sessions.
type Service struct {
	store *store.Store
	ttl   time.Duration
	cost  int
	now   func() time.Time
}

func NewService(st *store.Store, cfg Config) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		store: st,
		ttl:   cfg.SessionTTL,
		cost:  cfg.BcryptCost,
		now:   time.Now,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(email, password, role string) (*models.User, error) {
	email = NormalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	id, err := s.store.CreateUser(email, string(hash), role)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &models.User{ID: id, Email: email, PasswordHash: string(hash), Role: role}, nil
}

// Login checks the password and opens a new session.
func (s *Service) Login(email, password string) (*models.Session, error) {
	user, err := s.store.GetUserByEmail(NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	sess := models.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Role:      user.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateSession(sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

// Authenticate resolves a session cookie value. Unknown, malformed and
// expired IDs all return nil without error.
func (s *Service) Authenticate(sessionID string) (*models.Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, nil
	}
	return s.store.GetSession(sessionID, s.now().UTC())
}

func (s *Service) Logout(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.store.DeleteSession(sessionID)
}

func (s *Service) TTL() time.Duration { return s.ttl }
