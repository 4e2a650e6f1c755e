// Package auth registers users, verifies passwords and manages login
// sessions.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/joescharf/bugsage/internal/apperr"
	"github.com/joescharf/bugsage/internal/models"
	"github.com/joescharf/bugsage/internal/store"
)

const (
	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 6
	// MaxPasswordBytes is the longest password bcrypt accepts.
	MaxPasswordBytes = 72
	// DefaultSessionTTL is how long a login lasts when no TTL is configured.
	DefaultSessionTTL = 24 * time.Hour
)

var (
	// ErrInvalidCredentials is returned for an unknown email or wrong password.
	ErrInvalidCredentials = &apperr.Error{Kind: apperr.KindAuthorization, Msg: "invalid credentials"}
	// ErrUnauthenticated is returned for a missing, unknown or expired session.
	ErrUnauthenticated = &apperr.Error{Kind: apperr.KindAuthorization, Msg: "authentication required"}
)

// Service authenticates users against the store.
type Service struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewService returns a Service issuing sessions that last ttl.
func NewService(s store.Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Service{store: s, ttl: ttl, now: time.Now}
}

// RegisterRequest is the input for creating an account.
type RegisterRequest struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     models.Role `json:"role,omitempty"`
}

// Register creates an account through self sign-up. Role defaults to
// Developer; Admin is only granted to the first account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	return s.createUser(ctx, req, req.Role == models.RoleAdmin)
}

// CreateUser creates an account with any role. Callers are trusted.
func (s *Service) CreateUser(ctx context.Context, req RegisterRequest) (*models.User, error) {
	return s.createUser(ctx, req, false)
}

// createUser validates and hashes outside the transaction, then checks the
// email and, when firstOnly is set, that no account exists yet, in the same
// transaction as the insert.
func (s *Service) createUser(ctx context.Context, req RegisterRequest, firstOnly bool) (*models.User, error) {
	name := strings.TrimSpace(req.Name)
	email := normalizeEmail(req.Email)
	if name == "" || email == "" || req.Password == "" {
		return nil, apperr.Validation("name, email and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Validation("invalid email %q", email)
	}
	if len(req.Password) < MinPasswordLength {
		return nil, apperr.Validation("password must be at least %d characters", MinPasswordLength)
	}
	if len(req.Password) > MaxPasswordBytes {
		return nil, apperr.Validation("password must be at most %d bytes", MaxPasswordBytes)
	}
	role := req.Role
	if role == "" {
		role = models.RoleDeveloper
	}
	if !role.Valid() {
		return nil, apperr.Validation("invalid role %q", role)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.User{Name: name, Email: email, PasswordHash: hash, Role: role}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if firstOnly {
			n, err := tx.CountUsers(ctx)
			if err != nil {
				return apperr.Persistence("count users", err)
			}
			if n > 0 {
				return apperr.Authorization("admin accounts must be created by an admin")
			}
		}
		if _, err := tx.GetUserByEmail(ctx, email); err == nil {
			return apperr.Validation("email already registered")
		} else if !errors.Is(err, store.ErrNotFound) {
			return apperr.Persistence("check email", err)
		}
		if err := tx.CreateUser(ctx, u); err != nil {
			return apperr.Persistence("create user", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and starts a session. The returned token is the
// only copy; the store keeps its hash.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	u, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", apperr.Persistence("get user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	plain, hash, err := newTokenPair()
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	now := s.now().UTC()
	sess := &models.Session{Token: hash, UserID: u.ID, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, "", apperr.Persistence("create session", err)
	}
	return u, plain, nil
}

// Authenticate resolves a session token to the acting identity. Expired
// sessions are removed.
func (s *Service) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return models.Identity{}, ErrUnauthenticated
	}
	hash := hashToken(token)
	sess, err := s.store.GetSession(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Identity{}, ErrUnauthenticated
		}
		return models.Identity{}, apperr.Persistence("get session", err)
	}
	if !sess.ExpiresAt.After(s.now()) {
		_ = s.store.DeleteSession(ctx, hash)
		return models.Identity{}, ErrUnauthenticated
	}
	u, err := s.store.GetUser(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Identity{}, ErrUnauthenticated
		}
		return models.Identity{}, apperr.Persistence("get user", err)
	}
	return models.IdentityOf(u), nil
}

// Logout ends the session for token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, hashToken(token)); err != nil {
		return apperr.Persistence("delete session", err)
	}
	return nil
}

// PruneSessions deletes every expired session and reports how many.
func (s *Service) PruneSessions(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, apperr.Persistence("prune sessions", err)
	}
	return n, nil
}

// IdentityByEmail resolves a configured email to an identity, for callers
// such as the CLI that act as a fixed user.
func (s *Service) IdentityByEmail(ctx context.Context, email string) (models.Identity, error) {
	email = normalizeEmail(email)
	if email == "" {
		return models.Identity{}, apperr.Validation("user.email is not configured")
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Identity{}, apperr.NotFound("no user with email %s", email)
		}
		return models.Identity{}, apperr.Persistence("get user", err)
	}
	return models.IdentityOf(u), nil
}

// RequireRole fails with an authorization error unless id has one of roles.
func RequireRole(id models.Identity, roles ...models.Role) error {
	if id.UserID == "" {
		return ErrUnauthenticated
	}
	for _, r := range roles {
		if id.Role == r {
			return nil
		}
	}
	return apperr.Authorization("requires role %s", joinRoles(roles))
}

func joinRoles(roles []models.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, " or ")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func newTokenPair() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plain := base64.RawURLEncoding.EncodeToString(raw)
	return plain, hashToken(plain), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", sum[:])
}
