// Package auth is the identity provider: account sign-up and sign-in, signed session
// tokens, and sign-out by token revocation.
//
// The role of a session is decided once at sign-up, stored with the account and carried
// as an explicit claim in every token, so handlers never infer it from the email address.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"table-status-backend/config"
	"table-status-backend/internal/model"
	"table-status-backend/internal/store"
)

const minPasswordLen = 6

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLen)
)

// Identity is the authenticated user behind a request.
type Identity struct {
	UserID string     `json:"userId"`
	Email  string     `json:"email"`
	Role   model.Role `json:"role"`
}

// IsStaff reports whether the identity carries the staff role.
func (i Identity) IsStaff() bool { return i.Role == model.RoleStaff }

// Claims are the JWT claims of a session token.
type Claims struct {
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Session is a signed-in session handed to the client.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Identity  Identity  `json:"user"`
}

// Service signs users in and out and verifies their tokens.
type Service struct {
	users     store.UserStore
	secret    []byte
	ttl       time.Duration
	cost      int
	staffCode string
	revoked   *cache.Cache
	now       func() time.Time
}

// NewService creates an identity provider backed by users.
func NewService(users store.UserStore, cfg config.AuthConfig) *Service {
	return &Service{
		users:     users,
		secret:    []byte(cfg.JWTSecret),
		ttl:       cfg.TokenTTL,
		cost:      cfg.BcryptCost,
		staffCode: cfg.StaffSignupCode,
		revoked:   cache.New(cfg.TokenTTL, 10*time.Minute),
		now:       time.Now,
	}
}

// SignUp registers an account and signs it in. The staff role is granted only when
// staffCode matches the configured sign-up code.
func (s *Service) SignUp(ctx context.Context, email, password, staffCode string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &model.User{
		Email:        email,
		PasswordHash: string(hash),
		Role:         s.roleFor(staffCode),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return s.issue(u)
}

func (s *Service) roleFor(staffCode string) model.Role {
	if s.staffCode != "" && subtle.ConstantTimeCompare([]byte(staffCode), []byte(s.staffCode)) == 1 {
		return model.RoleStaff
	}
	return model.RoleCustomer
}

// SignIn checks the password and issues a session token.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(u)
}

// SignOut revokes the token until it would have expired anyway.
func (s *Service) SignOut(token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	s.revoked.Set(claims.ID, struct{}{}, ttl)
	return nil
}

// Verify returns the identity carried by a valid, unrevoked token.
func (s *Service) Verify(token string) (*Identity, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	if _, revoked := s.revoked.Get(claims.ID); revoked {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

func (s *Service) issue(u *model.User) (*Session, error) {
	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := &Claims{
		Email: u.Email,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{
		Token:     signed,
		ExpiresAt: exp,
		Identity:  Identity{UserID: u.ID, Email: u.Email, Role: u.Role},
	}, nil
}

func (s *Service) parse(token string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
