// Package auth verifies credentials against the user store and issues and
// verifies signed, time-limited access tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

var (
	// ErrInvalidCredentials covers unknown email, wrong password and
	// deactivated accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateIdentity  = user.ErrEmailExists
	ErrTokenInvalid       = errors.New("token is invalid")
	ErrTokenExpired       = errors.New("token has expired")
)

const DefaultTokenTTL = 30 * time.Minute

// Identity is the authenticated subject as carried in a token.
type Identity struct {
	Email string    `json:"email"`
	Role  user.Role `json:"role"`
}

func (i Identity) HasRole(roles ...user.Role) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

type Config struct {
	SecretKey []byte
	TokenTTL  time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Authenticator struct {
	users  user.Service
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type tokenClaims struct {
	Role user.Role `json:"role"`
	jwt.RegisteredClaims
}

// dummyHash is compared against when the email is unknown so both failure
// paths cost one bcrypt comparison.
var dummyHash, _ = user.HashPassword("storefront-timing-equalizer")

func NewAuthenticator(users user.Service, cfg Config) (*Authenticator, error) {
	if len(cfg.SecretKey) == 0 {
		return nil, errors.New("auth: secret key is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Authenticator{
		users:  users,
		secret: cfg.SecretKey,
		ttl:    cfg.TokenTTL,
		now:    cfg.Now,
	}, nil
}

func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (Identity, error) {
	u, err := a.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			_, _ = user.CheckPassword(dummyHash, password)
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, fmt.Errorf("auth: failed to look up credentials: %w", err)
	}

	ok, err := user.CheckPassword(u.PasswordHash, password)
	if err != nil {
		log.Error().Err(err).Str("user_id", u.ID).Msg("auth: stored password hash is unusable")
		return Identity{}, ErrInvalidCredentials
	}
	if !ok || !u.IsActive {
		return Identity{}, ErrInvalidCredentials
	}

	return Identity{Email: u.Email, Role: u.Role}, nil
}

// IssueToken signs a token for identity that expires TokenTTL after now.
func (a *Authenticator) IssueToken(identity Identity) (string, time.Time, error) {
	issuedAt := a.now()
	expiresAt := issuedAt.Add(a.ttl)

	claims := tokenClaims{
		Role: identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Email,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (a *Authenticator) VerifyToken(token string) (Identity, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	if claims.Subject == "" || !claims.Role.Valid() {
		return Identity{}, ErrTokenInvalid
	}

	return Identity{Email: claims.Subject, Role: claims.Role}, nil
}

// Register creates a customer account. The plaintext password is hashed by
// the user service and never stored or returned.
func (a *Authenticator) Register(ctx context.Context, draft user.User, password string) (*user.User, error) {
	draft.Role = user.RoleCustomer

	created, err := a.users.CreateUser(ctx, &draft, password)
	if err != nil {
		if errors.Is(err, user.ErrEmailExists) {
			return nil, ErrDuplicateIdentity
		}
		return nil, err
	}
	return created, nil
}
