package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wricardo/schoolbus-tracker/tracker/directory"
)

var (
	ErrMissingIdentity = errors.New("user id required")
	ErrUnknownUser     = errors.New("user not found in directory")
	ErrInvalidToken    = errors.New("invalid token")
	ErrDirectory       = errors.New("directory unavailable")
)

// Credentials are the claims carried by an auth frame.
type Credentials struct {
	UserID string
	Token  string
}

// Authenticator validates claimed identities against a user directory.
type Authenticator struct {
	dir    directory.Directory
	secret []byte
	issuer string
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithTokenSecret requires every auth to carry an HS256 token signed with
// secret whose subject is the claimed user id.
func WithTokenSecret(secret string) Option {
	return func(a *Authenticator) {
		if secret != "" {
			a.secret = []byte(secret)
		}
	}
}

// WithIssuer additionally requires the token issuer to match.
func WithIssuer(issuer string) Option {
	return func(a *Authenticator) { a.issuer = issuer }
}

// New creates an Authenticator over dir.
func New(dir directory.Directory, opts ...Option) *Authenticator {
	a := &Authenticator{dir: dir}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RequiresToken reports whether auth frames must carry a token.
func (a *Authenticator) RequiresToken() bool {
	return len(a.secret) > 0
}

// Authenticate resolves the claimed identity to a directory user. The
// returned user's role is fixed for the lifetime of the connection.
func (a *Authenticator) Authenticate(ctx context.Context, cred Credentials) (directory.User, error) {
	id := strings.TrimSpace(cred.UserID)
	if id == "" {
		return directory.User{}, ErrMissingIdentity
	}
	if a.RequiresToken() {
		if err := a.verify(cred.Token, id); err != nil {
			return directory.User{}, err
		}
	}

	u, err := a.dir.GetUser(ctx, id)
	if errors.Is(err, directory.ErrUserNotFound) {
		return directory.User{}, fmt.Errorf("%w: %s", ErrUnknownUser, id)
	}
	if err != nil {
		return directory.User{}, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	if !u.Role.Valid() {
		return directory.User{}, fmt.Errorf("%w: %s has role %q", ErrUnknownUser, id, u.Role)
	}
	return u, nil
}

func (a *Authenticator) verify(tokenString, userID string) error {
	if tokenString == "" {
		return fmt.Errorf("%w: token required", ErrInvalidToken)
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(userID),
	}
	if a.issuer != "" {
		options = append(options, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, options...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// NewToken signs a token for userID that Authenticate accepts when
// configured with the same secret and issuer.
func NewToken(secret, issuer, userID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
