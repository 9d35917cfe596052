// Package auth owns the credential passed to the content and scoring
// services. Remote clients receive a [Credentials] value explicitly and never
// look a token up on their own.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"parley/clock"
)

var (
	// ErrUnauthorized marks a remote call rejected for its credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoToken is returned when no usable token is held.
	ErrNoToken = fmt.Errorf("%w: no session token", ErrUnauthorized)
)

// expirySkew treats a token as expired slightly before its exp claim.
const expirySkew = 10 * time.Second

// Credentials supplies the bearer token for remote calls.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	// Valid reports whether Token would currently succeed without a refresh.
	Valid() bool
}

// RefreshFunc obtains a new token when the current one is missing or expired.
type RefreshFunc func(ctx context.Context) (string, error)

// Session holds one bearer token and its expiry.
type Session struct {
	clk     clock.Clock
	refresh RefreshFunc

	mu          sync.Mutex
	token       string
	expiry      time.Time
	invalidated bool
}

// NewSession returns an empty session. refresh may be nil.
func NewSession(clk clock.Clock, refresh RefreshFunc) *Session {
	return &Session{clk: clk, refresh: refresh}
}

// Set installs token. JWTs have their exp claim read without verifying the
// signature; other tokens never expire locally.
func (s *Session) Set(token string) error {
	expiry, err := ExpiryOf(token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiry = expiry
	s.invalidated = false
	return nil
}

// Invalidate drops the token after the server rejected it.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = true
}

func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validLocked()
}

func (s *Session) validLocked() bool {
	if s.token == "" || s.invalidated {
		return false
	}
	return s.expiry.IsZero() || s.clk.Now().Add(expirySkew).Before(s.expiry)
}

// Expiry returns the exp claim of the held token, zero if none.
func (s *Session) Expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiry
}

// Token returns the held token, refreshing it first when it is no longer
// valid and a RefreshFunc was given.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.validLocked() {
		defer s.mu.Unlock()
		return s.token, nil
	}
	refresh := s.refresh
	s.mu.Unlock()

	if refresh == nil {
		return "", ErrNoToken
	}
	token, err := refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: refresh: %w", ErrUnauthorized, err)
	}
	if err := s.Set(token); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if !s.Valid() {
		return "", fmt.Errorf("%w: refreshed token already expired", ErrUnauthorized)
	}
	return token, nil
}

// ExpiryOf returns the exp claim of a JWT, or zero for tokens that are not
// JWTs or carry no exp.
func ExpiryOf(token string) (time.Time, error) {
	if token == "" {
		return time.Time{}, ErrNoToken
	}
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// Static is a fixed token that is always considered valid.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

func (s Static) Valid() bool { return s != "" }
