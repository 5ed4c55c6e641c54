// Package session implements the hub's downstream session identity (a
// signed JWT session id) and per-session server-connection cache. Adapted
// from github.com/kagenti/mcp-gateway's internal/session package: its
// SessionIdManager contract and cache shape already match the hub's session
// lifecycle (spec section 3, Session: {sessionId, groupSelector}), but the
// signing key now goes through the hub's own credential-indirection
// convention and every failure is tagged with the hub's huberrors kinds
// instead of bare fmt.Errorf, matching how the rest of the hub surfaces
// errors (spec section 7).
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kagenti/mcp-hub/internal/credentials"
	"github.com/kagenti/mcp-hub/internal/huberrors"
)

// DefaultSessionDuration is used when no explicit session length is configured.
const (
	DefaultSessionDuration = 24 * time.Hour
	issuer                 = "mcp-hub"
)

// Deleter removes all cached per-server connection state for a session,
// invoked on session termination (spec section 5, "on session close, all
// in-flight calls for that session are cancelled").
type Deleter interface {
	DeleteSessions(ctx context.Context, key ...string) error
}

var _ server.SessionIdManager = &JWTManager{}

// Claims are the registered JWT claims carried by a session id.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTManager issues and validates session ids as signed JWTs, implementing
// mark3labs/mcp-go's server.SessionIdManager.
type JWTManager struct {
	signingKey     []byte
	duration       time.Duration
	logger         *slog.Logger
	sessionDeleter Deleter
}

// NewJWTManager creates a JWTManager. signingKey may be a literal value or
// a "secret:<name>" indirection resolved against the hub's mounted
// credential store (internal/credentials), the same convention used for
// OpenAPI security tokens and sse/streamable-http headers elsewhere in the hub.
// sessionLengthMinutes of 0 uses DefaultSessionDuration.
func NewJWTManager(signingKey string, sessionLengthMinutes int64, logger *slog.Logger, deleter Deleter) (*JWTManager, error) {
	if signingKey == "" {
		return nil, huberrors.New(huberrors.KindConfigInvalid, "no session signing key provided", nil)
	}
	resolved, err := credentials.Resolve(signingKey)
	if err != nil {
		return nil, huberrors.New(huberrors.KindConfigInvalid, "resolve session signing key", err)
	}
	duration := DefaultSessionDuration
	if sessionLengthMinutes != 0 {
		duration = time.Duration(sessionLengthMinutes) * time.Minute
	}
	return &JWTManager{
		signingKey:     []byte(resolved),
		duration:       duration,
		logger:         logger,
		sessionDeleter: deleter,
	}, nil
}

func (m *JWTManager) generateSessionJWT() (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{issuer},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

// Generate fulfils server.SessionIdManager.
func (m *JWTManager) Generate() string {
	sessID, err := m.generateSessionJWT()
	if err != nil {
		m.logger.Error("failed to generate session id", "error", err)
		return ""
	}
	return sessID
}

// Validate fulfils server.SessionIdManager; the bool return is
// isNotAllowed, matching the interface's naming. A parse/signature failure
// is tagged SESSION_CLOSED (spec section 7) since, from the caller's
// perspective, an unparseable or expired session id behaves the same as one
// the hub has already torn down.
func (m *JWTManager) Validate(tokenValue string) (bool, error) {
	token, err := jwt.ParseWithClaims(tokenValue, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return true, huberrors.New(huberrors.KindSessionClosed, "parse session id", err)
	}
	if !token.Valid {
		return true, nil
	}
	return false, nil
}

// GetExpiresIn returns the expiration time embedded in the session id.
func (m *JWTManager) GetExpiresIn(tokenValue string) (time.Time, error) {
	token, err := jwt.ParseWithClaims(tokenValue, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return time.Now(), huberrors.New(huberrors.KindSessionClosed, "parse session id", err)
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Now(), huberrors.New(huberrors.KindSessionClosed, "read session id expiry", err)
	}
	return exp.Time, nil
}

// Terminate fulfils server.SessionIdManager, clearing any cached
// per-server connection state for the session (spec section 5, "on session
// close, all in-flight calls for that session are cancelled").
func (m *JWTManager) Terminate(sessionID string) (isNotAllowed bool, err error) {
	if m.sessionDeleter != nil {
		if err := m.sessionDeleter.DeleteSessions(context.Background(), sessionID); err != nil {
			return false, huberrors.New(huberrors.KindPersistenceFailed, "clear session state", err)
		}
	}
	return false, nil
}
