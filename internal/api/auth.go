// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tablebuzz/tablebuzz/internal/log"
	"github.com/tablebuzz/tablebuzz/internal/transition"
)

// ErrUnauthorized is returned when a request carries no usable credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the verified caller identity extracted from the bearer token.
// Exactly one of SessionID and WaiterID is expected to be set for stream
// consumers; privileged roles may carry neither.
type Identity struct {
	SessionID string
	WaiterID  string
	Role      transition.Role
}

// tokenClaims is the JWT claims shape minted by the account service.
type tokenClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid,omitempty"`
	WaiterID  string `json:"wid,omitempty"`
	Role      string `json:"role"`
}

type identityCtxKey struct{}

// identityFromContext returns the verified identity stored by the auth
// middleware, if any.
func identityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// contextWithIdentity is split out so tests can inject an identity directly.
func contextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// verifyToken parses and validates a bearer token string.
func verifyToken(secret []byte, raw string) (Identity, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return Identity{}, ErrUnauthorized
	}

	role := transition.Role(claims.Role)
	if !role.IsValid() {
		return Identity{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return Identity{
		SessionID: claims.SessionID,
		WaiterID:  claims.WaiterID,
		Role:      role,
	}, nil
}

// authenticate verifies the Authorization bearer token and stores the caller
// identity in the request context. Requests without a valid token get 401.
func (s *Server) authenticate(next http.Handler) http.Handler {
	logger := log.WithComponent("auth")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeUnauthorized(w)
			return
		}

		id, err := verifyToken(s.jwtSecret, raw)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("path", r.URL.Path).
				Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).
				Msg("rejected bearer token")
			writeUnauthorized(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(contextWithIdentity(r.Context(), id)))
	})
}

// canStreamSession reports whether the identity may open the session stream.
// Clients are confined to their own session; waiters and privileged roles may
// observe any session of the restaurant they are authenticated for.
func (id Identity) canStreamSession(sessionID string) bool {
	if id.Role == transition.RoleClient {
		return id.SessionID == sessionID
	}
	return true
}

// canStreamWaiter reports whether the identity may open the waiter stream.
func (id Identity) canStreamWaiter(waiterID string) bool {
	if id.Role.IsPrivileged() {
		return true
	}
	return id.Role == transition.RoleWaiter && id.WaiterID == waiterID
}
