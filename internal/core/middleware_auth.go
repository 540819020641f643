package core

import (
	"context"
	"net/http"
	"strings"

	"homegrid/internal/types"
)

// Authenticator resolves a bearer credential into an Actor. Identity and
// session management are owned by an external subsystem; the API core only
// consumes this interface.
type Authenticator interface {
	// Authenticate resolves the given bearer token into an Actor.
	// Returns a *types.AppError with an auth_ code when the token is
	// missing from the identity store or otherwise invalid.
	Authenticate(ctx context.Context, token string) (types.Actor, error)
}

// StaticAuthenticator is the reference Authenticator used in local
// development and integration tests: a single configured token maps to a
// fixed user/agency pair.
type StaticAuthenticator struct {
	Token    string
	UserID   string
	AgencyID string
}

// Authenticate compares the presented token against the configured one.
func (a *StaticAuthenticator) Authenticate(_ context.Context, token string) (types.Actor, error) {
	if a.Token == "" || token != a.Token {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid bearer token", nil)
	}
	return types.Actor{UserID: a.UserID, AgencyID: a.AgencyID}, nil
}

// AuthMiddleware extracts the Authorization bearer token, resolves it to an
// Actor via the configured Authenticator, and injects the Actor into the
// request context. Requests without a token proceed unauthenticated; handlers
// that require an Actor reject them individually. This keeps public routes
// (health, webhook) out of the auth path without per-route configuration.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		actor, err := s.Authenticator.Authenticate(r.Context(), token)
		if err != nil {
			Error(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), actor)))
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequireActor fetches the Actor from the context or writes a 401.
// Returns ok=false when the response has already been written.
func RequireActor(w http.ResponseWriter, r *http.Request) (types.Actor, bool) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"authentication required",
			nil,
		))
		return types.Actor{}, false
	}
	return actor, true
}
