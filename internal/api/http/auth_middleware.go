package httpapi

import (
	"errors"
	"net/http"
	"strings"

	appAuth "github.com/nestfind/nestfind/internal/application/auth"
	"github.com/nestfind/nestfind/internal/domain/session"
	"github.com/nestfind/nestfind/internal/domain/user"
)

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r, s.sessionCookieName)
		u, sess, err := s.authSvc.Authenticate(r.Context(), token)
		if err != nil {
			s.respondAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withAuthUser(r.Context(), newAuthUser(u, sess))))
	})
}

// optionalAuth attaches the user when a valid token is present and lets the
// request through as an anonymous visitor otherwise.
func (s *Server) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r, s.sessionCookieName)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		u, sess, err := s.authSvc.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, appAuth.ErrUnauthenticated) {
				s.respondAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(withAuthUser(r.Context(), newAuthUser(u, sess))))
	})
}

func (s *Server) respondAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, appAuth.ErrUnauthenticated) || errors.Is(err, appAuth.ErrInvalidCredentials) {
		respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error())
		return
	}
	s.respondEngineError(w, r, err)
}

func newAuthUser(u *user.User, sess *session.Session) *AuthUser {
	return &AuthUser{
		UserID:    u.UserID,
		Username:  u.Username,
		Role:      u.Role,
		SessionID: sess.SessionID,
	}
}

func extractToken(r *http.Request, cookieName string) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil {
			return c.Value
		}
	}
	return ""
}
