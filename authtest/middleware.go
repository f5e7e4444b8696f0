package authtest

import (
	"context"
	"net/http"
)

type userContextKey struct{}

// ExtractUser loads the session's user into the request context. It never
// rejects a request: handlers decide what an anonymous caller gets.
func (s *Server) ExtractUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := s.Sessions.GetString(r.Context(), sessionUserKey)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := s.Users.GetUserByID(id)
		if err != nil {
			s.Logger.Warn("session refers to unknown user", "userId", id, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey{}, user)))
	})
}

// LoggedInUser returns the user ExtractUser found for the request, or nil
func LoggedInUser(r *http.Request) *User {
	user, _ := r.Context().Value(userContextKey{}).(*User)
	return user
}
