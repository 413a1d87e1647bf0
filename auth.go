package main

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// hashPassword takes a plaintext password and returns a bcrypt hash.  If hashing
// fails the program panics because it is a programmer error.
func hashPassword(password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return string(hash)
}

// checkPasswordHash verifies a plaintext password against a stored bcrypt hash.
// It returns nil if the password matches, or an error otherwise.
func checkPasswordHash(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// openAccess is the identity handlers receive while no users are configured.
var openAccess = User{Username: "anonymous", Admin: true}

// withAuth enforces HTTP Basic authentication once at least one user exists.
// With an empty user list every request is let through as openAccess, which
// is how the first account gets created.
func (s *Server) withAuth(handler func(http.ResponseWriter, *http.Request, User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfgMgr.HasUsers() {
			handler(w, r, openAccess)
			return
		}
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="labrig"`)
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		user, err := s.cfgMgr.Authenticate(username, password)
		if err != nil {
			s.logger.Log("login failed for %q from %s", username, r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="labrig"`)
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		handler(w, r, user)
	}
}

// public adapts a handler that does not care about the caller.
func public(h http.HandlerFunc) func(http.ResponseWriter, *http.Request, User) {
	return func(w http.ResponseWriter, r *http.Request, _ User) { h(w, r) }
}
