package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"github.com/signportal/signportal/internal/config"
	"github.com/signportal/signportal/internal/store"
)

// maxRequestBodySize limits the size of incoming request bodies (1MB).
const maxRequestBodySize = 1 << 20

// User listing pagination: the default when no limit is given and the hard
// cap a client cannot exceed.
const (
	defaultUserLimit = 100
	maxUserLimit     = 500
)

// handleRegister is the non-JS fallback of the account dialog: a classic
// form post answered with a post-redirect-get flash. The dialog's socket
// path and this handler share the same registration code underneath.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		s.redirectFlash(w, r, "Registration failed. Please try again.", "error")
		return
	}

	if !config.IsRegistrationAllowed() {
		s.redirectFlash(w, r, "Registration is temporarily closed.", "error")
		return
	}
	if s.store == nil {
		log.Printf("[Server] Registration attempted with no users store")
		s.redirectFlash(w, r, "Registration failed. Please try again.", "error")
		return
	}

	user, err := store.Register(r.Context(), s.store, store.Registration{
		Name:     r.PostFormValue("name"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
		Role:     r.PostFormValue("role"),
	})
	if err != nil {
		var verr *store.ValidationError
		switch {
		case errors.As(err, &verr):
			s.redirectFlash(w, r, verr.Error(), "error")
		case errors.Is(err, store.ErrDuplicateEmail):
			s.redirectFlash(w, r, "That email is already registered.", "error")
		default:
			log.Printf("[Server] Registration failed: %v", err)
			s.redirectFlash(w, r, "Registration failed. Please try again.", "error")
		}
		return
	}

	s.notifyLead("New signup: " + user.Name + " <" + user.Email + ">")
	s.redirectFlash(w, r, "Registration successful!", "success")
}

// redirectFlash sends the visitor back to the front page with a flash
// banner in the query string (303 so the form post is not replayed).
func (s *Server) redirectFlash(w http.ResponseWriter, r *http.Request, message, level string) {
	q := url.Values{}
	q.Set("message", message)
	q.Set("level", level)
	http.Redirect(w, r, s.base+"/?"+q.Encode(), http.StatusSeeOther)
}

// userJSON is the wire shape of one user in the /users listing. Password
// material never appears here.
type userJSON struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// handleUsers lists registered users newest first.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "users store unavailable")
		return
	}

	limit := parseIntParam(r, "limit", defaultUserLimit)
	if limit <= 0 {
		limit = defaultUserLimit
	}
	if limit > maxUserLimit {
		limit = maxUserLimit
	}

	users, err := s.store.ListUsers(r.Context(), limit)
	if err != nil {
		log.Printf("[Server] User listing failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	list := make([]userJSON, 0, len(users))
	for _, u := range users {
		list = append(list, userJSON{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			Role:      u.Role,
			CreatedAt: u.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"users": list})
}

// handleHealth reports liveness. The store ping is included so the desktop
// shell and deploy probes see database trouble before visitors do.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "ok",
		"version": serverVersion,
	}
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			body["status"] = "degraded"
			body["error"] = "users store unreachable"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[Server] Error encoding JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.Printf("[Server] Error encoding error response: %v", err)
	}
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
