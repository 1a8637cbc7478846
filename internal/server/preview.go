package server

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/signportal/signportal"
)

// previewTTL is how long an unsaved preview stays reachable.
const previewTTL = time.Hour

// previewSession is a draft page rendered from posted markdown, kept in
// memory only. Copy editors use it to see a landing page before the file
// lands in the content directory.
type previewSession struct {
	ID        string
	Page      *signportal.Page
	CreatedAt time.Time
}

// previewRegistry holds active preview sessions.
type previewRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*previewSession
	sweep    sync.Once
	stop     sync.Once
	done     chan struct{}
}

func newPreviewRegistry() *previewRegistry {
	return &previewRegistry{
		sessions: make(map[string]*previewSession),
		done:     make(chan struct{}),
	}
}

func (p *previewRegistry) add(sess *previewSession) {
	p.mu.Lock()
	p.sessions[sess.ID] = sess
	p.mu.Unlock()

	// The sweeper starts with the first session and runs for the life of
	// the server.
	p.sweep.Do(func() {
		go p.sweepLoop()
	})
}

func (p *previewRegistry) get(id string) *previewSession {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessions[id]
}

func (p *previewRegistry) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			now := time.Now()
			for id, sess := range p.sessions {
				if now.Sub(sess.CreatedAt) > previewTTL {
					delete(p.sessions, id)
				}
			}
			p.mu.Unlock()
		case <-p.done:
			return
		}
	}
}

func (p *previewRegistry) close() {
	p.sweep.Do(func() {}) // a sweeper must not start after close
	p.stop.Do(func() { close(p.done) })
}

// servePreview handles the preview endpoints:
//
//	POST /preview       markdown body in, {"id","url"} out
//	GET  /preview/{id}  renders the draft through the normal page shell
//
// Parse failures come back as 422 with the annotated error text, the same
// report the check command prints.
func (s *Server) servePreview(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/preview" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.createPreview(w, r)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/preview/")
	if id == "" || r.Method != http.MethodGet {
		http.Error(w, "Preview not found", http.StatusNotFound)
		return
	}

	sess := s.previews.get(id)
	if sess == nil {
		http.Error(w, "Preview not found", http.StatusNotFound)
		return
	}

	s.servePage(w, r, &Route{
		Pattern:  "/preview/" + id,
		FilePath: "preview:" + id,
		Page:     sess.Page,
	})
}

func (s *Server) createPreview(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(content) == 0 {
		writeError(w, http.StatusBadRequest, "markdown body required")
		return
	}

	id, err := previewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create preview")
		return
	}

	page, err := signportal.Parse("preview-"+id, content)
	if err != nil {
		if perr, ok := err.(*signportal.ParseError); ok {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusUnprocessableEntity)
			io.WriteString(w, perr.Format())
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.previews.add(&previewSession{
		ID:        id,
		Page:      page,
		CreatedAt: time.Now(),
	})

	if s.debug {
		log.Printf("[Preview] Created %s (%d bytes)", id, len(content))
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":  id,
		"url": s.base + "/preview/" + id,
	})
}

// previewRoute resolves a ws page id like "preview/<id>" so draft pages get
// live sessions exactly like committed ones.
func (s *Server) previewRoute(pageID string) *Route {
	id := strings.TrimPrefix(pageID, "preview/")
	sess := s.previews.get(id)
	if sess == nil {
		return nil
	}
	return &Route{
		Pattern:  "/preview/" + id,
		FilePath: "preview:" + id,
		Page:     sess.Page,
	}
}

func previewID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
