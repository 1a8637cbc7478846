// Package server serves the portal over HTTP: rendered landing pages, the
// WebSocket session endpoint that drives their interactivity, the classic
// form-post registration fallback, and the JSON endpoints around the users
// store.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/signportal/signportal"
	"github.com/signportal/signportal/internal/assets"
	"github.com/signportal/signportal/internal/config"
	"github.com/signportal/signportal/internal/output"
	"github.com/signportal/signportal/internal/source"
	"github.com/signportal/signportal/internal/store"
)

// serverVersion is sent in the Server response header on every request.
const serverVersion = "SignPortal/1.0"

// notifyTimeout bounds a single fire-and-forget lead notification.
const notifyTimeout = 10 * time.Second

// Route maps a URL pattern to a discovered page.
type Route struct {
	Pattern  string           // URL pattern (e.g. "/pricing")
	FilePath string           // relative file path (e.g. "pricing.md")
	Page     *signportal.Page // parsed page
}

// Server is the portal server. Construct it with New or NewWithConfig, wire
// the store and registries, call Discover, then serve it (usually wrapped
// by Handler for the middleware chain).
type Server struct {
	rootDir string
	config  *config.Config
	base    string // base path prefix with no trailing slash, usually ""

	mu     sync.RWMutex
	routes []*Route

	store   store.Store
	outputs *output.Registry
	sources *source.Registry

	connMu      sync.RWMutex
	connections map[*wsClient]bool

	previews  *previewRegistry
	watcher   *Watcher
	shell     *template.Template
	accessLog *os.File
	debug     bool
}

// New creates a server for the given content directory, loading
// signportal.yaml (or config.yaml) from it. A missing or broken config
// falls back to defaults so a bare directory still serves.
func New(rootDir string) *Server {
	cfg, err := config.LoadFromDir(rootDir)
	if err != nil {
		log.Printf("[Server] Config load failed, using defaults: %v", err)
		cfg = config.DefaultConfig()
	}
	return NewWithConfig(rootDir, cfg)
}

// NewWithConfig creates a server with an explicit configuration.
func NewWithConfig(rootDir string, cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Server{
		rootDir:     rootDir,
		config:      cfg,
		base:        strings.TrimSuffix(cfg.Server.BasePath, "/"),
		connections: make(map[*wsClient]bool),
		previews:    newPreviewRegistry(),
		shell:       template.Must(template.New("shell").Parse(shellTemplate)),
		debug:       cfg.Server.Debug,
	}
}

// Config returns the server's configuration.
func (s *Server) Config() *config.Config {
	return s.config
}

// SetStore wires the users store. Without one the portal still serves and
// the dialog acknowledges, but nothing persists and /users is unavailable.
func (s *Server) SetStore(st store.Store) {
	s.store = st
}

// SetOutputs wires the lead notification registry.
func (s *Server) SetOutputs(reg *output.Registry) {
	s.outputs = reg
}

// SetSources wires the content source registry used by data strips.
func (s *Server) SetSources(reg *source.Registry) {
	s.sources = reg
}

// Discover walks the content directory for markdown pages and registers a
// route per page. Files and directories starting with "_" or "." are
// skipped, as is anything matched by the config ignore patterns. A page
// that fails to parse is logged and skipped; the rest of the site serves.
func (s *Server) Discover() error {
	var routes []*Route

	err := filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := d.Name()
		if d.IsDir() {
			if path != s.rootDir && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, "_") || !strings.HasSuffix(name, ".md") {
			return nil
		}

		relPath, err := filepath.Rel(s.rootDir, path)
		if err != nil {
			return err
		}
		if ignored(relPath, s.config.Ignore) {
			return nil
		}

		page, err := signportal.ParseFile(path)
		if err != nil {
			log.Printf("[Server] Skipping %s: %v", relPath, err)
			return nil
		}

		s.registerPageSources(page)
		s.registerPageOutputs(page)

		routes = append(routes, &Route{
			Pattern:  mdToPattern(relPath),
			FilePath: relPath,
			Page:     page,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to discover pages: %w", err)
	}

	sortRoutes(routes)

	s.mu.Lock()
	s.routes = routes
	s.mu.Unlock()

	return nil
}

// registerPageSources adds sources a page declares in its frontmatter to
// the registry, converted to the site-level config shape. Site-level
// declarations win on name clashes; a broken page source is logged and
// its strip stays empty.
func (s *Server) registerPageSources(page *signportal.Page) {
	if s.sources == nil || len(page.Config.Sources) == 0 {
		return
	}
	for name, fm := range page.Config.Sources {
		cfg := config.SourceConfig{
			Type: fm.Type,
			File: fm.File,
		}
		if fm.Type == "wasm" {
			cfg.Path = fm.File
		}
		if len(fm.Options) > 0 {
			cfg.Options = make(map[string]string, len(fm.Options))
			for k, v := range fm.Options {
				cfg.Options[k] = fmt.Sprintf("%v", v)
			}
		}
		if fm.TTL != "" {
			cfg.Cache = &config.CacheConfig{TTL: fm.TTL}
		}
		if err := s.sources.Register(name, cfg, s.rootDir); err != nil {
			log.Printf("[Server] Page source %q in %s: %v", name, page.ID, err)
		}
	}
}

// registerPageOutputs does the same for frontmatter-declared notification
// outputs. Site-level outputs win on name clashes.
func (s *Server) registerPageOutputs(page *signportal.Page) {
	if s.outputs == nil || len(page.Config.Outputs) == 0 {
		return
	}
	for name, fm := range page.Config.Outputs {
		if _, exists := s.outputs.Get(name); exists {
			continue
		}
		out, err := output.NewFromConfig(name, &config.OutputConfig{
			Type: fm.Type,
			URL:  fm.URL,
			To:   fm.To,
		})
		if err != nil {
			log.Printf("[Server] Page output %q in %s: %v", name, page.ID, err)
			continue
		}
		s.outputs.Register(name, out)
	}
}

// Routes returns the discovered routes, root first.
func (s *Server) Routes() []*Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routes
}

// ServeHTTP dispatches portal requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", serverVersion)

	path := r.URL.Path
	switch {
	case path == "/ws":
		s.serveWebSocket(w, r)
		return
	case path == "/register":
		s.handleRegister(w, r)
		return
	case path == "/users":
		s.handleUsers(w, r)
		return
	case path == "/healthz":
		s.handleHealth(w, r)
		return
	case strings.HasPrefix(path, "/static/"):
		s.serveStatic(w, r)
		return
	case strings.HasPrefix(path, "/assets/"):
		s.serveAsset(w, r)
		return
	case strings.HasPrefix(path, "/webhook/"):
		s.serveWebhook(w, r)
		return
	case path == "/preview" || strings.HasPrefix(path, "/preview/"):
		s.servePreview(w, r)
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	route := s.routeForPattern(path)
	s.mu.RUnlock()

	if route == nil {
		// Unknown paths land on the front page rather than a dead end.
		http.Redirect(w, r, s.base+"/", http.StatusSeeOther)
		return
	}

	s.servePage(w, r, route)
}

// routeForPattern finds the route matching a URL path. Callers hold s.mu.
func (s *Server) routeForPattern(path string) *Route {
	for _, route := range s.routes {
		if route.Pattern == path {
			return route
		}
	}
	return nil
}

// findRoute resolves a page id from the WS query parameter. An empty id
// means the front page.
func (s *Server) findRoute(pageID string) *Route {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pageID == "" {
		pageID = "index"
	}
	if strings.HasPrefix(pageID, "preview/") {
		return s.previewRoute(pageID)
	}
	for _, route := range s.routes {
		if pageIDForPattern(route.Pattern) == pageID {
			return route
		}
	}
	return nil
}

// shellData feeds the page shell template.
type shellData struct {
	Title       string
	Description string
	Base        string
	PageID      string
	Flash       *flash
	Content     template.HTML
}

type flash struct {
	Message string
	Level   string
}

// shellTemplate wraps rendered page content with the document head, the
// client runtime, and the flash banner slot. Everything interactive lives
// in the content itself; the shell stays static.
const shellTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
{{- if .Description}}
<meta name="description" content="{{.Description}}">
{{- end}}
<link rel="stylesheet" href="{{.Base}}/assets/portal.css">
<script src="{{.Base}}/assets/portal.js" defer></script>
</head>
<body data-page="{{.PageID}}" data-ws="{{.Base}}/ws">
{{- if .Flash}}
<div class="portal-flash portal-flash-{{.Flash.Level}}" role="status">{{.Flash.Message}}</div>
{{- end}}
<main>
{{.Content}}</main>
</body>
</html>
`

// servePage renders a page inside the shell.
func (s *Server) servePage(w http.ResponseWriter, r *http.Request, route *Route) {
	page := route.Page

	content := page.StaticHTML
	if s.sources != nil && strings.Contains(content, "data-source") {
		content = s.renderStrips(r, content)
	}
	if page.Bindings.YearElementID != "" {
		content = injectYear(content, page.Bindings.YearElementID, time.Now().Year())
	}

	data := shellData{
		Title:       s.pageTitle(page),
		Description: s.pageDescription(page),
		Base:        s.base,
		PageID:      pageIDForPattern(route.Pattern),
		Flash:       flashFromQuery(r.URL.Query()),
		Content:     template.HTML(content),
	}

	var buf bytes.Buffer
	if err := s.shell.Execute(&buf, data); err != nil {
		log.Printf("[Server] Failed to render %s: %v", route.FilePath, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) pageTitle(page *signportal.Page) string {
	if page.Title != "" {
		return page.Title
	}
	if s.config.Title != "" {
		return s.config.Title
	}
	return s.config.Product.Name
}

func (s *Server) pageDescription(page *signportal.Page) string {
	if page.Description != "" {
		return page.Description
	}
	return s.config.Description
}

// flashFromQuery builds the flash banner from the post-redirect-get query
// parameters. The level is clamped to known values so a crafted URL cannot
// smuggle class names into the markup.
func flashFromQuery(q url.Values) *flash {
	msg := q.Get("message")
	if msg == "" {
		return nil
	}
	level := q.Get("level")
	switch level {
	case "success", "error":
	default:
		level = "info"
	}
	return &flash{Message: msg, Level: level}
}

// injectYear writes the current year into the year slot's text content.
// The slot is located structurally by the id the binder recorded, so the
// source's quoting style and attribute order do not matter. The slot
// keeps its attributes; only what is between its tags changes.
func injectYear(content, id string, year int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	slot := doc.Find("#" + id)
	if slot.Length() == 0 {
		return content
	}
	slot.SetText(fmt.Sprintf("%d", year))
	out, err := doc.Find("body").Html()
	if err != nil {
		return content
	}
	return out
}

// renderStrips fills every data-source element with rows from its source.
// The element's inner HTML is the row template, executed once per row with
// the row map as dot. A source that fails leaves its strip untouched; the
// page still serves.
func (s *Server) renderStrips(r *http.Request, content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		log.Printf("[Server] Strip rendering failed: %v", err)
		return content
	}

	rendered := false
	doc.Find("[data-source]").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("data-source")
		src, ok := s.sources.Get(name)
		if !ok {
			log.Printf("[Server] Strip references unknown source %q", name)
			return
		}

		rowTmpl, err := sel.Html()
		if err != nil {
			return
		}
		tmpl, err := template.New(name).Parse(rowTmpl)
		if err != nil {
			log.Printf("[Server] Strip %q template error: %v", name, err)
			return
		}

		rows, err := src.Fetch(r.Context())
		if err != nil {
			log.Printf("[Server] Strip %q fetch failed: %v", name, err)
			return
		}

		var buf bytes.Buffer
		for _, row := range rows {
			if err := tmpl.Execute(&buf, row); err != nil {
				log.Printf("[Server] Strip %q render failed: %v", name, err)
				return
			}
		}
		sel.SetHtml(buf.String())
		rendered = true
	})

	if !rendered {
		return content
	}
	out, err := doc.Find("body").Html()
	if err != nil {
		return content
	}
	return out
}

// serveAsset serves the embedded client runtime.
func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request) {
	switch strings.TrimPrefix(r.URL.Path, "/assets/") {
	case "portal.js":
		js, err := assets.GetPortalJS()
		if err != nil {
			http.Error(w, "Asset not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/javascript")
		w.Write(js)
	case "portal.css":
		css, err := assets.GetPortalCSS()
		if err != nil {
			http.Error(w, "Asset not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/css")
		w.Write(css)
	default:
		http.Error(w, "Asset not found", http.StatusNotFound)
	}
}

// serveStatic serves files from the content directory's static/ subtree.
// Traversal outside it is rejected before touching the filesystem.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/static/")
	name = filepath.FromSlash(name)

	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	}

	data, err := os.ReadFile(filepath.Join(s.rootDir, "static", clean))
	if err != nil {
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	}

	ctype := mime.TypeByExtension(filepath.Ext(clean))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Write(data)
}

// notifyLead reports a new lead to every configured output. Sends are
// fire-and-forget with a timeout; a failure is logged and never reaches
// the visitor.
func (s *Server) notifyLead(message string) {
	if s.outputs == nil || s.outputs.Len() == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.outputs.SendAll(ctx, message); err != nil {
			log.Printf("[Server] Lead notification failed: %v", err)
		}
	}()
}

// accountSubmit is the dialog form hook: it runs the full registration path
// against the store and maps failures to the visitor-facing messages the
// dialog shows.
func (s *Server) accountSubmit(fields map[string]string) error {
	if !config.IsRegistrationAllowed() {
		return errors.New("Registration is temporarily closed.")
	}
	if s.store == nil {
		// Preview mode: acknowledge without persisting.
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user, err := store.Register(ctx, s.store, store.Registration{
		Name:     fields["name"],
		Email:    fields["email"],
		Password: fields["password"],
		Role:     fields["role"],
	})
	if err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		if errors.Is(err, store.ErrDuplicateEmail) {
			return errors.New("That email is already registered.")
		}
		log.Printf("[Server] Registration failed: %v", err)
		return errors.New("Registration failed. Please try again.")
	}

	s.notifyLead(fmt.Sprintf("New signup: %s <%s>", user.Name, user.Email))
	return nil
}

// formSubmit observes placeholder form submissions (demo requests and the
// like) and turns them into lead notifications.
func (s *Server) formSubmit(label string, fields map[string]string) {
	message := fmt.Sprintf("New %s lead", label)
	if email := strings.TrimSpace(fields["email"]); email != "" {
		message += ": " + email
	}
	s.notifyLead(message)
}

// RegisterClient tracks a WebSocket client for reload broadcasts.
func (s *Server) RegisterClient(c *wsClient) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.connections[c] = true
	if s.debug {
		log.Printf("[Server] Session connected: %d active", len(s.connections))
	}
}

// UnregisterClient stops tracking a WebSocket client.
func (s *Server) UnregisterClient(c *wsClient) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.connections, c)
	if s.debug {
		log.Printf("[Server] Session disconnected: %d active", len(s.connections))
	}
}

// BroadcastReload tells every connected session to reload its page.
func (s *Server) BroadcastReload(filePath string) {
	s.connMu.RLock()
	clients := make([]*wsClient, 0, len(s.connections))
	for c := range s.connections {
		clients = append(clients, c)
	}
	s.connMu.RUnlock()

	if len(clients) == 0 {
		return
	}
	log.Printf("[Server] Broadcasting reload for %s to %d sessions", filePath, len(clients))

	msg := reloadEnvelope{Action: "reload", Path: filePath}
	for _, c := range clients {
		if err := c.send(msg); err != nil {
			log.Printf("[Server] Failed to send reload: %v", err)
		}
	}
}

// EnableWatch starts watching the content directory. Markdown changes
// re-discover the site; data file changes invalidate source caches. Both
// end in a reload broadcast.
func (s *Server) EnableWatch() error {
	watcher, err := NewWatcher(s.rootDir, func(relPath string) error {
		switch filepath.Ext(relPath) {
		case ".md":
			if err := s.Discover(); err != nil {
				return fmt.Errorf("failed to re-discover pages: %w", err)
			}
		case ".json", ".csv", ".wasm":
			if s.sources != nil {
				s.sources.InvalidateAllCaches()
			}
		default:
			return nil
		}
		s.BroadcastReload(relPath)
		return nil
	}, s.debug)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	s.watcher = watcher
	s.watcher.Start()
	log.Printf("[Watch] Watching %s", s.rootDir)
	return nil
}

// StopWatch stops the file watcher if it is running.
func (s *Server) StopWatch() error {
	if s.watcher != nil {
		w := s.watcher
		s.watcher = nil
		return w.Stop()
	}
	return nil
}

// Close releases everything the server holds: watcher, sessions, source
// and output registries, the users store, the access log file.
func (s *Server) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(s.StopWatch())
	s.previews.close()

	s.connMu.Lock()
	for c := range s.connections {
		c.close()
	}
	s.connections = make(map[*wsClient]bool)
	s.connMu.Unlock()

	if s.sources != nil {
		keep(s.sources.Close())
	}
	if s.outputs != nil {
		keep(s.outputs.Close())
	}
	if s.store != nil {
		keep(s.store.Close())
	}
	if s.accessLog != nil {
		keep(s.accessLog.Close())
		s.accessLog = nil
	}
	return firstErr
}

// ignored reports whether a relative path matches any ignore pattern.
// Patterns ending in "/**" match whole subtrees; everything else goes
// through filepath.Match against the path and its base name.
func ignored(relPath string, patterns []string) bool {
	rel := filepath.ToSlash(relPath)
	for _, pattern := range patterns {
		if strings.HasSuffix(pattern, "/**") {
			if strings.HasPrefix(rel, strings.TrimSuffix(pattern, "**")) {
				return true
			}
			continue
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

// mdToPattern converts a markdown file path to a URL pattern.
// Examples:
//   - "index.md" → "/"
//   - "pricing.md" → "/pricing"
//   - "docs/start.md" → "/docs/start"
//   - "docs/index.md" → "/docs/"
func mdToPattern(relPath string) string {
	path := strings.TrimSuffix(relPath, ".md")
	path = filepath.ToSlash(path)

	if path == "index" {
		return "/"
	}
	if strings.HasSuffix(path, "/index") {
		return "/" + strings.TrimSuffix(path, "index")
	}
	return "/" + path
}

// pageIDForPattern converts a URL pattern to the page id the client runtime
// sends on the socket: "/" → "index", "/pricing" → "pricing",
// "/docs/" → "docs/index".
func pageIDForPattern(pattern string) string {
	if pattern == "/" {
		return "index"
	}
	id := strings.TrimPrefix(pattern, "/")
	if strings.HasSuffix(id, "/") {
		id += "index"
	}
	return id
}

// sortRoutes orders routes root first, then directory indexes, then the
// rest alphabetically.
func sortRoutes(routes []*Route) {
	for i := 0; i < len(routes); i++ {
		for j := i + 1; j < len(routes); j++ {
			if shouldSwap(routes[i], routes[j]) {
				routes[i], routes[j] = routes[j], routes[i]
			}
		}
	}
}

func shouldSwap(a, b *Route) bool {
	if a.Pattern == "/" {
		return false
	}
	if b.Pattern == "/" {
		return true
	}

	aIsIndex := strings.HasSuffix(a.Pattern, "/")
	bIsIndex := strings.HasSuffix(b.Pattern, "/")
	if aIsIndex && !bIsIndex {
		return false
	}
	if !aIsIndex && bIsIndex {
		return true
	}
	return a.Pattern > b.Pattern
}
