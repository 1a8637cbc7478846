package server

import (
	"bufio"
	"container/list"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/signportal/signportal/internal/config"
)

// Handler wraps the server in its middleware chain: access log outermost,
// then security headers, per-IP rate limiting on the abuse-prone endpoints,
// API key auth on the users listing, and gzip compression innermost.
//
// The rate limiter's cleanup goroutine runs until ctx is cancelled; the
// returned channel closes when it has exited.
func (s *Server) Handler(ctx context.Context) (http.Handler, <-chan struct{}) {
	var h http.Handler = s

	if s.config.Features.Compression {
		h = WithCompression(h)
	}

	var authCfg *config.AuthConfig
	if s.config.Security != nil {
		authCfg = s.config.Security.Auth
	}
	h = AuthMiddleware(authCfg, usersEndpoint)(h)

	limit, done := RateLimitMiddleware(ctx,
		s.config.Security.GetRateLimitRPS(),
		s.config.Security.GetRateLimitBurst(),
		10000, protectedEndpoint)
	h = limit(h)

	h = SecurityHeadersMiddleware()(h)
	h = AccessLogMiddleware(s.accessLogWriter())(h)
	return h, done
}

// protectedEndpoint marks the endpoints worth rate limiting: registration
// and the users listing. Page loads and assets stay unmetered.
func protectedEndpoint(r *http.Request) bool {
	return r.URL.Path == "/register" || r.URL.Path == "/users"
}

// usersEndpoint marks the endpoint behind API key auth.
func usersEndpoint(r *http.Request) bool {
	return r.URL.Path == "/users"
}

// accessLogWriter opens the configured access log file for appending. The
// log always goes to stderr; the file is a tee. A file that cannot be
// opened is logged and skipped.
func (s *Server) accessLogWriter() io.Writer {
	if s.config.Server.AccessLog == "" {
		return os.Stderr
	}

	path := s.config.Server.AccessLog
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.rootDir, path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("[Server] Could not open access log %s: %v", path, err)
		return os.Stderr
	}
	s.accessLog = f
	return io.MultiWriter(os.Stderr, f)
}

// SecurityHeadersMiddleware adds security headers to all responses.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			// The portal serves its own script and styles from /assets;
			// nothing inline. connect-src 'self' covers the same-origin
			// WebSocket connection.
			w.Header().Set("Content-Security-Policy",
				"default-src 'self'; "+
					"script-src 'self'; "+
					"style-src 'self'; "+
					"img-src 'self' data: https:; "+
					"font-src 'self' data:; "+
					"connect-src 'self'; "+
					"frame-ancestors 'none'")

			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status for the access log. Hijack
// passes through so the WebSocket upgrade still works under the wrapper.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// AccessLogMiddleware appends one line per request in the classic
// host - - [timestamp] "request line" status format.
func AccessLogMiddleware(out io.Writer) func(http.Handler) http.Handler {
	if out == nil {
		out = os.Stderr
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			fmt.Fprintf(out, "%s - - [%s] \"%s %s %s\" %d -\n",
				host,
				time.Now().Format("02/Jan/2006 15:04:05"),
				r.Method, r.RequestURI, r.Proto,
				status)
		})
	}
}

// evictionLogInterval is the minimum time between eviction log messages.
const evictionLogInterval = 30 * time.Second

// ipLimiter tracks a per-IP token bucket and its position in the LRU list.
type ipLimiter struct {
	ip       string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware limits requests using a token bucket algorithm with
// per-IP tracking. rps is the rate limit in requests per second, burst is
// the maximum burst size, and maxIPs caps the number of tracked IPs (LRU
// eviction when full). Requests for which limited returns false pass
// through unmetered; a nil limited meters everything.
//
// The cleanup goroutine starts immediately; cancel ctx to stop it. The
// returned channel closes when it has exited.
func RateLimitMiddleware(ctx context.Context, rps float64, burst, maxIPs int, limited func(*http.Request) bool) (func(http.Handler) http.Handler, <-chan struct{}) {
	if maxIPs <= 0 {
		maxIPs = 10000
	}

	var (
		items = make(map[string]*list.Element)
		order = list.New() // front = most recent, back = oldest
		mu    sync.Mutex

		// Eviction logging state (always accessed under mu)
		lastEvictLog time.Time
		evictCount   int
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mu.Lock()
				now := time.Now()
				// Iterate all entries and remove stale ones. Cannot break
				// early: LRU order tracks access recency, not lastSeen
				// time, so stale entries may appear anywhere.
				for e := order.Back(); e != nil; {
					lim := e.Value.(*ipLimiter)
					prev := e.Prev()
					if now.Sub(lim.lastSeen) > 10*time.Minute {
						order.Remove(e)
						delete(items, lim.ip)
					}
					e = prev
				}
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	middleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limited != nil && !limited(r) {
				next.ServeHTTP(w, r)
				return
			}

			ip := getClientIP(r)

			mu.Lock()
			elem, exists := items[ip]
			if exists {
				order.MoveToFront(elem)
				elem.Value.(*ipLimiter).lastSeen = time.Now()
			} else {
				if order.Len() >= maxIPs {
					back := order.Back()
					if back != nil {
						evicted := back.Value.(*ipLimiter)
						order.Remove(back)
						delete(items, evicted.ip)
						evictCount++
						if time.Since(lastEvictLog) >= evictionLogInterval {
							log.Printf("[RateLimit] Evicted %d least-recent IP(s) (at capacity: %d IPs)", evictCount, maxIPs)
							lastEvictLog = time.Now()
							evictCount = 0
						}
					}
				}
				lim := &ipLimiter{
					ip:       ip,
					limiter:  rate.NewLimiter(rate.Limit(rps), burst),
					lastSeen: time.Now(),
				}
				elem = order.PushFront(lim)
				items[ip] = elem
			}
			allowed := elem.Value.(*ipLimiter).limiter.Allow()
			mu.Unlock()

			if !allowed {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	return middleware, done
}

// getClientIP extracts the client IP from the request. It only trusts
// X-Forwarded-For / X-Real-IP when the immediate peer is a loopback or
// private address (i.e., behind a reverse proxy).
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peerIP := net.ParseIP(host)
	trustedProxy := peerIP != nil && (peerIP.IsLoopback() || peerIP.IsPrivate())

	if trustedProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if parts := strings.SplitN(xff, ",", 2); len(parts) > 0 {
				return strings.TrimSpace(parts[0])
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	if peerIP != nil {
		return peerIP.String()
	}
	return host
}

// AuthMiddleware validates API key authentication on protected endpoints.
// With no keys configured it is a pass-through. A nil protected predicate
// protects every request.
func AuthMiddleware(authCfg *config.AuthConfig, protected func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		keys := authCfg.GetAPIKeys()
		if len(keys) == 0 {
			return next
		}
		headerName := authCfg.GetHeaderName()

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if protected != nil && !protected(r) {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get(headerName)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			// Handle "Authorization: Bearer <token>" format
			if headerName == "Authorization" {
				const bearerPrefix = "Bearer "
				if len(token) > len(bearerPrefix) && token[:len(bearerPrefix)] == bearerPrefix {
					token = token[len(bearerPrefix):]
				} else {
					writeError(w, http.StatusUnauthorized, "invalid authorization format, expected Bearer token")
					return
				}
			}

			for _, key := range keys {
				if secureCompare(token, key) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusUnauthorized, "invalid API key")
		})
	}
}

// secureCompare performs a constant-time string comparison to prevent
// timing attacks.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := 0; i < len(a); i++ {
		result |= a[i] ^ b[i]
	}
	return result == 0
}
