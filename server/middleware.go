// Package server middleware for authentication and rate limiting
package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// authConfig holds the control credentials. A token, or a username and
// password pair, turns authentication on.
type authConfig struct {
	username string
	password string
	token    string
}

func loadAuthConfig() *authConfig {
	cfg := &authConfig{
		username: os.Getenv("ADMIN_USERNAME"),
		password: os.Getenv("ADMIN_PASSWORD"),
		token:    os.Getenv("ADMIN_TOKEN"),
	}
	if !cfg.enabled() {
		slog.Warn("control endpoints are unprotected; set ADMIN_TOKEN or ADMIN_USERNAME and ADMIN_PASSWORD",
			slog.String("component", "http"))
	}
	return cfg
}

func (a *authConfig) enabled() bool {
	return a.token != "" || (a.username != "" && a.password != "")
}

// authorized accepts the X-Admin-Token header or matching basic credentials.
func (a *authConfig) authorized(r *http.Request) bool {
	if a.token != "" && secureEqual(r.Header.Get("X-Admin-Token"), a.token) {
		return true
	}
	if a.username == "" || a.password == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	// both comparisons always run
	userOK := secureEqual(user, a.username)
	passOK := secureEqual(pass, a.password)
	return ok && userOK && passOK
}

func secureEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// adminAuth rejects control requests that carry no valid credentials.
func adminAuth(next http.Handler, cfg *authConfig) http.Handler {
	if !cfg.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		slog.Warn("control auth failed", slog.String("component", "http"),
			slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
		w.Header().Set("WWW-Authenticate", `Basic realm="chatweave control"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

// rateLimiterConfig holds rate limiting configuration
type rateLimiterConfig struct {
	enabled       bool
	requestsPerIP int           // Max requests per IP per window
	window        time.Duration // Time window for rate limiting
}

// loadRateLimiterConfig reads rate limiter configuration from environment
func loadRateLimiterConfig() *rateLimiterConfig {
	cfg := &rateLimiterConfig{
		enabled:       os.Getenv("RATE_LIMIT_ENABLED") != "0",
		requestsPerIP: 60,
		window:        time.Minute,
	}
	if n, err := strconv.Atoi(os.Getenv("RATE_LIMIT_REQUESTS_PER_IP")); err == nil && n > 0 {
		cfg.requestsPerIP = n
	}
	if n, err := strconv.Atoi(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); err == nil && n > 0 {
		cfg.window = time.Duration(n) * time.Second
	}
	return cfg
}

// ipRateLimiter keeps a token bucket per client IP. Buckets idle for two
// windows are evicted.
type ipRateLimiter struct {
	cfg      *rateLimiterConfig
	visitors *ttlcache.Cache[string, *rate.Limiter]
}

// newIPRateLimiter creates a limiter whose eviction loop stops with ctx.
func newIPRateLimiter(ctx context.Context, cfg *rateLimiterConfig) *ipRateLimiter {
	rl := &ipRateLimiter{
		cfg: cfg,
		visitors: ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](cfg.window * 2),
		),
	}
	go rl.visitors.Start()
	go func() {
		<-ctx.Done()
		rl.visitors.Stop()
	}()
	return rl
}

// allow checks if a request from the given IP should be allowed
func (rl *ipRateLimiter) allow(ip string) bool {
	if !rl.cfg.enabled {
		return true
	}
	every := rate.Every(rl.cfg.window / time.Duration(rl.cfg.requestsPerIP))
	item, _ := rl.visitors.GetOrSet(ip, rate.NewLimiter(every, rl.cfg.requestsPerIP))
	return item.Value().Allow()
}

// clientIP extracts the caller's address, preferring the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		ip = strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}

// rateLimitMiddleware applies rate limiting to the control endpoints
func rateLimitMiddleware(next http.Handler, limiter *ipRateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !limiter.allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(int(limiter.cfg.window/time.Second)))
			http.Error(w, "Too Many Requests - rate limit exceeded", http.StatusTooManyRequests)
			slog.Warn("rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path))
			return
		}
		next.ServeHTTP(w, r)
	})
}

const (
	corsMethods = "GET, POST, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-Admin-Token, X-Correlation-ID"
)

// corsConfig decides which browser origins may call the API. Outside of
// development only the listed origins are answered, with credentials.
type corsConfig struct {
	allowAll bool
	origins  []string
}

// loadCORSConfig allows every origin when ENV is empty or dev unless
// CORS_PERMISSIVE says otherwise. CORS_ALLOWED_ORIGINS is a comma list that
// may contain "*.domain" patterns.
func loadCORSConfig() *corsConfig {
	env := strings.ToLower(os.Getenv("ENV"))
	cfg := &corsConfig{
		allowAll: env == "" || env == "dev" || env == "development",
		origins:  splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}
	if v := os.Getenv("CORS_PERMISSIVE"); v != "" {
		cfg.allowAll = v == "1" || v == "true"
	}
	if !cfg.allowAll && len(cfg.origins) == 0 {
		slog.Warn("CORS is restricted but CORS_ALLOWED_ORIGINS is empty; cross-origin requests will be refused",
			slog.String("component", "http"))
	}
	return cfg
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or ""
// when the origin gets no CORS headers.
func (c *corsConfig) allowOrigin(origin string) (value string, credentials bool) {
	switch {
	case c.allowAll:
		return "*", false
	case origin != "" && isOriginAllowed(origin, c.origins):
		return origin, true
	default:
		return "", false
	}
}

// withCORSConfig sets CORS headers and answers preflight requests itself.
func withCORSConfig(next http.Handler, cfg *corsConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allow, creds := cfg.allowOrigin(r.Header.Get("Origin")); allow != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			if creds {
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isOriginAllowed(origin string, patterns []string) bool {
	return slices.ContainsFunc(patterns, func(p string) bool { return originMatches(origin, p) })
}

// originMatches compares origin against an exact origin or a "*.domain"
// pattern. A pattern also covers the bare domain on any scheme.
func originMatches(origin, pattern string) bool {
	domain, wildcard := strings.CutPrefix(pattern, "*.")
	if !wildcard {
		return origin == pattern
	}
	_, host, ok := strings.Cut(origin, "://")
	if !ok {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
