package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/smartbizhq/smartbiz-backend/api/responses"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
	"github.com/smartbizhq/smartbiz-backend/pkg/logger"
)

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// AuthRateLimitPolicy defines the throttling parameters for a traffic surface.
type AuthRateLimitPolicy struct {
	name       string
	window     time.Duration
	ipLimit    int
	emailLimit int
}

// NewAuthRateLimitPolicy builds a policy with the supplied window and limits.
func NewAuthRateLimitPolicy(name string, window time.Duration, ipLimit, emailLimit int) AuthRateLimitPolicy {
	return AuthRateLimitPolicy{
		name:       strings.ToLower(strings.TrimSpace(name)),
		window:     window,
		ipLimit:    ipLimit,
		emailLimit: emailLimit,
	}
}

func (p AuthRateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.emailLimit > 0)
}

func (p AuthRateLimitPolicy) normalizedName() string {
	if p.name == "" {
		return "auth"
	}
	return p.name
}

// AuthRateLimit enforces per-IP and per-email counters for auth endpoints.
// The email counter is keyed on a hash of the normalized address so raw
// addresses never land in redis.
func AuthRateLimit(policy AuthRateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		throttle := &authThrottle{policy: policy, store: store, logg: logg}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !throttle.admit(w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type authThrottle struct {
	policy AuthRateLimitPolicy
	store  rateLimiterStore
	logg   *logger.Logger
}

func (t *authThrottle) admit(w http.ResponseWriter, r *http.Request) bool {
	ctx := r.Context()

	if t.policy.ipLimit > 0 {
		if !t.check(ctx, w, "ip", clientIP(r), t.policy.ipLimit) {
			return false
		}
	}

	if t.policy.emailLimit > 0 {
		email, err := peekEmail(r)
		if err != nil {
			responses.WriteError(ctx, t.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request"))
			return false
		}
		if email != "" {
			if !t.check(ctx, w, "email", hashValue(email), t.policy.emailLimit) {
				return false
			}
		}
	}
	return true
}

// check bumps the counter for one scope and writes the 429 itself when the
// subject is over the limit.
func (t *authThrottle) check(ctx context.Context, w http.ResponseWriter, scope, subject string, limit int) bool {
	if subject == "" {
		return true
	}

	key := fmt.Sprintf("rl:%s:%s:%s", scope, t.policy.normalizedName(), subject)
	count, err := t.store.IncrWithTTL(ctx, key, t.policy.window)
	if err != nil {
		responses.WriteError(ctx, t.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
		return false
	}
	if count <= int64(limit) {
		return true
	}

	if t.logg != nil {
		subjectField := "ip"
		if scope == "email" {
			subjectField = "email_hash"
		}
		logCtx := t.logg.WithFields(ctx, map[string]any{
			"scope":          scope,
			"policy":         t.policy.normalizedName(),
			"attempts":       count,
			"limit":          limit,
			"window_seconds": int(t.policy.window.Seconds()),
			subjectField:     subject,
		})
		t.logg.Warn(logCtx, "auth.rate_limit.blocked")
	}
	responses.WriteError(ctx, t.logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
	return false
}

// peekEmail reads the body to pull the email field out, then restores it
// for the downstream handler.
func peekEmail(r *http.Request) (string, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var payload struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.ToLower(strings.TrimSpace(payload.Email)), nil
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
