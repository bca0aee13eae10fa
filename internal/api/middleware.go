package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/service"
)

// Claims carried by the bearer token issued by the identity provider.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type ctxKey int

const viewerKey ctxKey = iota

func withViewer(ctx context.Context, v service.Viewer) context.Context {
	return context.WithValue(ctx, viewerKey, v)
}

// ViewerFrom returns the authenticated caller stored by the auth middleware.
func ViewerFrom(ctx context.Context) (service.Viewer, bool) {
	v, ok := ctx.Value(viewerKey).(service.Viewer)
	return v, ok
}

// IssueToken signs an HS256 token for userID. Used by tooling and tests.
func IssueToken(secret []byte, userID string, role domain.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Authenticator verifies bearer tokens and stores the caller in the context.
type Authenticator struct {
	secret []byte
	log    *zap.Logger
}

func NewAuthenticator(secret []byte, log *zap.Logger) *Authenticator {
	return &Authenticator{secret: secret, log: log}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondUnauthorized(w, r, "missing bearer token")
			return
		}

		claims, err := a.verify(token)
		if err != nil {
			a.log.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
			respondUnauthorized(w, r, "invalid token")
			return
		}

		viewer := service.Viewer{AccountID: claims.UserID, Role: domain.Role(claims.Role)}
		next.ServeHTTP(w, r.WithContext(withViewer(r.Context(), viewer)))
	})
}

func (a *Authenticator) verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user_id")
	}
	switch domain.Role(claims.Role) {
	case domain.RoleMember, domain.RoleStaff, domain.RoleAdmin:
	default:
		return nil, errors.New("token has unknown role")
	}
	return claims, nil
}

// RateLimiter keeps one token bucket per account.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = v
	}
	v.lastSeen = rl.now()
	return v.limiter
}

// Cleanup drops buckets not used for maxIdle and returns how many were removed.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	removed := 0
	for key, v := range rl.limiters {
		if v.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup(maxIdle)
			}
		}
	}()
}

// Middleware must run after authentication; unauthenticated requests are
// keyed by remote address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if v, ok := ViewerFrom(r.Context()); ok {
			key = v.AccountID
		}
		if !rl.limiter(key).Allow() {
			w.Header().Set("Retry-After", "1")
			respondJSON(w, r, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Code: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole rejects callers whose role is not listed.
func requireRole(next http.HandlerFunc, roles ...domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, _ := ViewerFrom(r.Context())
		for _, role := range roles {
			if v.Role == role {
				next(w, r)
				return
			}
		}
		respondJSON(w, r, http.StatusForbidden, errorBody{Error: "insufficient role", Code: "forbidden"})
	}
}

func respondUnauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="grains"`)
	respondJSON(w, r, http.StatusUnauthorized, errorBody{Error: msg, Code: "unauthorized"})
}
