// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTimeout = 10 * time.Minute
	limiterPruneEvery  = time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter keeps one token bucket per client address. Idle buckets are
// pruned lazily while new ones are created.
type ipRateLimiter struct {
	limiters  map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	lastPrune time.Time
	now       func() time.Time
	mu        sync.Mutex
}

func newIPRateLimiter(limit rate.Limit, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

func (l *ipRateLimiter) allow(key string) bool {
	if key == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	e, ok := l.limiters[key]
	if !ok {
		l.prune(now)
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// prune drops idle buckets. Caller must hold l.mu.
func (l *ipRateLimiter) prune(now time.Time) {
	if now.Sub(l.lastPrune) < limiterPruneEvery {
		return
	}
	l.lastPrune = now
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) > limiterIdleTimeout {
			delete(l.limiters, key)
		}
	}
}

func (l *ipRateLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// ipKey returns the rate limit key for a client address. IPv4 addresses key
// on the full address and IPv6 addresses on their /64 prefix, so rotating
// within one subnet does not escape the limit. Unparseable addresses return
// an empty key and are not limited.
func ipKey(host string) string {
	ip := net.ParseIP(strings.TrimSpace(host))
	if ip == nil {
		return ""
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	return ip.Mask(net.CIDRMask(64, 128)).String() + "/64"
}

func (s *Server) clientKey(r *http.Request) string {
	if s.config.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return ipKey(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ipKey(r.RemoteAddr)
	}
	return ipKey(host)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" && !s.limiter.allow(s.clientKey(r)) {
			if s.metrics.rateLimited != nil {
				s.metrics.rateLimited.Inc()
			}
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
