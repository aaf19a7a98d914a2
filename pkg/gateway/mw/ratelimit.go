package mw

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nextstep-labs/interviewd/pkg/gateway/ratelimit"
)

// ClientKey identifies the caller for rate limiting: the hashed bearer
// token when present, the remote IP otherwise.
func ClientKey(r *http.Request) string {
	if token, ok := ParseBearer(r); ok {
		return ratelimit.ClientKeyFromAPIKey(token)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit gates session creation. Health endpoints and preflight pass
// through untouched.
func RateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		dec := limiter.AcquireCreate(ClientKey(r), time.Now())
		if !dec.Allowed {
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			}
			WriteJSONError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}
