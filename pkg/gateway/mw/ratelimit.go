package mw

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bezaspace/rak4/pkg/gateway/apierror"
	"github.com/bezaspace/rak4/pkg/gateway/ratelimit"
)

// RateLimit applies the request token bucket to the REST routes under /api/,
// keyed by client address. Live sessions are capped separately per user.
// onLimited, when set, is called with the limit type of each rejection.
func RateLimit(limiter *ratelimit.Limiter, onLimited func(limitType string), next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		dec := limiter.AcquireRequest(clientKey(r), time.Now())
		if !dec.Allowed {
			if onLimited != nil {
				onLimited("requests")
			}
			reqID, _ := RequestIDFrom(r.Context())
			apiErr := &apierror.Error{
				Type:      apierror.TypeRateLimit,
				Message:   "rate limit exceeded",
				RequestID: reqID,
			}
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
				v := dec.RetryAfter
				apiErr.RetryAfter = &v
			}
			apierror.Write(w, http.StatusTooManyRequests, apiErr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "anonymous"
	}
	return "ip_" + host
}
