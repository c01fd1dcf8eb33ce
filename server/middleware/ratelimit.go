package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/provesi/orderflow/contextx"
)

// luaGCRA implements Generic Cell Rate Algorithm.
var luaGCRA = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local period = tonumber(ARGV[2])
	local burst = tonumber(ARGV[3])

	local emission_interval = period / rate
	local now = redis.call("TIME")
	local now_sec = tonumber(now[1])
	local now_usec = tonumber(now[2])
	local now_ts = now_sec + (now_usec / 1000000)

	local tat = redis.call("GET", key)

	if not tat then
		tat = now_ts
	else
		tat = tonumber(tat)
	end

	tat = math.max(now_ts, tat)

	local new_tat = tat + emission_interval
	local allow_at = new_tat - (burst * emission_interval)

	if allow_at <= now_ts then
		redis.call("SET", key, new_tat, "EX", math.ceil(period * 2))
		return -1
	end

	return math.ceil(allow_at - now_ts)
`)

// RateLimitMiddleware uses GCRA to provide smooth, burst-tolerant rate limiting.
func RateLimitMiddleware(rdb *redis.Client, rate int, period time.Duration, burst int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity string

			if user := contextx.GetAuthPrincipalID(r.Context()); user != "" {
				identity = "user:" + user
			} else {
				// Assumes the ingress strips untrusted X-Forwarded-For
				// headers and appends the real one.
				identity = "ip:" + getRealIP(r)
			}

			key := "rl:" + identity

			res, err := luaGCRA.Run(r.Context(), rdb, []string{key}, rate, period.Seconds(), burst).Float64()
			if err != nil {
				// Fail open: Redis down? Let traffic pass.
				next.ServeHTTP(w, r)
				return
			}

			if res >= 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(res)))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rate))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rate))
			next.ServeHTTP(w, r)
		})
	}
}

// getRealIP attempts to extract the true client IP from headers.
// It supports standard X-Forwarded-For and X-Real-Ip.
func getRealIP(r *http.Request) string {
	xForwardedFor := r.Header.Get("X-Forwarded-For")
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		return strings.TrimSpace(parts[0])
	}

	xRealIP := r.Header.Get("X-Real-Ip")
	if xRealIP != "" {
		return xRealIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
