package metadata

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"certledger/pkg/requestcontext"
)

// Client kinds used as a low-cardinality metrics label.
const (
	ClientBrowser = "browser"
	ClientMobile  = "mobile"
	ClientBot     = "bot"
	ClientAPI     = "api"
)

// ClientMetadata extracts client IP address and User-Agent from the request
// and adds them to the context. Apply early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientKind classifies a User-Agent string. Verification pages are scraped a
// lot, so bots are split out from real browsers.
func ClientKind(ua string) string {
	if strings.TrimSpace(ua) == "" {
		return ClientAPI
	}
	parsed := useragent.New(ua)
	switch {
	case parsed.Bot():
		return ClientBot
	case parsed.Mobile():
		return ClientMobile
	}
	if name, _ := parsed.Browser(); name != "" && parsed.Mozilla() != "" {
		return ClientBrowser
	}
	return ClientAPI
}

// ClientIPFromRequest extracts the real client IP, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// client, proxy1, proxy2, ...
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "ip:port" or "[::1]:port".
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}

	return "unknown"
}
