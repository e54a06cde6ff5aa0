package ratelimit

import (
	"net/http"
	"strings"
)

const AnonymousIdentity = "anonymous"

// DefaultIPHeaders is the proxy header priority for client IP lookup.
// It assumes a platform edge in front of a generic proxy or CDN.
var DefaultIPHeaders = []string{
	"X-Vercel-Forwarded-For",
	"X-Forwarded-For",
	"CF-Connecting-IP",
	"X-Real-IP",
}

// Identify resolves the counter identity: the authenticated user if any,
// else the first IP of the first populated header in headerOrder, else the
// shared anonymous bucket.
func Identify(userID string, header http.Header, headerOrder []string) string {
	if userID != "" {
		return "user:" + userID
	}
	for _, name := range headerOrder {
		raw := header.Get(name)
		if raw == "" {
			continue
		}
		first, _, _ := strings.Cut(raw, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return "ip:" + ip
		}
	}
	return AnonymousIdentity
}
