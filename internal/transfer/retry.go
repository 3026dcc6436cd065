package transfer

import "net/http"

// temporaryStatusCodes is the taxonomy from spec.md §7: HTTP responses that
// are worth retrying rather than treating as a hard failure.
var temporaryStatusCodes = map[int]bool{
	http.StatusTooManyRequests: true, // 429
	520:                        true, // Cloudflare "unknown error"
	524:                        true, // Cloudflare "a timeout occurred"
}

// IsTemporary reports whether code is a documented temporary HTTP failure.
func IsTemporary(code int) bool {
	return temporaryStatusCodes[code]
}
