package gateway

import "strings"

// UnknownIP is used when no proxy header identifies the client.
const UnknownIP = "unknown"

// ClientIP resolves the client address from proxy-aware headers, in order:
// first hop of X-Forwarded-For, then X-Real-IP, then CF-Connecting-IP.
// Header name lookup is case-insensitive; values are trimmed.
func ClientIP(headers map[string]string) string {
	if xff := headerValue(headers, "X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := headerValue(headers, "X-Real-IP"); xri != "" {
		return xri
	}
	if cf := headerValue(headers, "CF-Connecting-IP"); cf != "" {
		return cf
	}
	return UnknownIP
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
