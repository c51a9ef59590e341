// Package device derives the device description and client address
// recorded on sessions.
package device

import (
	"net"
	"net/http"
	"strings"
)

const Unknown = "Unknown Device"

// Describe turns a User-Agent header into a short label such as "Chrome 120 on macOS".
func Describe(ua string) string {
	if ua == "" {
		return Unknown
	}

	browser := "Unknown Browser"
	switch {
	case strings.Contains(ua, "Edg/"):
		browser = "Edge"
	case strings.Contains(ua, "Chrome/"):
		browser = "Chrome"
	case strings.Contains(ua, "Firefox/"):
		browser = "Firefox"
	case strings.Contains(ua, "Safari/"):
		browser = "Safari"
	case strings.Contains(ua, "okhttp/"), strings.Contains(ua, "Dart/"):
		browser = "App"
	}

	version := ""
	key := browser + "/"
	if browser == "Edge" {
		key = "Edg/"
	}
	if idx := strings.Index(ua, key); idx != -1 {
		start := idx + len(key)
		end := start
		for end < len(ua) && ua[end] >= '0' && ua[end] <= '9' {
			end++
		}
		version = ua[start:end]
	}

	// Android and iOS agents also mention Linux / Mac OS X, so check them first.
	os := "Unknown OS"
	switch {
	case strings.Contains(ua, "Android"):
		os = "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		os = "iOS"
	case strings.Contains(ua, "Windows"):
		os = "Windows"
	case strings.Contains(ua, "Mac OS X"):
		os = "macOS"
	case strings.Contains(ua, "Linux"):
		os = "Linux"
	}

	if version != "" {
		return browser + " " + version + " on " + os
	}
	return browser + " on " + os
}

// ClientIP returns the caller address, preferring X-Forwarded-For, then
// X-Real-Ip, then the connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
