package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	routeLimit     = 180
	methodLimit    = 10
	principalLimit = 64
	userAgentLimit = 256
)

// clip drops control characters and truncates value to at most limit runes.
func clip(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}

func SanitizeRoute(route string) string {
	if route = clip(route, routeLimit); route == "" {
		return "/"
	}
	return route
}

func SanitizeMethod(method string) string {
	return strings.ToUpper(clip(method, methodLimit))
}

// SanitizeUserID bounds caller identifiers written to logs.
func SanitizeUserID(uid string) string {
	return clip(strings.TrimSpace(uid), principalLimit)
}
