package logger

import (
	"log/slog"
	"net"
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username := parts[0]
	domain := parts[1]

	// Mask username: keep first char, mask rest
	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	// Mask domain: keep TLD, mask the rest
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// MaskIdentity masks a user identifier for logging. Email-shaped identities
// use SanitizedEmail; anything else keeps its first character.
func MaskIdentity(identity string) string {
	if strings.Contains(identity, "@") {
		return SanitizedEmail(identity)
	}
	if len(identity) <= 1 {
		return strings.Repeat("*", len(identity))
	}
	return identity[:1] + strings.Repeat("*", len(identity)-1)
}

// MaskNetworkAddress keeps the network part of an address
// ("203.0.113.10" -> "203.0.x.x", IPv6 keeps the first 4 groups)
func MaskNetworkAddress(address string) string {
	ip := net.ParseIP(address)
	if ip == nil {
		return "[invalid-ip]"
	}

	if v4 := ip.To4(); v4 != nil {
		parts := strings.Split(v4.String(), ".")
		return parts[0] + "." + parts[1] + ".x.x"
	}

	masked := ip.Mask(net.CIDRMask(64, 128))
	return masked.String() + "/64"
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := map[string]bool{
		"password":        true,
		"token":           true,
		"secret":          true,
		"challenge_token": true,
		"user_id":         true,
		"ip_address":      true,
		"email":           true,
		"auth":            true,
	}

	query := strings.ToLower(rawQuery)
	for param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
