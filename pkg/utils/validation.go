// Package utils provides utility functions for the x402 registry services.
// This package contains URL validation and normalization helpers plus small
// encoding conveniences shared by the other packages.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// categoryNameRegex validates registry category names. Pattern: lowercase
// letters with single underscores separating groups, e.g. "ai_inference".
var categoryNameRegex = regexp.MustCompile(`^[a-z]+(?:_[a-z]+)*$`)

// IsRegistrableURL checks if the provided URL may be registered as an x402
// endpoint.
//
// Rules:
//   - Must be an absolute https:// URL (plain http is allowed only for
//     hosts explicitly serving on a non-standard port, which keeps local
//     integration setups workable while production endpoints stay TLS-only)
//   - Hostname must be present and must not be localhost or a loopback name
//   - Fragments are not allowed; an endpoint is addressed by path and query
//
// Parameters:
//   - rawURL: The URL string to validate
//
// Returns:
//   - bool: true if the URL may be registered, false otherwise
func IsRegistrableURL(rawURL string) bool {
	if strings.TrimSpace(rawURL) == "" {
		return false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	switch parsed.Scheme {
	case "https":
		// Always acceptable.
	case "http":
		// Only with an explicit non-standard port.
		if parsed.Port() == "" || parsed.Port() == "80" {
			return false
		}
	default:
		return false
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" || host == "localhost" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return false
	}

	if parsed.Fragment != "" {
		return false
	}

	return true
}

// IsValidCategoryName checks if the provided category name is valid.
//
// Rules:
//   - Must be between 1-50 characters total
//   - Lowercase letters only, with underscores separating groups
//     (no leading, trailing, or consecutive underscores)
//
// Examples:
//   - Valid: "ai_inference", "weather", "text_to_speech"
//   - Invalid: "AI", "ai__inference", "_ai", "ai_"
func IsValidCategoryName(name string) bool {
	if len(name) < 1 || len(name) > 50 {
		return false
	}

	return categoryNameRegex.MatchString(name)
}

// NormalizeURL canonicalizes a URL so that equivalent spellings map to the
// same registry uniqueness key.
//
// Normalization steps:
//   - scheme and host are lowercased
//   - default ports (443 for https, 80 for http) are stripped
//   - the fragment is dropped
//   - a trailing slash on a non-root path is removed
//   - an empty path becomes "/"
//
// Returns the input unchanged when it cannot be parsed; the validation in
// IsRegistrableURL is expected to have rejected such input already.
func NormalizeURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Fragment = ""

	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()
	if (parsed.Scheme == "https" && port == "443") || (parsed.Scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		parsed.Host = host + ":" + port
	} else {
		parsed.Host = host
	}

	if parsed.Path == "" {
		parsed.Path = "/"
	} else if parsed.Path != "/" {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}

	return parsed.String()
}

// URLHash returns the hex-encoded sha256 of the normalized URL. This is the
// registry's uniqueness key for an endpoint.
func URLHash(rawURL string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(rawURL)))
	return hex.EncodeToString(sum[:])
}
