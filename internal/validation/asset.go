// Package validation checks references that end up inside rendered HTML.
package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateAssetRef validates a bundle asset reference. Root-relative and
// relative paths are accepted, as are absolute http and https URLs.
func ValidateAssetRef(ref string) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("asset reference cannot be empty")
	}

	// characters that would break out of an HTML attribute
	for _, char := range []string{"\"", "'", "<", ">", "`", "\\", "\n", "\r", " "} {
		if strings.Contains(ref, char) {
			return fmt.Errorf("asset reference contains invalid character %q: %s", char, ref)
		}
	}

	if strings.Contains(ref, "..") {
		return fmt.Errorf("path traversal detected: %s", ref)
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("invalid asset reference: %w", err)
	}

	switch parsed.Scheme {
	case "":
		if strings.HasPrefix(ref, "//") {
			return fmt.Errorf("protocol-relative asset reference not allowed: %s", ref)
		}
	case "http", "https":
		if parsed.Host == "" {
			return fmt.Errorf("asset URL must have a host: %s", ref)
		}
	default:
		return fmt.Errorf("invalid asset scheme %q (only http/https allowed)", parsed.Scheme)
	}

	return nil
}
