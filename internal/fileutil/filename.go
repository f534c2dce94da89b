// Package fileutil provides recording file utilities: safe filenames,
// per-session directories and sidecar metadata.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// SanitizeForFilename sanitizes a string for safe use in filenames.
func SanitizeForFilename(input string) string {
	if input == "" {
		return "Session"
	}

	// Replace illegal filename characters with underscores
	// Illegal chars: / \ : * ? " < > |
	illegalChars := regexp.MustCompile(`[\/\\:*?"<>|]`)
	sanitized := illegalChars.ReplaceAllString(input, "_")

	// Replace multiple spaces/underscores with single hyphen
	whitespace := regexp.MustCompile(`[\s_]+`)
	sanitized = whitespace.ReplaceAllString(sanitized, "-")

	// Remove leading/trailing hyphens
	sanitized = strings.Trim(sanitized, "-")

	// Limit length to 50 characters for reasonable filenames
	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
		sanitized = strings.TrimRight(sanitized, "-")
	}

	// Fallback if sanitization resulted in empty string
	if sanitized == "" {
		return "Session"
	}

	return sanitized
}

// EnsureSessionDir creates (if needed) and returns the per-session recording
// directory baseDir/<sessionID>. The session id is collision resistant by
// construction, so an existing directory is reused, not an error.
func EnsureSessionDir(baseDir, sessionID string) (string, error) {
	dir := filepath.Join(baseDir, SanitizeForFilename(sessionID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create session directory %s: %w", dir, err)
	}
	return dir, nil
}
