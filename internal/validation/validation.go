// Package validation holds the small set of format checks the runtime
// needs before trusting an identifier or a path fragment supplied by an
// HTTP caller or a user tool script.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	jobIDRegex = regexp.MustCompile(`^[0-9a-f]{8}$`)
	safePathRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// ValidateUUID checks that id looks like a standard UUID.
func ValidateUUID(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if !uuidRegex.MatchString(id) {
		return fmt.Errorf("invalid UUID format: %s", id)
	}
	return nil
}

// ValidateJobID checks the 8-hex-character background job id format.
func ValidateJobID(id string) error {
	if !jobIDRegex.MatchString(id) {
		return fmt.Errorf("invalid job id format: %s", id)
	}
	return nil
}

// roundFileRegex matches a history file basename, round-NNNNN.json.
var roundFileRegex = regexp.MustCompile(`^round-(\d{5})\.json$`)

// ParseRoundFilename reports whether name matches round-NNNNN.json and,
// if so, returns its round number.
func ParseRoundFilename(name string) (int, bool) {
	m := roundFileRegex.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n := 0
	for _, c := range m[1] {
		n = n*10 + int(c-'0')
	}
	return n, true
}

// SanitizeRelPath rejects path traversal and absolute paths so that a
// tool script cannot escape the workspace root via read_file/write_file.
func SanitizeRelPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal detected: %s", path)
	}
	if strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}

	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		if !safePathRegex.MatchString(part) {
			return "", fmt.Errorf("unsafe path component: %s", part)
		}
	}
	return path, nil
}
