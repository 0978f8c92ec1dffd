package utils

import (
	"fmt"
	"regexp"
	"strings"
)

const maxIdentifierLength = 128

var (
	identifierRegex   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]*$`)
	controlCharsRegex = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// ValidateIdentifier checks an entity id or actor id supplied by a client
func ValidateIdentifier(kind, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", kind)
	}
	if len(value) > maxIdentifierLength {
		return fmt.Errorf("%s exceeds %d characters", kind, maxIdentifierLength)
	}
	if !identifierRegex.MatchString(value) {
		return fmt.Errorf("invalid %s format: %s", kind, SanitizeString(value))
	}
	return nil
}

// SanitizeString removes control characters and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(controlCharsRegex.ReplaceAllString(s, ""))
}
