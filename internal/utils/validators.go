package utils

import (
	"unicode"
)

// MaxIdentifierLength bounds session and project ids.
const MaxIdentifierLength = 128

// IsValidIdentifier checks that an externally supplied id (session, project)
// is non-empty, bounded and made of letters, digits and the separators
// '-', '_', '.' and ':'.
func IsValidIdentifier(id string) bool {
	if id == "" || len(id) > MaxIdentifierLength {
		return false
	}
	for _, char := range id {
		switch {
		case char < unicode.MaxASCII && (unicode.IsLetter(char) || unicode.IsDigit(char)):
		case char == '-', char == '_', char == '.', char == ':':
		default:
			return false
		}
	}
	return true
}
