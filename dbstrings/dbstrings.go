// Package dbstrings provides string helpers for names that end up in SQL
// statements or in dependency records.
package dbstrings

import "strings"

// IsIdentifier reports whether s is a plain SQL identifier: a letter or
// underscore followed by letters, digits or underscores.
// Examples:
//
//	"idBiaya" -> true
//	"created_at" -> true
//	"2fa" -> false
//	"nama; DROP" -> false
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// ToLowerCamel converts a PascalCase string to lowerCamelCase.
// Examples:
//
//	"Logger" -> "logger"
//	"UserID" -> "userID"
//	"ID" -> "iD"
func ToLowerCamel(s string) string {
	if len(s) == 0 {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
