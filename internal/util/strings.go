package util

import "strings"

func AsPtr[T any](v T) *T {
	return &v
}

// SanitizeKey reduces an interpolated cache key to a form that is safe to
// use as a directory name.
func SanitizeKey(s string) string {
	var builder strings.Builder
	for _, r := range s {
		switch {
		case 'a' <= r && r <= 'z',
			'A' <= r && r <= 'Z',
			'0' <= r && r <= '9',
			r == '-' || r == '_' || r == '.':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	return builder.String()
}
