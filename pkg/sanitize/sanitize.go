// Package sanitize produces filesystem-safe names from user-facing map
// and archive titles.
package sanitize

import "strings"

// Name converts a map display name into a directory-safe name. Spaces
// become underscores and characters with structural meaning to any
// filesystem or shell are dropped. The result is never empty.
func Name(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	for _, r := range name {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r < 0x20 || r == 0x7f:
			// control characters
		case strings.ContainsRune(`/\?:*"<>|-#`, r):
			// structurally dangerous
		default:
			b.WriteRune(r)
		}
	}

	out := b.String()
	if out == "" {
		return "map"
	}
	return out
}

// FileName strips control and path-special characters from an archive
// file name while preserving ordinary punctuation. The result is never
// empty.
func FileName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
		case strings.ContainsRune(`/\?:*"<>|`, r):
		default:
			b.WriteRune(r)
		}
	}

	out := b.String()
	if out == "" {
		return "archive"
	}
	return out
}
