package output

import "strings"

// MaxSlugLen is the maximum length of a slug in bytes.
const MaxSlugLen = 120

// Slugify derives a filesystem and URL safe name from title. ASCII letters,
// digits and hyphens are kept (letters lower-cased); every other character
// becomes a hyphen. Leading and trailing hyphens are trimmed, internal runs
// are kept.
func Slugify(title string) string {
	var sb strings.Builder
	sb.Grow(len(title))
	for _, r := range title {
		switch {
		case r >= 'A' && r <= 'Z':
			sb.WriteRune(r + ('a' - 'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('-')
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if len(slug) > MaxSlugLen {
		slug = strings.TrimRight(slug[:MaxSlugLen], "-")
	}
	return slug
}
