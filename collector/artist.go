package collector

import "strings"

// SplitArtists splits a single raw artist value on the first delimiter that
// yields more than one name. Inputs that are already split (len != 1) are
// returned unchanged, and so is a value no delimiter can split. A blank
// value yields no names.
func SplitArtists(artists []string, delimiters, exclusions []string) []string {
	if len(artists) != 1 {
		return artists
	}
	raw := artists[0]
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}

	for _, delimiter := range delimiters {
		if delimiter == "" {
			continue
		}
		if parts := splitWithExclusions(raw, delimiter, exclusions); len(parts) > 1 {
			return parts
		}
	}
	return artists
}

// splitWithExclusions scans s once. An exclusion matching at the scan
// position is emitted whole as its own token; otherwise a delimiter match
// ends the current token. Tokens are trimmed and empty ones dropped.
func splitWithExclusions(s, delimiter string, exclusions []string) []string {
	var parts []string
	var buf strings.Builder

	emit := func(token string) {
		if token = strings.TrimSpace(token); token != "" {
			parts = append(parts, token)
		}
	}

	for i := 0; i < len(s); {
		if ex := matchExclusion(s[i:], exclusions); ex != "" {
			emit(buf.String())
			buf.Reset()
			emit(ex)
			i += len(ex)
			continue
		}
		if strings.HasPrefix(s[i:], delimiter) {
			emit(buf.String())
			buf.Reset()
			i += len(delimiter)
			continue
		}
		buf.WriteByte(s[i])
		i++
	}
	emit(buf.String())

	return parts
}

// matchExclusion returns the longest exclusion that prefixes s; ties go to
// the one listed first.
func matchExclusion(s string, exclusions []string) string {
	best := ""
	for _, ex := range exclusions {
		if len(ex) > len(best) && strings.HasPrefix(s, ex) {
			best = ex
		}
	}
	return best
}
