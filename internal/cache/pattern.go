package cache

import (
	"regexp"
	"strings"
)

// globToRegexp compiles a glob pattern (*, ?, [...]) into an anchored
// regular expression.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch ch {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			end := strings.IndexByte(pattern[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i += end + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// globToLike translates a glob pattern into a LIKE pattern using backslash as
// the escape character. Character classes have no LIKE equivalent and are
// widened to a single-character wildcard, so the result may match a superset.
func globToLike(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch ch {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '[':
			if end := strings.IndexByte(pattern[i+1:], ']'); end >= 0 {
				b.WriteByte('_')
				i += end + 1
				continue
			}
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// hasClass reports whether pattern uses a [...] character class.
func hasClass(pattern string) bool {
	i := strings.IndexByte(pattern, '[')
	return i >= 0 && strings.IndexByte(pattern[i:], ']') > 0
}
