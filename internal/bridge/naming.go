package bridge

import "strings"

// MaxNameLength bounds translated property names, terminator included.
const MaxNameLength = 128

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
func isLower(c byte) bool { return c >= 'a' && c <= 'z' }

// Uncamelize translates a script name to its native form: a leading capital
// is lowercased and every later capital becomes '-' plus its lowercase. The
// result is truncated to MaxNameLength-1 bytes.
func Uncamelize(name string) string {
	var b strings.Builder
	limit := MaxNameLength - 1
	for i := 0; i < len(name) && b.Len() < limit; i++ {
		c := name[i]
		if !isUpper(c) {
			b.WriteByte(c)
			continue
		}
		if i > 0 {
			if b.Len()+2 > limit {
				break
			}
			b.WriteByte('-')
		}
		b.WriteByte(c + ('a' - 'A'))
	}
	return b.String()
}

// Camelize translates a native name to its script form: each '-' followed
// by a lowercase letter is dropped and the letter capitalized. Underscores
// are kept, since Uncamelize could not restore them.
func Camelize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '-' && i+1 < len(name) && isLower(name[i+1]) {
			i++
			b.WriteByte(name[i] - ('a' - 'A'))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
