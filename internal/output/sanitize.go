package output

import "strings"

var sanitizer = strings.NewReplacer("#", "", "%", "", "_", " ")

// Sanitize turns a working file name into a display name: '#' and '%' are
// removed and '_' becomes a space. Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(name string) string {
	return sanitizer.Replace(name)
}
