package delivery

import (
	"regexp"
	"strings"
)

// MaxExcerpt is the number of characters of a backend log shown to users.
const MaxExcerpt = 1800

// banner matches the first "!"-led block of a TeX log, up to the next "!" line.
var banner = regexp.MustCompile(`(?ms)^\*?!.*?^!`)

// ErrorExcerpt picks the part of a backend log worth showing: the first banner
// block with its markers stripped, or the whole log, cut to MaxExcerpt runes.
func ErrorExcerpt(log string) string {
	excerpt := log
	if m := banner.FindString(log + "\n!"); m != "" {
		excerpt = strings.Trim(m, "!\n")
	}
	if r := []rune(excerpt); len(r) > MaxExcerpt {
		excerpt = string(r[:MaxExcerpt])
	}
	return excerpt
}
