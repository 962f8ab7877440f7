package outline

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// separatorRowRegex matches rows of dots, bullets, underscores or dashes.
	separatorRowRegex = regexp.MustCompile(`^[.\x{2022}\x{00B7}_\x{2014}\x{2013}-]{3,}$`)
	// numericCellRegex matches cells holding only numbers, dates or ranges.
	numericCellRegex = regexp.MustCompile(`^[0-9./-]+$`)
)

// IsNoise reports whether text looks like a table or form fragment rather
// than prose. It deliberately errs on the side of rejecting short headings.
func IsNoise(cfg Config, text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}
	if separatorRowRegex.MatchString(t) {
		return true
	}
	if numericCellRegex.MatchString(t) {
		return true
	}
	if utf8.RuneCountInString(t) <= cfg.NoiseMaxChars {
		return true
	}
	words := strings.Fields(t)
	if len(words) <= cfg.NoiseMaxWords {
		for _, w := range words {
			if utf8.RuneCountInString(w) > cfg.NoiseMaxWordLen {
				return false
			}
		}
		return true
	}
	return false
}
