package parsers

import (
	"strings"
	"unicode"

	"github.com/haukened/rr-pulse/internal/pulse/common/utils"
)

// isValidHostname reports whether name is a plausible blocklist hostname:
// at most 253 characters, two or more labels of 1..63 characters, each made of
// letters, digits, '-' or '_', and not starting or ending with '-'.
func isValidHostname(name string) bool {
	if len(name) == 0 || len(name) > 253 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !isHostRune(r) {
				return false
			}
		}
	}
	return true
}

func isHostRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_'
}

// normalizeDomainName trims whitespace and a leading "*." or "." marker; every
// blocklist entry already covers its subdomains.
func normalizeDomainName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "*.")
	name = strings.TrimPrefix(name, ".")
	return utils.CanonicalHost(name)
}

func stripLineBOM(line string) string {
	return strings.TrimPrefix(line, "\uFEFF")
}

// classifyLine reports whether a line is blank or a whole-line comment
// introduced by any of the given markers.
func classifyLine(line string, markers ...string) (isEmpty, isComment bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true, false
	}
	for _, m := range markers {
		if strings.HasPrefix(trimmed, m) {
			return false, true
		}
	}
	return false, false
}

func stripInlineComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}
