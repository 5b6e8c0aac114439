package parsers

import (
	"bufio"
	"io"
	"strings"

	logpkg "github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/domain"
)

// ParseABPList extracts domain anchors ("||tracker.example^") from Adblock
// Plus style filter lists such as EasyPrivacy. Every other rule kind is
// skipped: exceptions, cosmetic filters, path or wildcard filters, and
// anchors whose options narrow the match beyond third-party requests.
func ParseABPList(r io.Reader, source string, tracker bool, logger logpkg.Logger) ([]domain.BlockEntry, error) {
	scanner := bufio.NewScanner(r)

	seen := make(map[string]struct{})
	out := make([]domain.BlockEntry, 0, 256)
	logger.Debug(map[string]any{"source": source}, "parse_abp_start")

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(stripLineBOM(scanner.Text()))
		if skipABPLine(line) {
			continue
		}

		name, ok := abpAnchorDomain(line)
		if !ok {
			logger.Debug(map[string]any{"line": lineNum, "raw": line}, "abp_skip_unsupported")
			continue
		}
		name = normalizeDomainName(name)
		if !isValidHostname(name) {
			logger.Debug(map[string]any{"line": lineNum, "name": name}, "abp_skip_invalid_hostname")
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}

		entry, err := domain.NewBlockEntry(name, tracker, source)
		if err != nil {
			logger.Debug(map[string]any{"line": lineNum, "name": name, "error": err.Error()}, "abp_skip_constructor_error")
			continue
		}
		out = append(out, entry)
		seen[name] = struct{}{}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err.Error()}, "parse_abp_scan_error")
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_abp_done")
	return out, nil
}

// skipABPLine drops blanks, comments, section headers, exceptions and cosmetic rules.
func skipABPLine(line string) bool {
	switch {
	case line == "":
		return true
	case strings.HasPrefix(line, "!"), strings.HasPrefix(line, "["):
		return true
	case strings.HasPrefix(line, "@@"):
		return true
	case strings.Contains(line, "##"), strings.Contains(line, "#@#"), strings.Contains(line, "#?#"), strings.Contains(line, "#%#"):
		return true
	}
	return false
}

// abpAnchorDomain returns the domain of a "||domain^" rule. Options after '$'
// are accepted only when they are absent or restrict the rule to third-party requests.
func abpAnchorDomain(line string) (string, bool) {
	if !strings.HasPrefix(line, "||") {
		return "", false
	}
	rest := line[2:]
	caret := strings.IndexByte(rest, '^')
	if caret <= 0 {
		return "", false
	}
	name, tail := rest[:caret], rest[caret+1:]
	if strings.ContainsAny(name, "/*$|") {
		return "", false
	}
	if tail == "" || tail == "|" {
		return name, true
	}
	if !strings.HasPrefix(tail, "$") {
		return "", false
	}
	for _, opt := range strings.Split(tail[1:], ",") {
		switch strings.TrimSpace(opt) {
		case "third-party", "3p":
		default:
			return "", false
		}
	}
	return name, true
}
