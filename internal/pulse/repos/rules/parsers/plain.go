package parsers

import (
	"bufio"
	"io"
	"strings"

	logpkg "github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/domain"
)

// ParsePlainList parses a newline-delimited list of domains into BlockEntry values.
//
// Behavior:
// - Supports comments starting with '#' (inline or whole-line)
// - Accepts and strips a leading "*." or "." marker
// - Skips invalid hostnames, including entries carrying a path such as "yandex.ru/soft"
// - De-duplicates by canonical name while preserving first-seen order
// - Each entry is attributed to source and flagged as a tracker when tracker is set
func ParsePlainList(r io.Reader, source string, tracker bool, logger logpkg.Logger) ([]domain.BlockEntry, error) {
	scanner := bufio.NewScanner(r)

	seen := make(map[string]struct{})
	out := make([]domain.BlockEntry, 0, 256)
	logger.Debug(map[string]any{"source": source}, "parse_plain_list_start")
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripLineBOM(scanner.Text())

		if isEmpty, isComment := classifyLine(line, "#"); isEmpty || isComment {
			continue
		}

		s := strings.TrimSpace(stripInlineComment(line))
		name := normalizeDomainName(s)
		if !isValidHostname(name) {
			logger.Debug(map[string]any{"line": lineNum, "raw": s}, "skip_invalid_hostname")
			continue
		}
		if _, ok := seen[name]; ok {
			logger.Debug(map[string]any{"line": lineNum, "name": name}, "skip_duplicate")
			continue
		}

		entry, err := domain.NewBlockEntry(name, tracker, source)
		if err != nil {
			logger.Debug(map[string]any{"line": lineNum, "name": name, "error": err.Error()}, "skip_constructor_error")
			continue
		}
		out = append(out, entry)
		seen[name] = struct{}{}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err.Error()}, "parse_plain_list_scan_error")
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_plain_list_done")
	return out, nil
}
