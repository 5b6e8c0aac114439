package parsers

import (
	"bufio"
	"io"
	"strings"

	logpkg "github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/domain"
)

// localHostnames appear in most hosts files and must never become block entries.
var localHostnames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"local":                 {},
	"broadcasthost":         {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
	"0.0.0.0":               {},
}

// ParseHostsFile parses /etc/hosts-style block lists ("0.0.0.0 ads.example.com").
//
// Rules:
// - Ignore the IP field; extract every hostname following it
// - Skip comments (whole-line or inline after '#') and blank lines
// - Skip wildcard tokens, names starting with '.', and local hostnames
// - De-duplicate by canonical name, preserving first-seen order
func ParseHostsFile(r io.Reader, source string, tracker bool, logger logpkg.Logger) ([]domain.BlockEntry, error) {
	scanner := bufio.NewScanner(r)

	seen := make(map[string]struct{})
	out := make([]domain.BlockEntry, 0, 256)

	logger.Debug(map[string]any{"source": source}, "parse_hosts_start")

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripLineBOM(scanner.Text())

		if isEmpty, isComment := classifyLine(line, "#"); isEmpty || isComment {
			continue
		}

		fields := strings.Fields(stripInlineComment(line))
		if len(fields) < 2 {
			logger.Debug(map[string]any{"line": lineNum}, "hosts_no_hostnames")
			continue
		}

		for _, raw := range fields[1:] {
			if strings.HasPrefix(raw, ".") || strings.Contains(raw, "*") {
				logger.Debug(map[string]any{"line": lineNum, "raw": raw}, "hosts_skip_invalid_token")
				continue
			}
			name := normalizeDomainName(raw)
			if _, local := localHostnames[name]; local {
				continue
			}
			if !isValidHostname(name) {
				logger.Debug(map[string]any{"line": lineNum, "name": name}, "hosts_skip_invalid_hostname")
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}

			entry, err := domain.NewBlockEntry(name, tracker, source)
			if err != nil {
				logger.Debug(map[string]any{"line": lineNum, "name": name, "error": err.Error()}, "hosts_skip_constructor_error")
				continue
			}
			out = append(out, entry)
			seen[name] = struct{}{}
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err.Error()}, "parse_hosts_scan_error")
		return nil, err
	}

	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_hosts_done")
	return out, nil
}
