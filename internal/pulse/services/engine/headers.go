package engine

import (
	"fmt"
	"net/http"
	"strings"
)

// HeaderOptions controls outgoing request header normalization.
type HeaderOptions struct {
	// UserAgent replaces User-Agent when set.
	UserAgent string
	// ChromeVersion, when set, drives the sec-ch-ua client hints ("133.0.0.0").
	ChromeVersion string
	// DoNotTrack adds "DNT: 1".
	DoNotTrack bool
}

// headers that reveal the embedding shell
var strippedHeaders = []string{"X-Electron-Is-Dev", "X-Electron"}

// NormalizeHeaders returns a copy of h with shell-identifying headers removed
// and the configured browser identity applied. h is not modified.
func NormalizeHeaders(h http.Header, opts HeaderOptions) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}
	for _, name := range strippedHeaders {
		out.Del(name)
	}
	if opts.UserAgent != "" {
		out.Set("User-Agent", opts.UserAgent)
	}
	if v := strings.TrimSpace(opts.ChromeVersion); v != "" {
		major, _, _ := strings.Cut(v, ".")
		out.Set("Sec-Ch-Ua", fmt.Sprintf(`"Chromium";v="%s", "Google Chrome";v="%s", "Not_A Brand";v="24"`, major, major))
		out.Set("Sec-Ch-Ua-Mobile", "?0")
		out.Set("Sec-Ch-Ua-Platform", `"Windows"`)
		out.Set("Sec-Ch-Ua-Full-Version-List", fmt.Sprintf(`"Chromium";v="%s", "Google Chrome";v="%s", "Not_A Brand";v="24.0.0.0"`, v, v))
	}
	if opts.DoNotTrack {
		out.Set("Dnt", "1")
	}
	return out
}
