package domain

import (
	"fmt"
	"strings"
)

// ResourceType is the host-reported type of a network request (mirrors the
// browser webRequest resource types).
type ResourceType uint8

const (
	ResourceOther ResourceType = iota
	ResourceMainFrame
	ResourceSubFrame
	ResourceStylesheet
	ResourceScript
	ResourceImage
	ResourceFont
	ResourceXHR
	ResourcePing
	ResourceMedia
	ResourceWebSocket
)

var resourceTypeNames = [...]string{
	ResourceOther:      "other",
	ResourceMainFrame:  "mainFrame",
	ResourceSubFrame:   "subFrame",
	ResourceStylesheet: "stylesheet",
	ResourceScript:     "script",
	ResourceImage:      "image",
	ResourceFont:       "font",
	ResourceXHR:        "xhr",
	ResourcePing:       "ping",
	ResourceMedia:      "media",
	ResourceWebSocket:  "webSocket",
}

// String returns the webRequest-style name of the resource type.
func (t ResourceType) String() string {
	if int(t) < len(resourceTypeNames) {
		return resourceTypeNames[t]
	}
	return fmt.Sprintf("ResourceType(%d)", t)
}

// ParseResourceType converts a host-provided name into a ResourceType.
// Matching is case-insensitive and accepts both "mainFrame" and "main_frame"
// spellings. Unknown names map to ResourceOther with an error so callers can
// decide whether to log; classification never fails on an unknown type.
func ParseResourceType(s string) (ResourceType, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	if key == "" {
		return ResourceOther, nil
	}
	for i, name := range resourceTypeNames {
		if strings.ToLower(name) == key {
			return ResourceType(i), nil
		}
	}
	switch key {
	case "xmlhttprequest", "fetch":
		return ResourceXHR, nil
	case "beacon", "cspreport":
		return ResourcePing, nil
	}
	return ResourceOther, fmt.Errorf("unsupported ResourceType: %q", s)
}

// RequestContext describes one outbound request as seen by the host.
// It is created per request and discarded after the decision.
type RequestContext struct {
	RequestID    string
	URL          string
	ReferrerURL  string // empty when the host sent no referrer
	ResourceType ResourceType
}

// HasReferrer reports whether the host supplied a referrer.
func (r RequestContext) HasReferrer() bool {
	return strings.TrimSpace(r.ReferrerURL) != ""
}
