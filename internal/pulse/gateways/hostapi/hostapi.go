// Package hostapi exposes the engine hooks to an out-of-process browsing host
// over local HTTP. The host calls the hook endpoints for every request and
// treats any transport failure as an allow.
package hostapi

import (
	"net/http"
	"time"

	"github.com/haukened/rr-pulse/internal/pulse/domain"
	"github.com/haukened/rr-pulse/internal/pulse/services/engine"
)

// Hooks is the engine surface served by the API.
type Hooks interface {
	OnBeforeRequest(req domain.RequestContext) engine.RequestResult
	OnBeforeSendHeaders(h http.Header) http.Header
	OnResponseBody(requestID, encoding string, body []byte) []byte
	SetEnabled(enabled bool)
	Enabled() bool
	Stats() domain.Stats
	ResetStats()
	Subscribe(buffer int) (<-chan domain.Stats, func())
	Snapshot() *domain.RuleSnapshot
}

// Whitelist edits the user whitelist.
type Whitelist interface {
	Add(input string) (string, bool, error)
	Remove(input string) (string, bool, error)
	List() []string
}

// Recorder receives transport-level metrics.
type Recorder interface {
	ObserveHTTP(method, path string, status int, elapsed time.Duration)
	ObserveEnabled(enabled bool)
	StreamConnected()
	StreamDisconnected()
}

type nopRecorder struct{}

func (nopRecorder) ObserveHTTP(string, string, int, time.Duration) {}
func (nopRecorder) ObserveEnabled(bool)                            {}
func (nopRecorder) StreamConnected()                               {}
func (nopRecorder) StreamDisconnected()                            {}

var _ Hooks = (*engine.Engine)(nil)
