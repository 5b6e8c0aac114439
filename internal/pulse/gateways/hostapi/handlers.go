package hostapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/haukened/rr-pulse/internal/pulse/domain"
)

type beforeRequestBody struct {
	RequestID    string `json:"requestId"`
	URL          string `json:"url"`
	Referrer     string `json:"referrer"`
	ResourceType string `json:"resourceType"`
}

type decisionBody struct {
	Kind        string `json:"kind"`
	Reason      string `json:"reason"`
	RedirectURL string `json:"redirectURL,omitempty"`
	RewriterID  string `json:"rewriterId,omitempty"`
	MatchedRule string `json:"matchedRule,omitempty"`
	Tracker     bool   `json:"tracker,omitempty"`
}

// beforeRequestResponse carries both the tagged decision and the flat
// cancel/redirectURL pair a webRequest listener returns verbatim.
type beforeRequestResponse struct {
	RequestID   string       `json:"requestId"`
	Cancel      bool         `json:"cancel,omitempty"`
	RedirectURL string       `json:"redirectURL,omitempty"`
	Decision    decisionBody `json:"decision"`
}

type headersBody struct {
	RequestHeaders map[string]string `json:"requestHeaders"`
}

type stateBody struct {
	Enabled *bool  `json:"enabled"`
	Domain  string `json:"domain"`
}

type stateResponse struct {
	Enabled     bool   `json:"enabled"`
	Whitelisted string `json:"whitelisted,omitempty"`
	Persisted   *bool  `json:"persisted,omitempty"`
}

type whitelistBody struct {
	Domain string `json:"domain"`
}

type whitelistChange struct {
	Domain    string `json:"domain"`
	Changed   bool   `json:"changed"`
	Persisted bool   `json:"persisted"`
}

type errorBody struct {
	Error string `json:"error"`
}

func toDecisionBody(d domain.Decision) decisionBody {
	return decisionBody{
		Kind:        d.Kind.String(),
		Reason:      d.Reason.String(),
		RedirectURL: d.TargetURL,
		RewriterID:  d.RewriterID,
		MatchedRule: d.MatchedRule,
		Tracker:     d.Tracker,
	}
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok", "enabled": s.hooks.Enabled()}
	if snap := s.hooks.Snapshot(); snap != nil {
		rs := snap.Rules()
		resp["generation"] = snap.Generation()
		resp["blocklist"] = len(rs.Blocks)
		resp["patterns"] = rs.ActivePatterns()
		resp["telemetry"] = len(rs.Telemetry)
		resp["whitelist"] = len(snap.Whitelist())
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) beforeRequest(c *gin.Context) {
	var body beforeRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	rt, err := domain.ParseResourceType(body.ResourceType)
	if err != nil {
		s.logger.Debug(map[string]any{"resource_type": body.ResourceType}, "unknown_resource_type")
	}

	res := s.hooks.OnBeforeRequest(domain.RequestContext{
		RequestID:    body.RequestID,
		URL:          body.URL,
		ReferrerURL:  body.Referrer,
		ResourceType: rt,
	})

	resp := beforeRequestResponse{RequestID: res.RequestID, Decision: toDecisionBody(res.Decision)}
	switch res.Decision.Kind {
	case domain.DecisionBlock:
		resp.Cancel = true
	case domain.DecisionRedirect:
		resp.RedirectURL = res.Decision.TargetURL
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) beforeSendHeaders(c *gin.Context) {
	var body headersBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	in := make(http.Header, len(body.RequestHeaders))
	for k, v := range body.RequestHeaders {
		in.Set(k, v)
	}
	out := s.hooks.OnBeforeSendHeaders(in)

	headers := make(map[string]string, len(out))
	for k, v := range out {
		headers[k] = strings.Join(v, ", ")
	}
	c.JSON(http.StatusOK, headersBody{RequestHeaders: headers})
}

func (s *Server) responseBody(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxRequest))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorBody{Error: err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	encoding := c.GetHeader("Content-Encoding")
	out := s.hooks.OnResponseBody(c.Param("requestId"), encoding, raw)
	if encoding != "" {
		c.Header("Content-Encoding", encoding)
	}
	c.Data(http.StatusOK, "application/octet-stream", out)
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, stateResponse{Enabled: s.hooks.Enabled()})
}

// putState toggles filtering. Disabling with a domain also whitelists that
// domain so it stays exempt once filtering is switched back on.
func (s *Server) putState(c *gin.Context) {
	var body stateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if body.Enabled == nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "enabled is required"})
		return
	}

	s.hooks.SetEnabled(*body.Enabled)
	s.recorder.ObserveEnabled(*body.Enabled)
	resp := stateResponse{Enabled: s.hooks.Enabled()}

	if !*body.Enabled && body.Domain != "" && s.whitelist != nil {
		host, _, err := s.whitelist.Add(body.Domain)
		switch {
		case errors.Is(err, domain.ErrInvalidDomain):
			s.logger.Debug(map[string]any{"domain": body.Domain}, "toggle_domain_ignored")
		default:
			persisted := err == nil
			if !persisted {
				s.logger.Error(map[string]any{"domain": host, "error": err.Error()}, "whitelist_persist_failed")
			}
			resp.Whitelisted = host
			resp.Persisted = &persisted
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.hooks.Stats())
}

func (s *Server) resetStats(c *gin.Context) {
	s.hooks.ResetStats()
	c.JSON(http.StatusOK, s.hooks.Stats())
}

func (s *Server) listWhitelist(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"domains": s.whitelist.List()})
}

func (s *Server) addWhitelist(c *gin.Context) {
	var body whitelistBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	host, added, err := s.whitelist.Add(body.Domain)
	s.writeWhitelistChange(c, host, added, err)
}

func (s *Server) removeWhitelist(c *gin.Context) {
	host, removed, err := s.whitelist.Remove(c.Param("domain"))
	s.writeWhitelistChange(c, host, removed, err)
}

// writeWhitelistChange reports a persistence failure as success with
// persisted=false: the change is already active in memory.
func (s *Server) writeWhitelistChange(c *gin.Context, host string, changed bool, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, whitelistChange{Domain: host, Changed: changed, Persisted: true})
	case errors.Is(err, domain.ErrInvalidDomain):
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		s.logger.Error(map[string]any{"domain": host, "error": err.Error()}, "whitelist_persist_failed")
		c.JSON(http.StatusOK, whitelistChange{Domain: host, Changed: changed, Persisted: false})
	}
}
