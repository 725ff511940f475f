package relayserver

import (
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// normalizeOrigin validates a browser Origin header. It returns the origin as
// scheme://host[:port] with default ports dropped, plus the host[:port] part.
// The opaque origin "null" is returned as-is.
func normalizeOrigin(header string) (normalized, host string, ok bool) {
	trimmed := strings.TrimSpace(header)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

func canonicalHost(authority, scheme string) (string, bool) {
	authority = strings.ToLower(strings.TrimSpace(authority))
	if authority == "" || strings.HasSuffix(authority, ":") {
		return "", false
	}
	u := url.URL{Host: authority}
	hostname := u.Hostname()
	if hostname == "" {
		return "", false
	}
	// Unbracketed IPv6 is not a valid authority.
	if strings.Contains(hostname, ":") && !strings.HasPrefix(authority, "[") {
		return "", false
	}

	port := u.Port()
	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = strconv.FormatUint(n, 10)
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		}
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return host, true
}

// originAllowed applies the allow-list, or same-host when the list is empty.
// The scheme is not compared for same-host checks because the relay usually
// sits behind a TLS-terminating proxy.
func originAllowed(normalized, originHost, requestHost string, allowed []string) bool {
	if len(allowed) > 0 {
		return slices.Contains(allowed, "*") || slices.Contains(allowed, normalized)
	}
	scheme, _, found := strings.Cut(normalized, "://")
	if !found || (scheme != "http" && scheme != "https") {
		return false
	}
	reqHost, ok := canonicalHost(requestHost, scheme)
	return ok && reqHost == originHost
}

// checkOrigin is the websocket.Upgrader hook. Non-browser clients send no
// Origin and are admitted.
func (s *Server) checkOrigin(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		return true
	}
	normalized, host, ok := normalizeOrigin(header)
	return ok && originAllowed(normalized, host, r.Host, s.cfg.AllowedOrigins)
}

// originFilter rejects disallowed browser origins and answers CORS
// preflights for the HTTP endpoints.
func (s *Server) originFilter() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Origin"))
		if header == "" {
			c.Next()
			return
		}
		normalized, host, ok := normalizeOrigin(header)
		if !ok || !originAllowed(normalized, host, c.Request.Host, s.cfg.AllowedOrigins) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}

		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", normalized)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")

		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET,OPTIONS")
			if reqHeaders := strings.TrimSpace(c.GetHeader("Access-Control-Request-Headers")); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
