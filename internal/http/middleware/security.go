// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders. The bridge serves JSON only, so the
// header set is the API-relevant subset: no CSP, no template concerns.
// Management responses list connections and channels and are marked
// no-store in the router.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	exposeHeadersHeader = "Access-Control-Expose-Headers"
	defaultHSTSMaxAge   = 180 * 24 * time.Hour
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security on HTTPS requests. Only
	// turn it on when the proxy-to-app hop is TLS as well.
	EnableHSTS bool
	// HSTSMaxAge defaults to 180 days.
	HSTSMaxAge time.Duration
	// NoStore adds Cache-Control: no-store plus the legacy Pragma/Expires.
	NoStore bool
	// EnablePolicy adds Permissions-Policy and
	// X-Permitted-Cross-Domain-Policies.
	EnablePolicy bool
}

type headerPair struct{ key, value string }

var (
	baselineHeaders = []headerPair{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Referrer-Policy", "no-referrer"},
	}
	policyHeaders = []headerPair{
		{"Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()"},
		{"X-Permitted-Cross-Domain-Policies", "none"},
	}
	noStoreHeaders = []headerPair{
		{"Cache-Control", "no-store"},
		{"Pragma", "no-cache"},
		{"Expires", "0"},
	}
)

// SecurityHeaders returns a Gin middleware that sets hardening headers before
// the handler runs. When a request id is already on the response it is added
// to Access-Control-Expose-Headers so browser clients can quote it in bug
// reports.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		set := func(pairs []headerPair) {
			for _, p := range pairs {
				h.Set(p.key, p.value)
			}
		}
		set(baselineHeaders)
		if opt.EnablePolicy {
			set(policyHeaders)
		}
		if opt.NoStore {
			set(noStoreHeaders)
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		if h.Get(requestIDHeader) != "" {
			exposeHeader(h, requestIDHeader)
		}

		c.Next()
	}
}

// exposeHeader appends name to Access-Control-Expose-Headers unless it is
// already listed.
func exposeHeader(h http.Header, name string) {
	cur := h.Get(exposeHeadersHeader)
	if cur == "" {
		h.Set(exposeHeadersHeader, name)
		return
	}
	for _, part := range strings.Split(cur, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(exposeHeadersHeader, cur+", "+name)
}

// isHTTPS reports whether r arrived over TLS directly or through a proxy
// that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
