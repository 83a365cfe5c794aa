// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger of the bridge. It
// attaches a request-scoped zerolog.Logger (see LoggerFrom) and emits one
// structured line per request with credentials and obvious PII scrubbed.
//
// Never logged:
//   - request or response bodies (Slack deliveries carry message text)
//   - values of credential headers: Authorization, Cookie, Set-Cookie,
//     X-Slack-Signature, plus any configured extras
//
// Redacted from query strings and remaining header values:
//   - Slack tokens (xoxb-, xoxp-, xapp- ...) and bearer JWTs
//   - email addresses, UUIDs and phone-like digit runs
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders lists extra header names whose values are replaced with
// "[REDACTED]". Matching is case-insensitive.
type RedactOptions struct {
	MaskHeaders []string
}

var (
	slackTokenRE = regexp.MustCompile(`\bxox[abposr]-[A-Za-z0-9-]+|\bxapp-[A-Za-z0-9-]+`)
	jwtRE        = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
	uuidRE       = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE      = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so UUID hex segments never match.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// redact scrubs credentials and PII from s. Order matters: tokens and ids
// first, phone (the loosest pattern) last.
func redact(s string) string {
	if s == "" {
		return s
	}
	s = slackTokenRE.ReplaceAllString(s, "[REDACTED:token]")
	s = jwtRE.ReplaceAllString(s, "[REDACTED:token]")
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// RedactingLogger returns a Gin middleware that logs each request with
// sensitive values scrubbed and stores a request-scoped logger under the
// "logger" key. The same logger is attached to the request context so that
// services reached from the handler can use log.Ctx(ctx).
//
// Level: error for 5xx or when handlers recorded gin errors, warn for 4xx,
// info otherwise. The user id is read after the handler chain, so it is
// present once the auth middleware ran.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := map[string]struct{}{
		"authorization":     {},
		"cookie":            {},
		"set-cookie":        {},
		"x-slack-signature": {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		l := log.With().
			Str("request_id", asString(c.Value(requestIDKey))).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &l)
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, masked := maskHeaders[strings.ToLower(k)]; masked {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}
		safeQuery := redact(truncate(c.Request.URL.RawQuery, maxQueryLogLength))

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = l.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = l.Warn()
		}

		ev.
			Ctx(c.Request.Context()).
			Str("user_id", asString(c.Value(userIDKey))).
			Str("remote_ip", c.ClientIP()).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
