package slack

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/slack-go/slack"

	"github.com/tbourn/chat-bridge/internal/domain"
)

const (
	headerTimestamp = "X-Slack-Request-Timestamp"
	headerSignature = "X-Slack-Signature"

	// DefaultMaxSkew is the replay window Slack recommends.
	DefaultMaxSkew = 5 * time.Minute
)

// Verifier authenticates Events API deliveries: the request timestamp must
// be within MaxSkew of the local clock and the v0 HMAC-SHA256 signature over
// "v0:{timestamp}:{body}" must match the signing secret.
type Verifier struct {
	secret  string
	MaxSkew time.Duration
	now     func() time.Time
}

// NewVerifier returns a Verifier for the app signing secret. A non-positive
// maxSkew selects DefaultMaxSkew.
func NewVerifier(secret string, maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Verifier{secret: secret, MaxSkew: maxSkew, now: time.Now}
}

// Verify checks header and body. Every failure wraps domain.ErrAuthenticity.
func (v *Verifier) Verify(header http.Header, body []byte) error {
	if v.secret == "" {
		return fmt.Errorf("%w: signing secret not configured", domain.ErrAuthenticity)
	}
	raw := header.Get(headerTimestamp)
	if raw == "" || header.Get(headerSignature) == "" {
		return fmt.Errorf("%w: missing signature headers", domain.ErrAuthenticity)
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", domain.ErrAuthenticity, raw)
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.MaxSkew {
		return fmt.Errorf("%w: timestamp outside %s window", domain.ErrAuthenticity, v.MaxSkew)
	}

	sv, err := slack.NewSecretsVerifier(header, v.secret)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuthenticity, err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuthenticity, err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuthenticity, err)
	}
	return nil
}
