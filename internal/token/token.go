package token

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidCode is returned for any scanned string that does not match the
// product's QR URL shape. Callers must not proceed to a status lookup.
var ErrInvalidCode = errors.New("invalid_code")

// MinLength is the shortest token embossed on a wristband.
const MinLength = 4

// Codec turns scanned QR payloads into wristband tokens. It accepts only
// absolute URLs of the form https://<domain>/t/<token>.
type Codec struct {
	domain string
}

// NewCodec creates a codec bound to the product domain
func NewCodec(domain string) *Codec {
	return &Codec{domain: domain}
}

// Parse extracts the token from a scanned QR payload. The host must equal
// the product domain exactly, the path must be exactly /t/<token>, and the
// token must be at least MinLength characters. The token is trimmed but
// otherwise passed through verbatim; it is case-sensitive.
func (c *Codec) Parse(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidCode
	}
	if !u.IsAbs() || u.Hostname() != c.domain {
		return "", ErrInvalidCode
	}

	parts := splitPath(u.Path)
	if len(parts) != 2 || parts[0] != "t" {
		return "", ErrInvalidCode
	}
	return Normalize(parts[1])
}

// Normalize validates a bare token string taken from a request path or
// query parameter, applying the same length rule as Parse.
func Normalize(raw string) (string, error) {
	tok := strings.TrimSpace(raw)
	if len(tok) < MinLength {
		return "", ErrInvalidCode
	}
	return tok, nil
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
