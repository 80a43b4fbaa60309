package auth

import (
	"net/url"
	"strings"

	"github.com/nikhilbhutani/tenantkit/internal/apperr"
)

var ErrRedirectScheme = apperr.Validation("redirect url scheme is not allowed")

// CheckRedirect accepts an empty target, or an absolute URL whose scheme is
// http, https or the configured app scheme.
func CheckRedirect(raw, appScheme string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return ErrRedirectScheme
	}
	switch scheme := strings.ToLower(u.Scheme); {
	case scheme == "http", scheme == "https":
		return nil
	case appScheme != "" && scheme == strings.ToLower(appScheme):
		return nil
	default:
		return ErrRedirectScheme
	}
}

// WithQuery appends params to raw, keeping any query it already carries.
func WithQuery(raw string, params url.Values) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
