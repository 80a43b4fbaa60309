package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/nikhilbhutani/tenantkit/internal/auth"
	"github.com/nikhilbhutani/tenantkit/internal/respond"
)

const maxBodyBytes = 1 << 20

// decode reads a JSON body into dst. It writes the 400 itself and reports
// false when the body is unusable.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	respond.Detail(w, http.StatusBadRequest, "JSON parse error - "+err.Error())
	return false
}

// baseURL is the scheme and host the request arrived on, used to build
// links that point back at this API.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

// redirectWith sends the client to target with params merged into its
// query string. target must already have passed auth.CheckRedirect.
func redirectWith(w http.ResponseWriter, r *http.Request, target string, params url.Values) {
	http.Redirect(w, r, auth.WithQuery(target, params), http.StatusFound)
}
