package fetch

import (
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const mask = "***"

// secretParams are query parameters masked by RedactURL.
var secretParams = []string{"key", "api_key", "apikey", "token", "access_token"}

// RedactHeaders returns a loggable copy of h. A bearer authorization value
// becomes "Bearer ***", any other authorization value and every API-key style
// header is masked completely. h itself is not modified.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = redactValue(k, strings.Join(h.Values(k), ", "))
	}
	return out
}

func redactValue(name, value string) string {
	lower := strings.ToLower(name)
	switch {
	case lower == "authorization" || lower == "proxy-authorization":
		if len(value) >= 7 && strings.EqualFold(value[:7], "bearer ") {
			return "Bearer " + mask
		}
		return mask
	case isAPIKeyHeader(lower):
		return mask
	}
	return value
}

func isAPIKeyHeader(lower string) bool {
	compact := strings.NewReplacer("-", "", "_", "").Replace(lower)
	return strings.Contains(compact, "apikey") || compact == "xauthtoken"
}

// RedactURL masks secret-bearing query parameters and userinfo passwords.
// Unparsable input is replaced entirely.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return mask
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), mask)
		}
	}
	q := u.Query()
	changed := false
	for k := range q {
		for _, p := range secretParams {
			if strings.EqualFold(k, p) {
				q.Set(k, mask)
				changed = true
			}
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	// data: URIs carry whole documents; keep only the media type.
	if strings.EqualFold(u.Scheme, "data") {
		if i := strings.IndexByte(raw, ','); i >= 0 {
			return raw[:i] + ",..."
		}
	}
	return u.String()
}

// redactError rewrites the URL inside transport errors, which net/http
// prints verbatim.
func redactError(err error, rawURL string) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return &url.Error{Op: ue.Op, URL: RedactURL(rawURL), Err: ue.Err}
	}
	return err
}
