package app

import (
	"net"
	"net/http"
	"time"
)

// newHTTPClient returns the client shared by every fetch in a run. Per-request
// deadlines come from the fetch layer, so the client timeout is only a
// backstop above the largest per-attempt timeout.
func newHTTPClient(jobs int) *http.Client {
	if jobs < 1 {
		jobs = 1
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          4 * jobs,
		MaxIdleConnsPerHost:   2 * jobs,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}
