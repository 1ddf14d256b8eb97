package remote

import "net/http"

// headerTransport stamps the client identity headers on every outgoing
// request so the remote API can distinguish MCP traffic from the app's own.
type headerTransport struct {
	base http.RoundTripper
}

func newHeaderTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &headerTransport{base: base}
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("X-Client-Type", clientType)
	clone.Header.Set("X-Client-Version", clientVersion)
	return t.base.RoundTrip(clone)
}
