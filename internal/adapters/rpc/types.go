package rpc

import "net/url"

// CallMsg is the eth_call transaction object.
type CallMsg struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// Redact strips credentials, path and query from an endpoint URL so it can
// be logged. Many providers embed API keys in the path.
func Redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "invalid-endpoint"
	}
	return u.Scheme + "://" + u.Host
}
