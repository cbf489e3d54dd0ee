package fetch

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewHTTPClient returns a client for index pages and archives. timeout bounds
// a whole request including the body; zero means no limit.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	// some mirrors are slow to shake hands
	transport.TLSHandshakeTimeout = 30 * time.Second

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
