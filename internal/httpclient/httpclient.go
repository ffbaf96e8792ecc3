// Package httpclient builds the pooled HTTPS clients the pushkins send
// through.
package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Options configures one pushkin's outbound client.
type Options struct {
	// ProxyURL is an optional forward proxy. Empty means the standard
	// environment proxy settings apply.
	ProxyURL string

	// CAFile optionally names a PEM bundle of additional trust anchors,
	// appended to the system roots.
	CAFile string

	// Timeout caps a single request end to end. Zero means no client
	// timeout; the ingress deadline still applies via the request context.
	Timeout time.Duration

	// MaxIdleConnsPerHost sizes the connection pool towards the provider.
	MaxIdleConnsPerHost int
}

// New builds a connection-pooled client. HTTP/2 is negotiated where the
// provider supports it.
func New(opts Options) (*http.Client, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if transport.MaxIdleConnsPerHost <= 0 {
		transport.MaxIdleConnsPerHost = 20
	}

	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", opts.ProxyURL, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA bundle %q", opts.CAFile)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}, nil
}
