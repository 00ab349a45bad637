// Package httputil provides the shared HTTP transport used for health probes
// and webhook notifications.
package httputil

import (
	"net/http"
	"sync"
	"time"
)

var (
	transport     *http.Transport
	transportOnce sync.Once
)

// Transport returns the pooled transport shared by every client. Health
// checks hit the same loopback port many times per deployment, so idle
// connections are kept per host.
func Transport() *http.Transport {
	transportOnce.Do(func() {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConns = 100
		t.MaxIdleConnsPerHost = 16
		t.IdleConnTimeout = 90 * time.Second
		t.ResponseHeaderTimeout = 30 * time.Second
		t.ExpectContinueTimeout = 1 * time.Second
		transport = t
	})
	return transport
}

// NewClient creates a client on the shared transport
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: Transport(),
	}
}

// NewNoRedirectClient creates a client that returns redirects to the caller
// instead of following them
func NewNoRedirectClient(timeout time.Duration) *http.Client {
	c := NewClient(timeout)
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}
