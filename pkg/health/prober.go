package health

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redentordev/paradigm/pkg/httputil"
)

// maxBody caps how much of a response body is kept for assertions
const maxBody = 1 << 20

// Request is one HTTP probe
type Request struct {
	Method string
	URL    string
}

// Response is what a probe observed
type Response struct {
	StatusCode int
	Body       string
}

// Prober performs HTTP probes. Tests substitute fakes.
type Prober interface {
	Probe(ctx context.Context, req Request) (*Response, error)
}

// HTTPProber probes over net/http
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober that never follows redirects, so a
// redirect to a login page is not mistaken for health
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		client: httputil.NewNoRedirectClient(30 * time.Second),
	}
}

// Probe implements Prober
func (p *HTTPProber) Probe(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", "paradigm-health/1")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
