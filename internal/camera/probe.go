package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrShortProbe means the probe document ended before the configured
// offset. The camera rewrites the document while it is being read, so the
// tick is skipped without logging.
var ErrShortProbe = errors.New("camera: probe document shorter than offset")

// ProbeError reports a failed probe request.
type ProbeError struct {
	URL string
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("camera: probe %s: %v", e.URL, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Prober reads the motion signal byte.
type Prober interface {
	Probe(ctx context.Context) (byte, error)
}

// HTTPProber fetches a status document and returns the byte at Offset.
type HTTPProber struct {
	url    string
	offset int64
	client *http.Client
}

// NewHTTPProber creates a prober. timeout bounds each request.
func NewHTTPProber(url string, offset int, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		url:    url,
		offset: int64(offset),
		client: &http.Client{Timeout: timeout},
	}
}

// Probe performs one GET and reads exactly one byte after skipping Offset
// bytes. Only the bytes up to the signal are consumed.
func (p *HTTPProber) Probe(ctx context.Context) (byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return 0, &ProbeError{URL: p.url, Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, &ProbeError{URL: p.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &ProbeError{URL: p.url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if p.offset > 0 {
		if _, err := io.CopyN(io.Discard, resp.Body, p.offset); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, ErrShortProbe
			}
			return 0, &ProbeError{URL: p.url, Err: err}
		}
	}

	var b [1]byte
	if _, err := io.ReadFull(resp.Body, b[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, ErrShortProbe
		}
		return 0, &ProbeError{URL: p.url, Err: err}
	}
	return b[0], nil
}
