package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
)

// HTTPSink posts envelopes as JSON to the behaviour ingestion endpoint.
type HTTPSink struct {
	endpoint   string
	compress   bool
	httpClient *http.Client
}

// NewHTTPSink creates a sink posting to endpoint. With compress set the body
// is gzip encoded.
func NewHTTPSink(endpoint string, timeout time.Duration, compress bool) *HTTPSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSink{
		endpoint: endpoint,
		compress: compress,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts env.Payload. Transport errors and non-2xx responses are errors.
func (s *HTTPSink) Send(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", env.Kind, err)
	}

	if s.compress {
		body, err = gzipBytes(body)
		if err != nil {
			return fmt.Errorf("compress %s payload: %w", env.Kind, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrStatus, resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
