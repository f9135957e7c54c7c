package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// UpstreamJSON performs a JSON request against an upstream provider. The
// connection attempt is retried at most once on immediate transport failure;
// non-2xx responses are never retried — retry is the caller's responsibility.
func UpstreamJSON(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string) (int, []byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return 0, nil, err
		}
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return 0, nil, err
			}
			continue
		}
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			return 0, nil, readErr
		}
		return resp.StatusCode, respBody, nil
	}
	return 0, nil, lastErr
}
