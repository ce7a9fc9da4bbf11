package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StatusPath is appended to the configured base URL.
const StatusPath = "/api/files/status"

// HTTPNotifier POSTs the report as JSON.
type HTTPNotifier struct {
	client *http.Client
	url    string
}

// NewHTTPNotifier returns a notifier posting to {baseURL}/api/files/status.
func NewHTTPNotifier(client *http.Client, baseURL string) *HTTPNotifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPNotifier{client: client, url: strings.TrimRight(baseURL, "/") + StatusPath}
}

// Notify implements Notifier. Any non-2xx response is an error.
func (h *HTTPNotifier) Notify(ctx context.Context, r Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal status report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", h.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("POST %s: status %d", h.url, resp.StatusCode)
	}
	return nil
}
