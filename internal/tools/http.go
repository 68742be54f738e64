package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	MaxResponseSize    = 5 << 20
	defaultHTTPTimeout = 30 * time.Second
)

// HTTPGet fetches a URL. Only http and https are allowed, and a non-2xx
// status is reported as a failed call.
type HTTPGet struct {
	Client *http.Client
}

func (HTTPGet) Name() string { return "http_get" }

func (HTTPGet) Description() string {
	return "Performs an HTTP GET request and returns status, headers and body"
}

type httpResponse struct {
	URL     string            `json:"url"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	Size    int               `json:"size"`
}

func (t HTTPGet) Call(ctx context.Context, args map[string]any) (any, error) {
	raw, err := stringArg(args, "url")
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q: only http and https are allowed", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response %w of %d bytes", ErrTooLarge, MaxResponseSize)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return httpResponse{
		URL:     u.String(),
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    string(body),
		Size:    len(body),
	}, nil
}
