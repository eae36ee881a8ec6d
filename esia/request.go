package esia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"esiaclient/errors"
)

// maxResponseBytes caps provider responses at 10 MiB.
const maxResponseBytes = 10 << 20

func isForbidden(err error) bool {
	return errors.Is(err, errors.ErrForbidden)
}

// send performs one request and decodes a JSON object or array. It never
// retries.
func (c *Client) send(ctx context.Context, op, method, rawURL string, body io.Reader, contentType string) (any, error) {
	start := time.Now()
	payload, err := c.roundTrip(ctx, method, rawURL, body, contentType)
	requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(op, outcomeOf(err)).Inc()
	if err != nil {
		c.logger.Error("ESIA request failed",
			"operation", op,
			"method", method,
			"url", rawURL,
			"status", errors.StatusCode(err),
			"error", err)
		return nil, err
	}
	return payload, nil
}

func (c *Client) roundTrip(ctx context.Context, method, rawURL string, body io.Reader, contentType string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errors.NewRequestFailed("cannot build request", 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tok := c.session.AccessToken; tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewRequestFailed("transport error", 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	// A denial is reported as such even when its body is unreadable.
	if resp.StatusCode == http.StatusForbidden {
		if len(raw) > maxResponseBytes {
			raw = raw[:maxResponseBytes]
		}
		return nil, errors.NewForbidden(fmt.Sprintf("provider denied access: %s", snippet(raw)), nil)
	}
	if err != nil {
		return nil, errors.NewRequestFailed("cannot read response body", resp.StatusCode, err)
	}
	if len(raw) > maxResponseBytes {
		return nil, errors.NewRequestFailed("response body too large", resp.StatusCode, nil)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.NewRequestFailed(fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, snippet(raw)), resp.StatusCode, nil)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, errors.NewRequestFailed("cannot decode response", resp.StatusCode, err)
	}
	switch payload.(type) {
	case map[string]any, []any:
		return payload, nil
	default:
		return nil, errors.NewRequestFailed("cannot decode response: not a JSON object or array", resp.StatusCode, nil)
	}
}

func snippet(b []byte) string {
	const limit = 200
	b = bytes.TrimSpace(b)
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
