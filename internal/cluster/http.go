// Package cluster is the transport layer between the orchestrator, the
// shards and the operator CLI: JSON-over-HTTP helpers that carry the
// caller identity in a header and decode error responses back into the
// shared taxonomy, the wire request/response shapes, and typed clients
// for each direction.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dreyhq/drey/pkg/apierr"
)

// CallerHeader carries the caller's identity on every request. The value
// is an opaque UUID; receivers only ever compare it for equality.
const CallerHeader = "X-Drey-Caller"

var httpClient = &http.Client{Timeout: 15 * time.Second}

// PostJSON sends a JSON body and decodes the JSON response into out.
// Error responses (status >= 400) are decoded into a taxonomy error, so
// callers see the same *apierr.Error the remote process produced.
func PostJSON(ctx context.Context, url, caller string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}

	return do(req, out)
}

// GetJSON performs a GET and decodes the JSON response into out, with the
// same error handling as PostJSON.
func GetJSON(ctx context.Context, url, caller string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}

	return do(req, out)
}

func do(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return apierr.Decode(resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL, err)
	}
	return nil
}

// WriteJSON writes a success payload to an HTTP response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a taxonomy error (or anything convertible to one) to its
// status code and serializes it as the response body.
func WriteError(w http.ResponseWriter, err error, source, method string) {
	apiErr := apierr.Convert(err, "INTERNAL", source, method)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierr.HTTPStatus(apiErr.Kind))
	_ = json.NewEncoder(w).Encode(apiErr)
}

// Caller extracts the caller identity header from a request, empty when
// the request is anonymous.
func Caller(r *http.Request) string {
	return r.Header.Get(CallerHeader)
}
