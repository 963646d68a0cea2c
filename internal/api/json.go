package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Envelope is the response shape every backend endpoint uses.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// JSONResponse is the outcome of FetchJSON. HTTP error statuses and
// business failures are data here, not Go errors.
type JSONResponse struct {
	StatusCode int
	Header     http.Header
	Envelope   Envelope
	Raw        []byte
	// ParseErr is set when the body was not valid JSON. Envelope is then
	// the zero value.
	ParseErr error
}

// ErrNoData is returned by DecodeData when the envelope carries no data.
var ErrNoData = errors.New("response has no data")

// IsSuccess reports a 2xx status.
func (r *JSONResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// OK reports a 2xx status with success set in the envelope.
func (r *JSONResponse) OK() bool {
	return r.IsSuccess() && r.Envelope.Success
}

// DecodeData unmarshals the envelope's data field into v.
func (r *JSONResponse) DecodeData(v any) error {
	if len(r.Envelope.Data) == 0 || string(r.Envelope.Data) == "null" {
		return ErrNoData
	}
	if err := json.Unmarshal(r.Envelope.Data, v); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// FetchJSON sends body (if non-nil) as JSON through Do and parses the
// response envelope. An unparseable response body is not an error; check
// ParseErr or simply the envelope's Success flag.
func (c *Client) FetchJSON(ctx context.Context, method, path string, body any, opts RequestOptions) (*JSONResponse, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if hasBody(method) {
		header.Set("Content-Type", "application/json")
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	resp, err := c.Do(ctx, method, path, payload, header, opts)
	if err != nil {
		return nil, err
	}

	out := &JSONResponse{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Raw:        resp.Body(),
	}
	if err := json.Unmarshal(out.Raw, &out.Envelope); err != nil {
		out.Envelope = Envelope{}
		out.ParseErr = err
	}
	return out, nil
}

func hasBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}
