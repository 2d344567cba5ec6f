package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// maxBodyBytes bounds the size of a request body.
const maxBodyBytes = 1 << 20

// Envelope is the uniform shape of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Respond writes data wrapped in a success envelope.
func Respond(ctx context.Context, w http.ResponseWriter, data any, statusCode int) error {
	return write(ctx, w, Envelope{Success: true, Data: data}, statusCode)
}

// RespondError writes msg wrapped in a failure envelope.
func RespondError(ctx context.Context, w http.ResponseWriter, msg string, details any, statusCode int) error {
	return write(ctx, w, Envelope{Success: false, Error: msg, Details: details}, statusCode)
}

func write(ctx context.Context, w http.ResponseWriter, env Envelope, statusCode int) error {
	SetStatusCode(ctx, statusCode)

	bs, err := json.Marshal(env)
	if err != nil {
		SetStatusCode(ctx, http.StatusInternalServerError)
		http.Error(w, `{"success":false,"error":"failed to encode response"}`, http.StatusInternalServerError)
		return fmt.Errorf("encoding response: %w", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(bs); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}

	return nil
}

// ErrBadRequest is returned by Decode when the body is not acceptable JSON.
var ErrBadRequest = errors.New("bad request")

// Decode reads the JSON body of r into v. Unknown fields, trailing data and
// bodies larger than 1MB are rejected.
func Decode(w http.ResponseWriter, r *http.Request, v any) error {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return fmt.Errorf("%w: request must be a json", ErrBadRequest)
	}

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: body must contain a single json value", ErrBadRequest)
	}

	return nil
}
