package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestRespond(t *testing.T) {
	v := Values{Now: time.Now()}
	ctx := SetValues(context.Background(), &v)

	w := httptest.NewRecorder()
	if err := Respond(ctx, w, map[string]int{"n": 1}, http.StatusCreated); err != nil {
		t.Fatalf("failed to respond: %v", err)
	}

	if w.Code != http.StatusCreated {
		t.Errorf("got status %d, want %d", w.Code, http.StatusCreated)
	}
	if v.StatusCode != http.StatusCreated {
		t.Errorf("status code not recorded in values: %d", v.StatusCode)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("got content type %q", ct)
	}

	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	want := map[string]any{"success": true, "data": map[string]any{"n": 1.0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong envelope (-want +got):\n%s", diff)
	}
}

func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()
	if err := RespondError(context.Background(), w, "boom", []string{"a"}, http.StatusBadRequest); err != nil {
		t.Fatalf("failed to respond: %v", err)
	}

	if w.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", w.Code, http.StatusBadRequest)
	}

	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	want := map[string]any{"success": false, "error": "boom", "details": []any{"a"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong envelope (-want +got):\n%s", diff)
	}
}

func TestDecode(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name        string
		contentType string
		body        string
		wantErr     bool
	}{
		{"ok", "application/json", `{"name":"C1"}`, false},
		{"charset", "application/json; charset=utf-8", `{"name":"C1"}`, false},
		{"no content type", "", `{"name":"C1"}`, true},
		{"text", "text/plain", `{"name":"C1"}`, true},
		{"unknown field", "application/json", `{"name":"C1","x":1}`, true},
		{"trailing data", "application/json", `{"name":"C1"}{}`, true},
		{"malformed", "application/json", `{"name":`, true},
		{"too large", "application/json", `{"name":"` + strings.Repeat("a", maxBodyBytes) + `"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}

			var p payload
			err := Decode(httptest.NewRecorder(), r, &p)
			if tt.wantErr {
				if !errors.Is(err, ErrBadRequest) {
					t.Errorf("got %v, want %v", err, ErrBadRequest)
				}
				return
			}
			if err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if p.Name != "C1" {
				t.Errorf("got name %q", p.Name)
			}
		})
	}
}

func TestGetTime(t *testing.T) {
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	ctx := SetValues(context.Background(), &Values{Now: now})

	if got := GetTime(ctx); !got.Equal(now) {
		t.Errorf("got %v, want %v", got, now)
	}
	if got := GetTime(context.Background()); got.IsZero() {
		t.Error("time outside a request should not be zero")
	}
}
