package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSplitName(t *testing.T) {
	cases := []struct {
		in       string
		provider string
		tool     string
	}{
		{"fs:read_file", "fs", "read_file"},
		{"read_file", "", "read_file"},
		{"a:b:c", "a", "b:c"},
		{":tool", "", "tool"},
	}
	for _, tc := range cases {
		provider, tool := SplitName(tc.in)
		if provider != tc.provider || tool != tc.tool {
			t.Errorf("SplitName(%q) = (%q, %q), want (%q, %q)", tc.in, provider, tool, tc.provider, tc.tool)
		}
	}
}

func TestInvokeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invoke" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req invokeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.Name != "fs:read_file" {
			t.Errorf("Unexpected tool name %s", req.Name)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(invokeResponse{Content: "file contents"}); err != nil {
			t.Fatalf("Failed to encode response: %v", err)
		}
	}))
	defer srv.Close()

	e := NewHTTPExecutor(srv.URL, 5*time.Second)
	res, err := e.Invoke(context.Background(), "fs:read_file", json.RawMessage(`{"path":"a.txt"}`))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !res.Success || res.Content != "file contents" {
		t.Errorf("Unexpected result: %+v", res)
	}
}

func TestInvokeToolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(invokeResponse{IsError: true, Error: "no such file"}); err != nil {
			t.Fatalf("Failed to encode response: %v", err)
		}
	}))
	defer srv.Close()

	e := NewHTTPExecutor(srv.URL, 5*time.Second)
	res, err := e.Invoke(context.Background(), "fs:read_file", nil)
	if err != nil {
		t.Fatalf("Tool-level failure must not be a transport error: %v", err)
	}
	if res.Success {
		t.Error("Expected failed result")
	}
	if res.Error != "no such file" {
		t.Errorf("Unexpected error message %q", res.Error)
	}
}

func TestInvokeProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewHTTPExecutor(srv.URL, 5*time.Second)
	if _, err := e.Invoke(context.Background(), "fs:read_file", nil); err == nil {
		t.Error("Expected error for 500 response")
	}
}

func TestInvokeRespectsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	e := NewHTTPExecutor(srv.URL, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := e.Invoke(ctx, "slow:tool", nil); err == nil {
		t.Error("Expected context cancellation error")
	}
}
