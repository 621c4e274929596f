package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientExpand(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		var req ExpandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.ProductID != "prod-1" {
			t.Fatalf("unexpected product id: %s", req.ProductID)
		}
		if req.Mode != "lifestyle" {
			t.Fatalf("unexpected mode: %s", req.Mode)
		}
		if req.MaxImages != 3 {
			t.Fatalf("unexpected max images: %d", req.MaxImages)
		}
		_ = json.NewEncoder(w).Encode(expandResponse{
			Success: true,
			GeneratedImages: []GeneratedImage{
				{Type: "lifestyle", URL: "https://cdn.example.com/out-1.png"},
				{Type: "lifestyle", URL: "https://cdn.example.com/out-2.png"},
			},
		})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	images, err := client.Expand(context.Background(), ExpandRequest{
		ProductID:         "prod-1",
		SourceImageURL:    "https://example.com/in.png",
		Mode:              "lifestyle",
		CurrentImageCount: 1,
		MaxImages:         3,
	})
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("unexpected image count: %d", len(images))
	}
	if images[0].URL != "https://cdn.example.com/out-1.png" {
		t.Fatalf("unexpected url: %s", images[0].URL)
	}
}

func TestClientExpandMissingKey(t *testing.T) {
	client := NewClient(Options{})
	if _, err := client.Expand(context.Background(), ExpandRequest{SourceImageURL: "https://example.com/in.png"}); err == nil {
		t.Fatalf("expected error when api key missing")
	}
}

func TestClientExpandStatusClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: ErrRateLimited},
		{name: "credits exhausted", status: http.StatusPaymentRequired, wantErr: ErrCreditsExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
			_, err := client.Expand(context.Background(), ExpandRequest{SourceImageURL: "https://example.com/in.png"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientExpandServiceError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(expandResponse{Success: false, Error: "model overloaded"})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	_, err := client.Expand(context.Background(), ExpandRequest{SourceImageURL: "https://example.com/in.png"})
	if err == nil || err.Error() != "imagegen: model overloaded" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientExpandEmptyImageList(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(expandResponse{Success: true})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	_, err := client.Expand(context.Background(), ExpandRequest{SourceImageURL: "https://example.com/in.png"})
	if !errors.Is(err, ErrNoImages) {
		t.Fatalf("got %v, want ErrNoImages", err)
	}
}
