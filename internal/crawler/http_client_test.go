package crawler

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
)

const testPage = "<html><body>Test Page</body></html>"

func TestHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "Test-Crawler/1.0" {
			t.Errorf("Expected User-Agent 'Test-Crawler/1.0', got '%s'", ua)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Server", "test-server")
		w.Header().Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")

		// Add delay to test TTFB
		time.Sleep(50 * time.Millisecond)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(testPage))
	}))
	defer server.Close()

	client := NewHTTPClient("Test-Crawler/1.0", 30*time.Second)
	defer client.Close()

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Failed to get URL: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Errorf("Expected status code 200, got %d", resp.StatusCode)
	}

	if !resp.IsHTML() {
		t.Errorf("Expected HTML response for content type %q", resp.ContentType)
	}

	if resp.Server != "test-server" {
		t.Errorf("Expected server 'test-server', got '%s'", resp.Server)
	}

	want := time.Date(2015, 10, 21, 7, 28, 0, 0, time.UTC)
	if !resp.LastModified.Equal(want) {
		t.Errorf("Expected Last-Modified %v, got %v", want, resp.LastModified)
	}

	if resp.Metrics.TTFB < 50*time.Millisecond {
		t.Errorf("TTFB should be at least 50ms, got %v", resp.Metrics.TTFB)
	}

	if resp.Metrics.DownloadTime < resp.Metrics.TTFB {
		t.Errorf("Download time should be greater than TTFB")
	}

	if string(resp.Body) != testPage {
		t.Errorf("Expected body '%s', got '%s'", testPage, string(resp.Body))
	}
}

func TestHTTPClientDecodesBody(t *testing.T) {
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(testPage))
	_ = gw.Close()

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write([]byte(testPage))
	_ = bw.Close()

	tests := []struct {
		name     string
		encoding string
		payload  []byte
	}{
		{"identity", "", []byte(testPage)},
		{"gzip", "gzip", gz.Bytes()},
		{"brotli", "br", br.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if ae := r.Header.Get("Accept-Encoding"); ae != "gzip, br" {
					t.Errorf("Expected Accept-Encoding 'gzip, br', got %q", ae)
				}
				if tt.encoding != "" {
					w.Header().Set("Content-Encoding", tt.encoding)
				}
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write(tt.payload)
			}))
			defer server.Close()

			client := NewHTTPClient("Test-Crawler/1.0", 5*time.Second)
			defer client.Close()

			resp, err := client.Get(context.Background(), server.URL)
			if err != nil {
				t.Fatalf("Failed to get URL: %v", err)
			}
			if string(resp.Body) != testPage {
				t.Errorf("Expected decoded body %q, got %q", testPage, resp.Body)
			}
			if resp.ContentEncoding != tt.encoding {
				t.Errorf("Expected content encoding %q, got %q", tt.encoding, resp.ContentEncoding)
			}
		})
	}
}

func TestHTTPClientRedirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/final" {
			http.Redirect(w, r, "/final", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Final page"))
	}))
	defer server.Close()

	client := NewHTTPClient("Test-Crawler/1.0", 30*time.Second)
	defer client.Close()

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Failed to get URL: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Errorf("Expected status code 200, got %d", resp.StatusCode)
	}

	if resp.FinalURL != server.URL+"/final" {
		t.Errorf("Expected final URL '%s', got '%s'", server.URL+"/final", resp.FinalURL)
	}
}

func TestHTTPClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient("Test-Crawler/1.0", 100*time.Millisecond)
	defer client.Close()

	if _, err := client.Get(context.Background(), server.URL); err == nil {
		t.Errorf("Expected timeout error, got nil")
	}
}

func TestHTTPClientErrorCases(t *testing.T) {
	client := NewHTTPClient("Test-Crawler/1.0", 30*time.Second)
	defer client.Close()

	ctx := context.Background()

	if _, err := client.Get(ctx, "invalid-url"); err == nil {
		t.Errorf("Expected error for invalid URL, got nil")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal Server Error"))
	}))
	defer server.Close()

	resp, err := client.Get(ctx, server.URL)
	if err != nil {
		t.Errorf("Unexpected error for server error response: %v", err)
	}
	if resp.StatusCode != 500 {
		t.Errorf("Expected status code 500, got %d", resp.StatusCode)
	}
	if resp.IsHTML() {
		t.Error("Response without content type should not be HTML")
	}

	cancelledCtx, cancel := context.WithCancel(ctx)
	cancel()

	if _, err := client.Get(cancelledCtx, server.URL); err == nil {
		t.Errorf("Expected error for cancelled context, got nil")
	}
}

func TestHTTPClientBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "testuser" || pass != "testpass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient("Test-Crawler/1.0", 30*time.Second)
	defer client.Close()

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Failed to get URL: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", resp.StatusCode)
	}

	client.SetBasicAuth("testuser", "testpass")
	resp, err = client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Failed to get URL: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with credentials, got %d", resp.StatusCode)
	}
}

func TestHTTPClientCustomHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Custom-Header"); got != "custom-value" {
			t.Errorf("Expected X-Custom-Header 'custom-value', got %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "Override/2.0" {
			t.Errorf("Expected overridden User-Agent, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient("Test-Crawler/1.0", 30*time.Second)
	defer client.Close()
	client.SetCustomHeaders(map[string]string{
		"X-Custom-Header": "custom-value",
		"User-Agent":      "Override/2.0",
	})

	if _, err := client.Get(context.Background(), server.URL); err != nil {
		t.Fatalf("Failed to get URL: %v", err)
	}
}
