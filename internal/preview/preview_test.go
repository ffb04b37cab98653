package preview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveYouTubeNoNetwork(t *testing.T) {
	r := NewResolver("maxresdefault")
	got, err := r.Resolve(context.Background(), "https://youtu.be/abc123")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "https://img.youtube.com/vi/abc123/maxresdefault.jpg"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestResolverRejectsUnknownQuality(t *testing.T) {
	if r := NewResolver("ultra4k"); r.Quality != "hqdefault" {
		t.Fatalf("unknown quality should fall back, got %q", r.Quality)
	}
}

func TestResolveOGImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head>
			<meta property="og:title" content="Track page">
			<meta property="og:image" content="https://cdn.example.com/cover.jpg">
		</head><body></body></html>`))
	}))
	defer srv.Close()

	got, err := NewResolver("hqdefault").Resolve(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "https://cdn.example.com/cover.jpg" {
		t.Fatalf("og:image = %q", got)
	}
}

func TestResolveOGImageAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head></head><body>no meta</body></html>`))
	}))
	defer srv.Close()

	got, err := NewResolver("hqdefault").Resolve(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}
