package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

func TestFetcherReturnsBodyAndFinalURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/doc", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, defaultUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>hello</body></html>")
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/doc", http.StatusMovedPermanently)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFetcher(FetcherConfig{}, nil)
	body, contentType, finalURL, err := f.Fetch(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	assert.Contains(t, string(body), "hello")
	assert.Contains(t, contentType, "text/html")
	assert.Equal(t, srv.URL+"/doc", finalURL)
}

func TestFetcherRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{}, nil)
	_, _, _, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, knowledge.ErrExtractionFailed)
	assert.Contains(t, err.Error(), "status 404")
}

func TestFetcherEnforcesSizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 2048))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{MaxBytes: 1024}, nil)
	_, _, _, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, knowledge.ErrExtractionFailed)
	assert.Contains(t, err.Error(), "size_exceeded")
}

func TestFetcherBodyUnderCapPasses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 1024))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{MaxBytes: 1024}, nil)
	body, _, _, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, body, 1024)
}

func TestFetcherValidatesURLs(t *testing.T) {
	f := NewFetcher(FetcherConfig{}, nil)
	for _, raw := range []string{
		"ftp://example.com/x",
		"file:///etc/passwd",
		"http://",
		"://missing-scheme",
	} {
		_, _, _, err := f.Fetch(context.Background(), raw)
		assert.ErrorIs(t, err, knowledge.ErrValidation, raw)
	}
}

func TestFetcherUnreachableHostFailsExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead := srv.URL
	srv.Close()

	f := NewFetcher(FetcherConfig{}, nil)
	_, _, _, err := f.Fetch(context.Background(), dead)
	require.ErrorIs(t, err, knowledge.ErrExtractionFailed)
}
