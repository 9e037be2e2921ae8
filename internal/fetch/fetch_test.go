package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawLink(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://gist.github.com/user/abc", "https://gist.github.com/user/abc/raw"},
		{"http://rentry.co/xyz", "https://rentry.co/xyz/raw"},
		{"pastebin.com/AbCd", "https://pastebin.com/raw/AbCd"},
		{"https://pastes.io/q1", "https://pastes.io/raw/q1"},
		{"ftp://hastebin.com/key", "https://hastebin.com/raw/key"},
		{"https://pastebin.com/raw/AbCd", "https://pastebin.com/raw/AbCd"},
		{"https://gist.githubusercontent.com/u/abc/raw/file.go", "https://gist.githubusercontent.com/u/abc/raw/file.go"},
		{"https://example.com/script.go", "https://example.com/script.go"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RawLink(tt.in), tt.in)
	}
}

func TestHTTP_Fetch(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text" {
			http.Error(w, "bad accept", http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("func Command() {}"))
		case "/big":
			w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := NewHTTP(0, 32)
	h.Client = srv.Client()

	body, err := h.Fetch(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "func Command() {}", body)

	_, err = h.Fetch(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "status 404")

	_, err = h.Fetch(context.Background(), srv.URL+"/big")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestHTTP_ForcesHTTPS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secure"))
	}))
	defer srv.Close()

	h := NewHTTP(0, 0)
	h.Client = srv.Client()

	plain := "http://" + strings.TrimPrefix(srv.URL, "https://")
	body, err := h.Fetch(context.Background(), plain)
	require.NoError(t, err)
	assert.Equal(t, "secure", body)
}

func TestFetcherFunc(t *testing.T) {
	var f Fetcher = FetcherFunc(func(_ context.Context, link string) (string, error) { return "got " + link, nil })
	out, err := f.Fetch(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "got x", out)
}
