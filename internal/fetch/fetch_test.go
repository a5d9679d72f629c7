package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_SendsHeaders(t *testing.T) {
	var gotCookie, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f, err := New(Options{Headers: map[string]string{
		"Cookie":     "session=abc",
		"User-Agent": "epubfetch-test",
	}})
	require.NoError(t, err)

	body, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "session=abc", gotCookie)
	assert.Equal(t, "epubfetch-test", gotUA)
}

func TestHTTPFetcher_ExpandsEnvInHeaders(t *testing.T) {
	t.Setenv("EPUBFETCH_TEST_TOKEN", "s3cret")
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	f, err := New(Options{Headers: map[string]string{"Authorization": "Bearer ${EPUBFETCH_TEST_TOKEN}"}})
	require.NoError(t, err)
	_, err = f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", got)
}

func TestHTTPFetcher_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	f, err := New(Options{})
	require.NoError(t, err)

	_, err = f.Get(context.Background(), srv.URL+"/x")
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "nope")
	assert.Equal(t, srv.URL+"/x", statusErr.URL)
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	f, err := New(Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = f.Get(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestHTTPFetcher_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	f, err := New(Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Get(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewTransport_Proxy(t *testing.T) {
	tests := []struct {
		name    string
		proxy   string
		wantErr bool
	}{
		{"direct", "", false},
		{"http proxy", "http://127.0.0.1:8080", false},
		{"socks5", "socks5://127.0.0.1:9050", false},
		{"socks5 with auth", "socks5://user:pw@127.0.0.1:9050", false},
		{"unsupported", "ftp://127.0.0.1:21", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := newTransport(tt.proxy)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, tr)
			if tt.proxy != "" && tt.name != "http proxy" {
				assert.NotNil(t, tr.DialContext)
			}
		})
	}
}
