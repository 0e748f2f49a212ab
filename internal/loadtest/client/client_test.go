package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSender_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Method", r.Method)
		if r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s:%s", r.Method, body)
	}))
	defer server.Close()

	sender := New(WithTimeout(5 * time.Second))

	tests := []struct {
		name      string
		req       *Request
		wantCode  int
		wantBytes int64
	}{
		{
			name:      "GET with header",
			req:       &Request{Method: http.MethodGet, URL: server.URL, Headers: map[string]string{"Authorization": "Bearer t"}},
			wantCode:  http.StatusOK,
			wantBytes: int64(len("GET:")),
		},
		{
			name:      "POST with body",
			req:       &Request{Method: http.MethodPost, URL: server.URL, Headers: map[string]string{"Authorization": "Bearer t"}, Body: []byte("hello")},
			wantCode:  http.StatusOK,
			wantBytes: int64(len("POST:hello")),
		},
		{
			name:     "missing header is still a response",
			req:      &Request{Method: http.MethodGet, URL: server.URL},
			wantCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := sender.Send(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, tt.wantBytes, resp.Bytes)
		})
	}
}

func TestHTTPSender_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	sender := New(WithTimeout(2 * time.Second))
	_, err = sender.Send(context.Background(), &Request{Method: http.MethodGet, URL: "http://" + addr})
	require.Error(t, err)

	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, KindConnectionRefused, ne.Kind)
	assert.False(t, ne.Timeout())
}

func TestHTTPSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	sender := New(WithTimeout(50 * time.Millisecond))
	_, err := sender.Send(context.Background(), &Request{Method: http.MethodGet, URL: server.URL})

	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, KindTimeout, ne.Kind)
	assert.True(t, ne.Timeout())
}

func TestHTTPSender_Redirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/hop/", func(w http.ResponseWriter, r *http.Request) {
		var n int
		fmt.Sscanf(r.URL.Path, "/hop/%d", &n)
		if n <= 0 {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", n-1), http.StatusFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	tests := []struct {
		name     string
		max      int
		hops     int
		wantCode int
		wantKind string
	}{
		{"none returns the 3xx", 0, 2, http.StatusFound, ""},
		{"within limit", 3, 3, http.StatusOK, ""},
		{"over limit", 2, 3, 0, KindRedirect},
		{"default follows ten", 10, 10, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := New(WithMaxRedirects(tt.max))
			resp, err := sender.Send(context.Background(), &Request{
				Method: http.MethodGet,
				URL:    fmt.Sprintf("%s/hop/%d", server.URL, tt.hops),
			})
			if tt.wantKind != "" {
				var ne *NetworkError
				require.ErrorAs(t, err, &ne)
				assert.Equal(t, tt.wantKind, ne.Kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
		})
	}
}

func TestHTTPSender_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Send(ctx, &Request{Method: http.MethodGet, URL: server.URL})
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, KindDNS},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, KindConnectionRefused},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindConnectionReset},
		{"redirect", fmt.Errorf("get: %w", ErrTooManyRedirects), KindRedirect},
		{"unexpected eof", io.ErrUnexpectedEOF, KindProtocol},
		{"malformed", errors.New("net/http: malformed HTTP response"), KindProtocol},
		{"other", errors.New("boom"), KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.Nil(t, Classify(nil))

	wrapped := &NetworkError{Kind: KindTLS, Err: errors.New("bad cert")}
	assert.Same(t, wrapped, Classify(fmt.Errorf("send: %w", wrapped)))
}

func TestWithPoolSize(t *testing.T) {
	s := New(WithPoolSize(5000))
	assert.Equal(t, 5000, s.Config().MaxIdleConns)
	assert.Equal(t, 5000, s.Config().MaxIdleConnsPerHost)

	s = New(WithPoolSize(8))
	assert.Equal(t, 1000, s.Config().MaxIdleConns)
	assert.Equal(t, 8, s.Config().MaxIdleConnsPerHost)
}
