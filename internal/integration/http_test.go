package integration

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient_SharesTransport(t *testing.T) {
	a := NewHTTPClient(Record{URL: "http://a.local/"})
	b := NewHTTPClient(Record{URL: "http://b.local"})

	assert.Same(t, a.GetClient(), b.GetClient())
	assert.Same(t, a.GetClient().Transport, b.GetClient().Transport)
	assert.Equal(t, DefaultTimeout, a.GetClient().Timeout)
	assert.Equal(t, "http://a.local", a.BaseURL)
}

func TestNewHTTPClient_ReusesConnectionsAcrossClients(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			conns.Add(1)
		}
	}
	srv.Start()
	defer srv.Close()

	for i := 0; i < 5; i++ {
		resp, err := NewHTTPClient(Record{URL: srv.URL}).R().Get("/")
		require.NoError(t, err)
		require.NoError(t, CheckResponse(resp))
	}

	assert.Equal(t, int32(1), conns.Load())
}

func TestRequestError_DropsURL(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewHTTPClient(Record{URL: "http://" + addr}).R().
		SetQueryParam("apikey", "s3cr3t-value").
		Get("/api")
	require.Error(t, err)
	require.Contains(t, err.Error(), "s3cr3t-value")

	cleaned := RequestError(err)
	assert.NotContains(t, cleaned.Error(), "s3cr3t-value")
	assert.NotContains(t, cleaned.Error(), "/api")
	assert.Contains(t, cleaned.Error(), "get request")

	var opErr *net.OpError
	assert.True(t, errors.As(cleaned, &opErr), "underlying cause is kept")
}

func TestRequestError_PassesOtherErrorsThrough(t *testing.T) {
	assert.Nil(t, RequestError(nil))

	err := errors.New("decode: unexpected EOF")
	assert.Same(t, err, RequestError(err))

	_, err = NewHTTPClient(Record{URL: "http://127.0.0.1:1"}).R().
		SetContext(canceledContext()).
		Get("/")
	assert.ErrorIs(t, RequestError(err), context.Canceled)
}

func canceledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
