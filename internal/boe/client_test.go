package boe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normadata/boerag/internal/config"
)

func testClient(baseURL string) *Client {
	return NewClient(config.SourceConfig{
		BaseURL:      baseURL,
		UserAgent:    "boerag-test/1.0",
		HTTPTimeout:  5 * time.Second,
		RetryCount:   2,
		RetryBackoff: time.Millisecond,
	})
}

func TestExpandTemplate(t *testing.T) {
	got, err := expandTemplate(tmplBloque, map[string]string{
		"base":      "https://www.boe.es/api/",
		"id_norma":  "BOE-A-2015-10566",
		"id_bloque": "a 1/2",
	})
	require.NoError(t, err)
	// Base is interpolated verbatim with trailing slash stripped; the
	// other placeholders are URL-encoded.
	assert.Equal(t, "https://www.boe.es/api/id/BOE-A-2015-10566/texto/bloque/a%201%2F2", got)

	_, err = expandTemplate("{base}/id/{missing}", map[string]string{"base": "x"})
	assert.Error(t, err)
}

func TestClient_Discover(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		assert.Equal(t, "20200101", r.URL.Query().Get("from"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(discoverBody))
	}))
	defer srv.Close()

	page, err := testClient(srv.URL).Discover(context.Background(), DiscoverQuery{
		From: "20200101", To: "20240101", Limit: 25,
	})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, "boerag-test/1.0", gotUA)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(indexAttrForm))
	}))
	defer srv.Close()

	body, err := testClient(srv.URL).FetchIndexXML(context.Background(), "BOE-A-2015-10566")
	require.NoError(t, err)
	assert.Contains(t, string(body), "bloque")
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_404IsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchBloqueXML(context.Background(), "N1", "a1")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load(), "permanent failures use no retry budget")
}

func TestClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchIndexXML(context.Background(), "N1")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())
}
