package verify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *memoryLookup) {
	t.Helper()
	approved := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lookup := newMemoryLookup()
	lookup.put(testPayment("tok-http", approved))

	svc := newService(lookup, baseConfig(), approved.Add(time.Hour))
	handler := NewHandler(svc)
	r := chi.NewRouter()
	r.Route("/payment", func(r chi.Router) {
		handler.MountRoutes(r)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, lookup
}

func TestVerifyEndpointJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/payment/verify/tok-http")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var body Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "PV/2026/00042", body.VoucherNumber)
	require.Equal(t, 1, body.ScanCount)
}

func TestVerifyEndpointHTML(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/payment/verify/tok-http", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(page), "PV/2026/00042"))
	require.True(t, strings.Contains(string(page), "1,250.50"))
}

func TestVerifyEndpointUnknownToken(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/payment/verify/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	require.Equal(t, "token_not_found", problem.Code)
}

func TestVerifyEndpointQuotaExceeded(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/payment/verify/tok-http")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/payment/verify/tok-http")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
