package admin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tokensmart/governor/internal/governor"
	"github.com/tokensmart/governor/internal/topology"
)

func testDaemon(t *testing.T) *governor.Daemon {
	t.Helper()
	policies := []topology.Policy{
		{CPUs: []int{0, 1, 2, 3}},
		{CPUs: []int{4, 5, 6, 7}},
	}
	host := governor.NewSimHost(policies, time.Unix(0, 0))
	d, err := governor.New(host, "generic", governor.DefaultConfig())
	require.NoError(t, err)
	return d
}

func TestServer_CentralPool_ReadOnly(t *testing.T) {
	srv := NewServer(testDaemon(t))
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/central_pool")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), "pool=500")
	require.Contains(t, string(body), "mode=GREEDY")

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/central_pool", nil)
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_MIPSThreshold_ReadWrite(t *testing.T) {
	srv := NewServer(testDaemon(t))
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/mips_threshold")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Contains(t, strings.TrimSpace(string(body)), "8500")

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mips_threshold?value=9000", nil)
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = ts.Client().Get(ts.URL + "/mips_threshold")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Contains(t, string(body), "9000")
}

func TestServer_AdminAdjust_ChangesPoolAndTokensInSystem(t *testing.T) {
	d := testDaemon(t)
	srv := NewServer(d)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/admin_adjust?n=50", nil)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	pool, tokensInSystem, _ := d.Pool().Snapshot()
	require.Equal(t, 550, pool)
	require.Equal(t, 550, tokensInSystem)
}

func TestServer_Metrics_Registered(t *testing.T) {
	d := testDaemon(t)
	srv := NewServer(d)
	srv.metrics.Refresh(d)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), "tokensmart_central_pool_tokens")
}

func TestServer_ListenAndServe_ShutsDownOnCancel(t *testing.T) {
	d := testDaemon(t)
	srv := NewServer(d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0", 5*time.Millisecond) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
