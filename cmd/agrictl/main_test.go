package main

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func meshViewServer(t *testing.T, nodesJSON string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/mesh-nodes", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","data":{"nodes":%s}}`, nodesJSON)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchNodePicksTargetFromMeshView(t *testing.T) {
	srv := meshViewServer(t, `[
		{"nodeId":"11","deviceName":"field-a","stationIP":"10.0.0.11","apIP":"192.168.4.1","meshConnected":true},
		{"nodeId":"42","deviceName":"field-b","stationIP":"10.0.0.42","apIP":"","meshConnected":true}
	]`)

	n, err := fetchNode(srv.URL, "42")
	require.NoError(t, err)
	require.Equal(t, "field-b", n.Name)
	require.Equal(t, "10.0.0.42", n.StationIP)

	_, err = fetchNode(srv.URL, "99")
	require.ErrorContains(t, err, "not in the contacted node's mesh view")
}

func TestFetchNodeSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","error":"registry unavailable"}`)
	}))
	defer srv.Close()

	_, err := fetchNode(srv.URL, "42")
	require.ErrorContains(t, err, "registry unavailable")
}

func TestRunResolveFindsReachableAddress(t *testing.T) {
	// A live listener stands in for the target node's front door.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := meshViewServer(t, `[
		{"nodeId":"42","deviceName":"field-b","stationIP":"127.0.0.1","apIP":"","meshConnected":true}
	]`)

	err = runResolve([]string{"--addr", srv.URL, "--node", "42", "--port", fmt.Sprint(port)})
	require.NoError(t, err)
}

func TestRunResolveArgErrors(t *testing.T) {
	require.ErrorContains(t, runResolve(nil), "--node is required")
	require.ErrorContains(t,
		runResolve([]string{"--node", "42", "--port", "zero"}),
		"invalid --port")
}
