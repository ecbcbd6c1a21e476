package rpcserver_test

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubeportal/pkg/manager"
	"kubeportal/pkg/rpcserver"
)

// freePort returns an ephemeral loopback port, to avoid flaking on a
// hardcoded one already in use on the test runner.
func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	return ln.Addr().(*net.TCPAddr).Port
}

// newTestServer builds a Server wired to a fresh in-memory Manager (no
// persistence, no config watcher, no Kubernetes access) and returns an
// httptest server exercising it.
func newTestServer(t *testing.T) (*httptest.Server, *manager.Manager) {
	t.Helper()

	mgr, err := manager.New("", false, false, time.Second, nil)
	require.NoError(t, err)

	t.Cleanup(mgr.StopAll)

	srv := rpcserver.New(mgr, "127.0.0.1:0", "test", nil)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(ts.Close)

	return ts, mgr
}

func doRequest(t *testing.T, client *http.Client, method, url string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Buffer

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)

	return resp
}

func TestCreateForwardValidationFailure(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts.Client(), http.MethodPost, ts.URL+"/forwards", map[string]any{
		"name":       "postgres-local",
		"type":       "socket",
		"localPort":  0, // out of range: fails Validate
		"remoteHost": "localhost",
		"remotePort": 5432,
	})
	defer resp.Body.Close()

	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	// localPort 0 fails validation: the mutation envelope reports failure
	// with HTTP 200, not a transport-level error.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
}

func TestCreateAndGetForward(t *testing.T) {
	ts, _ := newTestServer(t)

	port := freePort(t)

	resp := doRequest(t, ts.Client(), http.MethodPost, ts.URL+"/forwards", map[string]any{
		"name":       "cache-local",
		"type":       "socket",
		"localPort":  port,
		"remoteHost": "localhost",
		"remotePort": 6379,
		"enabled":    true,
	})

	var created struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.True(t, created.Success)

	resp = doRequest(t, ts.Client(), http.MethodGet, ts.URL+"/forwards/cache-local", nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched struct {
		Name      string `json:"name"`
		LocalPort int    `json:"localPort"`
		Active    bool   `json:"active"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fetched))

	assert.Equal(t, "cache-local", fetched.Name)
	assert.Equal(t, port, fetched.LocalPort)
	assert.True(t, fetched.Active)
}

func TestGetForwardNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts.Client(), http.MethodGet, ts.URL+"/forwards/does-not-exist", nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetStatus(t *testing.T) {
	mgr, err := manager.New("", false, false, time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(mgr.StopAll)

	srv := rpcserver.New(mgr, "127.0.0.1:0", "v1.2.3", nil)
	ts := httptest.NewServer(srv.Handler())

	defer ts.Close()

	resp := doRequest(t, ts.Client(), http.MethodGet, ts.URL+"/status", nil)
	defer resp.Body.Close()

	var status struct {
		Running bool   `json:"running"`
		Version string `json:"version"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))

	assert.True(t, status.Running)
	assert.Equal(t, "v1.2.3", status.Version)
}

func TestDeleteGroupReportsCount(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts.Client(), http.MethodDelete, ts.URL+"/groups/empty", nil)
	defer resp.Body.Close()

	var out struct {
		Success bool `json:"success"`
		Deleted int  `json:"deleted"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	assert.True(t, out.Success)
	assert.Equal(t, 0, out.Deleted)
}

func TestShutdownInvokesCallback(t *testing.T) {
	mgr, err := manager.New("", false, false, time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(mgr.StopAll)

	called := make(chan struct{}, 1)

	srv := rpcserver.New(mgr, "127.0.0.1:0", "test", func() { called <- struct{}{} })
	ts := httptest.NewServer(srv.Handler())

	defer ts.Close()

	resp := doRequest(t, ts.Client(), http.MethodPost, ts.URL+"/shutdown", nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("onShutdown was not invoked")
	}
}
