package app

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btcproxy/internal/shared/types"
)

func testConfig(t *testing.T, upstreamURL string) *types.Config {
	t.Helper()
	u, err := url.Parse(upstreamURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := types.DefaultConfig()
	cfg.NetConf.ListenPort = 0
	cfg.NetConf.DestIP = host
	cfg.NetConf.DestPort = port
	cfg.NetConf.DestUser = "rpcuser"
	cfg.NetConf.DestPassword = "rpcpass"
	cfg.NetConf.RequestTimeout = 5
	return cfg
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	bitcoind := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rpcuser" || pass != "rpcpass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"result":800000,"error":null}`)
	}))
	defer bitcoind.Close()

	s, err := New(testConfig(t, bitcoind.URL))
	require.NoError(t, err)
	require.NoError(t, s.web.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	resp, err := http.Post("http://"+s.Addr()+"/", "application/json",
		bytes.NewBufferString(`{"method":"getblockcount","params":[]}`))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"result":800000,"error":null}`, string(body))
	assert.Equal(t, uint64(1), s.Snapshot().Requests)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, 0, s.supervisor.InFlight())
}

func TestNew_WithSocks5Upstream(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.NetConf.DestUser = "rpcuser"
	cfg.NetConf.DestPassword = "rpcpass"
	cfg.NetConf.DestSocks5 = "127.0.0.1:9050"

	s, err := New(cfg)

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8331", s.Addr())
}

func TestRun_ListenFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := testConfig(t, "http://127.0.0.1:8332")
	cfg.NetConf.ListenPort = occupied.Addr().(*net.TCPAddr).Port

	s, err := New(cfg)
	require.NoError(t, err)

	assert.Error(t, s.Run(context.Background()))
}
