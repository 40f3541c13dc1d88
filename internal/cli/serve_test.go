package cli

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillsync/internal/config"
	"github.com/roach88/tillsync/internal/httpapi"
)

func serveOptions(t *testing.T) *RootOptions {
	t.Helper()
	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	cfg.Store.Path = filepath.Join(t.TempDir(), "tillsync.db")
	cfg.Auth.JWTSecret = testSecret
	return &RootOptions{
		Format: "text",
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestServe_HealthAndShutdown(t *testing.T) {
	opts := serveOptions(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, opts, ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/api/v1/sessions/S1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := httpapi.NewAuthenticator(testSecret).Issue(httpapi.Principal{Subject: "K1", Role: httpapi.RoleCashier}, time.Minute)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/api/v1/sessions/S1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServe_RequiresSecret(t *testing.T) {
	opts := serveOptions(t)
	opts.Config.Auth.JWTSecret = ""

	err := runServe(context.Background(), opts, nil)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestOpenBackend_UnknownDriver(t *testing.T) {
	_, err := openBackend(context.Background(), config.StoreConfig{Driver: "mysql"}, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown store driver "mysql"`)
}
