package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukkani/dukkani/internal/config"
	"github.com/dukkani/dukkani/internal/core/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.GRPC.Addr = "127.0.0.1:0"
	return cfg
}

func TestNew_MemoryStack(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.DB.CreateUser(context.Background(), domain.User{
		ID: "owner", Name: "Owner", Email: "owner@example.com", CreatedAt: time.Now(),
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/stores", strings.NewReader(`{"name":"Souk"}`))
	r.Header.Set("X-User-ID", "owner")
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dukkani_http_request_duration_seconds")
}

func TestNew_BoltTelegramState(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telegram.StateBackend = "bolt"
	cfg.Telegram.StatePath = filepath.Join(t.TempDir(), "state.db")

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Close())
}

func TestNew_UnreachableDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = "postgres://nobody@127.0.0.1:1/none?connect_timeout=1"

	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMigrate_Memory(t *testing.T) {
	assert.NoError(t, Migrate(context.Background(), config.DatabaseConfig{Driver: "memory"}, zerolog.Nop()))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"message":"shown"`)
	assert.Contains(t, out, `"component":"test"`)

	_, err = NewLogger(config.LogConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
}
