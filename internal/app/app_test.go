package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/utilibill/utilibill/internal/observability"
	settlementhttp "github.com/utilibill/utilibill/internal/settlement/http"
	_ "github.com/utilibill/utilibill/internal/testing/guard"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PAYMENT_GATEWAY_URL", "http://gateway.local")
	t.Setenv("SETTLEMENT_TIMEZONE", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 24*time.Hour, cfg.SelectionTTL)
	require.Equal(t, "0 6 * * *", cfg.ExpiryScanCron)
	require.Equal(t, 720*time.Hour, cfg.IdempotencyTTL)
	require.False(t, cfg.IsProduction())

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)
}

func TestLoadConfigRequiresGateway(t *testing.T) {
	t.Setenv("PAYMENT_GATEWAY_URL", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("PAYMENT_GATEWAY_URL", "http://gateway.local")
	t.Setenv("SETTLEMENT_TIMEZONE", "Mars/Olympus")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "Mars/Olympus")
}

func TestInTestModeFromGuard(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())
}

func newTestRouter(t *testing.T, cfg *Config) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(RouterParams{
		Logger:            logger,
		Config:            cfg,
		SettlementHandler: settlementhttp.NewHandler(logger, nil),
		Metrics:           observability.NewMetrics(),
	})
}

func TestRouterHealthAndSecureHeaders(t *testing.T) {
	router := newTestRouter(t, &Config{AppEnv: "development"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestRouterRequiresIdentityOnSettlementRoutes(t *testing.T) {
	router := newTestRouter(t, &Config{AppEnv: "development"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/settlement/classify", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRateLimitIsPerActor(t *testing.T) {
	router := newTestRouter(t, &Config{AppEnv: "development", RateLimitPerMinute: 2})

	send := func(actor string) int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Actor-ID", actor)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusOK, send("1"))
	require.Equal(t, http.StatusOK, send("1"))
	require.Equal(t, http.StatusTooManyRequests, send("1"))
	require.Equal(t, http.StatusOK, send("2"))
}

func TestConnectionOptions(t *testing.T) {
	cfg := &Config{
		PGDSN:         "postgres://localhost/utilibill",
		PGMaxConns:    4,
		RedisAddr:     "redis:6379",
		RedisPassword: "secret",
		RedisDB:       3,
	}
	pg := cfg.Postgres("worker")
	require.Equal(t, "utilibill-worker", pg.ApplicationName)
	require.Equal(t, int32(4), pg.MaxConns)

	queue := cfg.Redis().AsynqOpts()
	require.Equal(t, "redis:6379", queue.Addr)
	require.Equal(t, 3, queue.DB)
}
