package main

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/framegate/internal/config"
	"github.com/MrWong99/framegate/internal/observe"
	"github.com/MrWong99/framegate/pkg/codec"
	"github.com/MrWong99/framegate/pkg/codec/mock"
)

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := slogLevel(tc.in); got != tc.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestOpsServer_Routes(t *testing.T) {
	t.Parallel()

	reg := codec.NewRegistry()
	reg.Register(&mock.Engine{EngineName: "opus"})
	reg.Register(&mock.Engine{EngineName: "g722"})
	srv := newOpsServer(":0", reg, observe.DefaultMetrics(), slog.Default())

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200; body: %s", path, rec.Code, rec.Body.String())
		}
	}
}
