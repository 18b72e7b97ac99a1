// ABOUTME: Shared test fixtures for the server package
// ABOUTME: Boots a full server over a temp SQLite database with token helpers

package server

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hostwind/livechat/internal/auth"
	"github.com/hostwind/livechat/internal/config"
)

const testSecret = "test-secret-for-server-tests"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")},
		Auth:     config.AuthConfig{JWTSecret: testSecret},
		Chat: config.ChatConfig{
			IdleTimeout:          config.DefaultIdleTimeout,
			IdleSweepInterval:    config.DefaultIdleSweepInterval,
			TypingCeiling:        config.DefaultTypingCeiling,
			TypingSweepInterval:  config.DefaultTypingSweepInterval,
			ReconnectGracePeriod: config.DefaultReconnectGracePeriod,
			DedupeTTL:            config.DefaultDedupeTTL,
			SendBuffer:           config.DefaultSendBuffer,
			HistoryLimit:         config.DefaultHistoryLimit,
			DedupeSize:           config.DefaultDedupeSize,
		},
		Logging: config.LoggingConfig{Level: "error", Format: "text"},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	srv, err := New(testConfig(t), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.registry.Close()
		srv.dedupe.Close()
		_ = srv.store.Close()
	})

	return srv
}

func customerToken(t *testing.T, userID string) string {
	t.Helper()
	return signToken(t, userID, auth.RoleCustomer)
}

func adminToken(t *testing.T, userID string) string {
	t.Helper()
	return signToken(t, userID, auth.RoleAdmin)
}

func signToken(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := auth.NewJWTVerifier([]byte(testSecret)).Generate(&auth.Identity{UserID: userID, Role: role}, time.Hour)
	require.NoError(t, err)
	return token
}
