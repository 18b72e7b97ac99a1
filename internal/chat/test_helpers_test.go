// ABOUTME: Shared test fixtures for the chat package
// ABOUTME: Builds a full router stack over a real SQLite store and fake transports

package chat

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hostwind/livechat/internal/dedupe"
	"github.com/hostwind/livechat/internal/store"
)

type testEnv struct {
	store     *store.SQLiteStore
	registry  *Registry
	lifecycle *Lifecycle
	typing    *TypingTracker
	router    *Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := NewRegistry(16, nil)
	t.Cleanup(registry.Close)

	typing := NewTypingTracker(5*time.Second, nil)
	dd := dedupe.New(time.Minute, 100)
	t.Cleanup(dd.Close)

	lifecycle := NewLifecycle(st, NewManualClaimPolicy(st), nil)
	router := NewRouter(st, registry, lifecycle, typing, dd, nil)

	return &testEnv{
		store:     st,
		registry:  registry,
		lifecycle: lifecycle,
		typing:    typing,
		router:    router,
	}
}

// recvFrame reads the next frame from a connection's outbox and requires it
// to have the given type, returning the decoded data payload.
func recvFrame(t *testing.T, conn *Conn, want EventType) json.RawMessage {
	t.Helper()

	select {
	case raw, ok := <-conn.Outbox():
		require.True(t, ok, "outbox closed while waiting for %s", want)
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		require.Equal(t, want, env.Type, "unexpected frame: %s", raw)
		return env.Data
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s frame", want)
		return nil
	}
}

// requireNoFrame asserts a connection received nothing
func requireNoFrame(t *testing.T, conn *Conn) {
	t.Helper()

	select {
	case raw, ok := <-conn.Outbox():
		if ok {
			t.Fatalf("unexpected frame: %s", raw)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

// drainFrames collects every frame already queued on a connection, stopping
// once the outbox stays quiet
func drainFrames(t *testing.T, conn *Conn) []Envelope {
	t.Helper()

	var frames []Envelope
	for {
		select {
		case raw, ok := <-conn.Outbox():
			if !ok {
				return frames
			}
			var env Envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			frames = append(frames, env)
		case <-time.After(100 * time.Millisecond):
			return frames
		}
	}
}

func decodeInto(t *testing.T, data json.RawMessage, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}

func sendFrame(t *testing.T, env *testEnv, conn *Conn, eventType EventType, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Type: eventType, Data: payload})
	require.NoError(t, err)

	env.router.HandleFrame(t.Context(), conn, frame)
}
