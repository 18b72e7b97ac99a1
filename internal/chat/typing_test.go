// ABOUTME: Tests for the typing presence tracker
// ABOUTME: Covers signal lifecycle, the staleness ceiling, and the expiry sweep

package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingTracker_SetAndClear(t *testing.T) {
	tr := NewTypingTracker(time.Second, nil)

	tr.Set("sess-1", "user-1", true)
	assert.True(t, tr.IsTyping("sess-1", "user-1"))
	assert.False(t, tr.IsTyping("sess-1", "user-2"))

	tr.Set("sess-1", "user-1", false)
	assert.False(t, tr.IsTyping("sess-1", "user-1"))
}

func TestTypingTracker_ClearReportsPriorState(t *testing.T) {
	tr := NewTypingTracker(time.Second, nil)

	tr.Set("sess-1", "user-1", true)
	assert.True(t, tr.Clear("sess-1", "user-1"))
	assert.False(t, tr.Clear("sess-1", "user-1"), "second clear should report not typing")
}

func TestTypingTracker_StalenessCeiling(t *testing.T) {
	tr := NewTypingTracker(20*time.Millisecond, nil)

	tr.Set("sess-1", "user-1", true)
	time.Sleep(40 * time.Millisecond)

	assert.False(t, tr.IsTyping("sess-1", "user-1"), "signal must not outlive the ceiling")
}

func TestTypingTracker_DropSession(t *testing.T) {
	tr := NewTypingTracker(time.Minute, nil)

	tr.Set("sess-1", "user-1", true)
	tr.Set("sess-1", "user-2", true)
	tr.Set("sess-2", "user-3", true)

	tr.DropSession("sess-1")

	assert.False(t, tr.IsTyping("sess-1", "user-1"))
	assert.False(t, tr.IsTyping("sess-1", "user-2"))
	assert.True(t, tr.IsTyping("sess-2", "user-3"))
}

func TestTypingTracker_SweepEmitsExpiry(t *testing.T) {
	tr := NewTypingTracker(10*time.Millisecond, nil)

	tr.Set("sess-1", "user-1", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	expired := make(chan string, 1)
	go tr.Run(ctx, 5*time.Millisecond, func(sessionID, userID string) {
		expired <- sessionID + "|" + userID
	})

	select {
	case got := <-expired:
		require.Equal(t, "sess-1|user-1", got)
	case <-time.After(time.Second):
		t.Fatal("sweep never reported the expired signal")
	}

	assert.False(t, tr.IsTyping("sess-1", "user-1"))
}
