package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/xbuildgo/internal/executor"
)

type emitted struct {
	event   string
	payload map[string]any
}

func TestNotifier_OnEvent(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	var (
		mu  sync.Mutex
		got []emitted
	)
	n := New("pcre2", func(event string, payload any) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, emitted{event: event, payload: payload.(map[string]any)})
	})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// --- Act ---
	n.OnEvent(executor.Event{Target: "linux-x64", From: executor.Pending, To: executor.Generating, Time: at})
	n.OnEvent(executor.Event{Target: "linux-x64", From: executor.Compiling, To: executor.Failed, Err: errors.New("exit 2"), Time: at})
	n.Finished(0, 1, 1)
	n.Close()

	// --- Assert ---
	require.Len(t, got, 3)
	assert.Equal(t, EventTargetState, got[0].event)
	assert.Equal(t, map[string]any{
		"project": "pcre2",
		"target":  "linux-x64",
		"from":    "pending",
		"to":      "generating",
		"time":    "2026-03-01T12:00:00Z",
	}, got[0].payload)
	assert.Equal(t, "exit 2", got[1].payload["error"])
	assert.Equal(t, EventBuildFinished, got[2].event)
	assert.Equal(t, 1, got[2].payload["failed"])
}

func TestConnect_RejectsRelativeURL(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), Config{URL: "build-events"}, "pcre2")
	assert.ErrorContains(t, err, "must be absolute")
}
