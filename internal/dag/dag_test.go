package dag

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.NotNil(t, g.nodes)
	assert.Empty(t, g.nodes)
}

func TestAddNode(t *testing.T) {
	g := New()

	g.AddNode("a")
	assert.Len(t, g.nodes, 1)
	nodeA, ok := g.nodes["a"]
	require.True(t, ok)
	assert.Equal(t, "a", nodeA.id)
	assert.NotNil(t, nodeA.deps)
	assert.NotNil(t, nodeA.dependents)

	g.AddNode("a") // Test idempotency
	assert.Len(t, g.nodes, 1)

	g.AddNode("b")
	assert.Len(t, g.nodes, 2)
	_, ok = g.nodes["b"]
	assert.True(t, ok)
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")

		err := g.AddEdge("a", "b") // b depends on a
		require.NoError(t, err)

		nodeA := g.nodes["a"]
		nodeB := g.nodes["b"]

		assert.Contains(t, nodeA.dependents, "b")
		assert.Equal(t, nodeB, nodeA.dependents["b"])
		assert.Contains(t, nodeB.deps, "a")
		assert.Equal(t, nodeA, nodeB.deps["a"])
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")

		err := g.AddEdge("dne", "a")
		assert.ErrorContains(t, err, "source node not found")

		err = g.AddEdge("a", "dne")
		assert.ErrorContains(t, err, "destination node not found")

		err = g.AddEdge("a", "a")
		assert.ErrorContains(t, err, "self-referential edge")
	})
}

func TestDetectCycles(t *testing.T) {
	t.Run("empty graph has no cycles", func(t *testing.T) {
		g := New()
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("graph with nodes but no edges has no cycles", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		g.AddNode("c")
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("valid dag has no cycles", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		g.AddNode("c")
		g.AddNode("d")
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "c"))
		require.NoError(t, g.AddEdge("a", "c")) // Transitive edge
		require.NoError(t, g.AddEdge("c", "d"))
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("simple direct cycle is detected", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "a")) // Cycle
		err := g.DetectCycles()
		assert.Error(t, err)
		assert.ErrorContains(t, err, "cycle detected")
	})

	t.Run("longer cycle is detected", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		g.AddNode("c")
		g.AddNode("d")
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "c"))
		require.NoError(t, g.AddEdge("c", "d"))
		require.NoError(t, g.AddEdge("d", "a")) // Cycle back to the start
		err := g.DetectCycles()
		assert.Error(t, err)
		assert.ErrorContains(t, err, "cycle detected")
	})

	t.Run("cycle in a disjoint component is detected", func(t *testing.T) {
		g := New()
		// Component 1 (valid)
		g.AddNode("a")
		g.AddNode("b")
		require.NoError(t, g.AddEdge("a", "b"))

		// Component 2 (has a cycle)
		g.AddNode("x")
		g.AddNode("y")
		g.AddNode("z")
		require.NoError(t, g.AddEdge("x", "y"))
		require.NoError(t, g.AddEdge("y", "z"))
		require.NoError(t, g.AddEdge("z", "y")) // Cycle

		err := g.DetectCycles()
		assert.Error(t, err)
		assert.ErrorContains(t, err, "cycle detected")
	})
}

func TestTopologicalOrder(t *testing.T) {
	t.Run("dependencies come first", func(t *testing.T) {
		g := New()
		for _, id := range []string{"build", "generate", "sub-b", "sub-a"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("generate", "build"))
		require.NoError(t, g.AddEdge("sub-a", "build"))
		require.NoError(t, g.AddEdge("sub-b", "build"))

		order, err := g.TopologicalOrder()
		require.NoError(t, err)
		assert.Equal(t, []string{"generate", "sub-a", "sub-b", "build"}, order)
	})

	t.Run("cycle is rejected", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "a"))

		_, err := g.TopologicalOrder()
		assert.ErrorContains(t, err, "cycle detected")
	})
}

func TestDependencies(t *testing.T) {
	g := New()
	g.AddNode("a")
	g.AddNode("b")
	g.AddNode("c")
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("a", "c"))

	deps, err := g.Dependencies("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, deps)

	_, err = g.Dependencies("dne")
	assert.ErrorContains(t, err, "node not found")
	assert.Equal(t, 3, g.Len())
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("runs in dependency order", func(t *testing.T) {
		t.Parallel()

		// --- Arrange ---
		g := New()
		for _, id := range []string{"generate", "sub", "build"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("generate", "build"))
		require.NoError(t, g.AddEdge("sub", "build"))

		var mu sync.Mutex
		var order []string

		// --- Act ---
		results, err := g.Run(context.Background(), 4, func(_ context.Context, id string) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, id)
			return nil
		})

		// --- Assert ---
		require.NoError(t, err)
		require.Len(t, order, 3)
		assert.Equal(t, "build", order[2])
		for id, nodeErr := range results {
			assert.NoError(t, nodeErr, id)
		}
	})

	t.Run("failure skips only dependents", func(t *testing.T) {
		t.Parallel()

		g := New()
		for _, id := range []string{"a1", "a2", "a3", "b1", "b2"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("a1", "a2"))
		require.NoError(t, g.AddEdge("a2", "a3"))
		require.NoError(t, g.AddEdge("b1", "b2"))

		boom := errors.New("boom")
		results, err := g.Run(context.Background(), 2, func(_ context.Context, id string) error {
			if id == "a1" {
				return boom
			}
			return nil
		})

		require.NoError(t, err)
		assert.ErrorIs(t, results["a1"], boom)

		var skipped *SkippedError
		require.ErrorAs(t, results["a2"], &skipped)
		assert.Equal(t, "a1", skipped.Dependency)
		require.ErrorAs(t, results["a3"], &skipped)
		assert.Equal(t, "a2", skipped.Dependency)

		assert.NoError(t, results["b1"])
		assert.NoError(t, results["b2"])
	})

	t.Run("bounded concurrency", func(t *testing.T) {
		t.Parallel()

		g := New()
		for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
			g.AddNode(id)
		}

		var running, peak atomic.Int32
		_, err := g.Run(context.Background(), 2, func(_ context.Context, _ string) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		})

		require.NoError(t, err)
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("cancellation settles unstarted nodes", func(t *testing.T) {
		t.Parallel()

		g := New()
		g.AddNode("first")
		g.AddNode("second")
		require.NoError(t, g.AddEdge("first", "second"))
		g.AddNode("other")

		ctx, cancel := context.WithCancel(context.Background())
		results, err := g.Run(ctx, 1, func(ctx context.Context, id string) error {
			if id == "first" {
				cancel()
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		})

		require.NoError(t, err)
		assert.ErrorIs(t, results["first"], context.Canceled)
		assert.ErrorIs(t, results["other"], context.Canceled)
		var skipped *SkippedError
		assert.ErrorAs(t, results["second"], &skipped)
	})

	t.Run("cycle is rejected before running", func(t *testing.T) {
		t.Parallel()

		g := New()
		g.AddNode("a")
		g.AddNode("b")
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "a"))

		_, err := g.Run(context.Background(), 1, func(context.Context, string) error {
			t.Fatal("task must not run")
			return nil
		})
		assert.ErrorContains(t, err, "cycle detected")
	})
}
