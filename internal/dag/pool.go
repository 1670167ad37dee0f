package dag

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vk/xbuildgo/internal/ctxlog"
)

// Task runs the work of a single node.
type Task func(ctx context.Context, id string) error

// SkippedError is recorded for a node that did not run because one of its
// dependencies failed.
type SkippedError struct {
	ID         string
	Dependency string
}

func (e *SkippedError) Error() string {
	return fmt.Sprintf("skipped %s due to upstream failure of %s", e.ID, e.Dependency)
}

// runNode is the per-run scheduling state of a graph node.
type runNode struct {
	id         string
	depCount   atomic.Int32
	dependents []*runNode
	settleOnce sync.Once
	err        error
}

type pool struct {
	task  Task
	wg    sync.WaitGroup
	ready chan *runNode
}

// Run executes every node of the graph on a pool of workers and returns the
// error of each node, nil for nodes that succeeded. A failing node only skips
// its transitive dependents. Once ctx is cancelled, nodes that have not
// started yet are settled with the context error.
func (g *Graph) Run(ctx context.Context, workers int, task Task) (map[string]error, error) {
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}
	logger := ctxlog.FromContext(ctx)

	g.mutex.RLock()
	nodes := make(map[string]*runNode, len(g.nodes))
	for id := range g.nodes {
		nodes[id] = &runNode{id: id}
	}
	for id, n := range g.nodes {
		rn := nodes[id]
		rn.depCount.Store(int32(len(n.deps)))
		for _, depID := range sortedIDs(n.dependents) {
			rn.dependents = append(rn.dependents, nodes[depID])
		}
	}
	ids := sortedIDs(g.nodes)
	g.mutex.RUnlock()

	p := &pool{task: task, ready: make(chan *runNode, len(nodes))}
	p.wg.Add(len(nodes))

	roots := 0
	for _, id := range ids {
		if n := nodes[id]; n.depCount.Load() == 0 {
			p.ready <- n
			roots++
		}
	}
	logger.Debug("Starting worker pool.", "workers", workers, "nodes", len(nodes), "roots", roots)

	for i := 0; i < workers; i++ {
		go p.worker(ctx, i)
	}
	p.wg.Wait()
	close(p.ready)

	results := make(map[string]error, len(nodes))
	for id, n := range nodes {
		results[id] = n.err
	}
	return results, nil
}

// settle records the outcome of n exactly once.
func (p *pool) settle(n *runNode, err error) {
	n.settleOnce.Do(func() {
		n.err = err
		p.wg.Done()
	})
}

// skipDependents recursively settles every downstream node of a failed node.
func (p *pool) skipDependents(ctx context.Context, n *runNode) {
	for _, dependent := range n.dependents {
		dependent.settleOnce.Do(func() {
			ctxlog.FromContext(ctx).Debug("Skipping node due to upstream failure.", "node", dependent.id, "dependency", n.id)
			dependent.err = &SkippedError{ID: dependent.id, Dependency: n.id}
			p.wg.Done()
			p.skipDependents(ctx, dependent)
		})
	}
}

func (p *pool) worker(ctx context.Context, workerID int) {
	logger := ctxlog.FromContext(ctx).With("worker", workerID)

	for n := range p.ready {
		if err := ctx.Err(); err != nil {
			p.settle(n, err)
			p.skipDependents(ctx, n)
			continue
		}

		if err := p.task(ctx, n.id); err != nil {
			logger.Debug("Node failed.", "node", n.id, "error", err)
			p.settle(n, err)
			p.skipDependents(ctx, n)
			continue
		}
		p.settle(n, nil)

		for _, dependent := range n.dependents {
			if dependent.depCount.Add(-1) == 0 {
				p.ready <- dependent
			}
		}
	}
}
