// Package dag holds a small dependency graph and the worker pool that runs
// its nodes concurrently in dependency order.
//
// A node becomes ready once every node it depends on has succeeded. A failed
// node never releases its dependents: they are skipped, while unrelated nodes
// keep running. Cancelling the context stops new nodes from starting.
package dag
