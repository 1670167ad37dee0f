package executor

import (
	"fmt"

	"github.com/vk/xbuildgo/internal/dag"
	"github.com/vk/xbuildgo/internal/toolchain"
)

func generateID(target string) string { return "generate:" + target }

func buildID(target string) string { return "build:" + target }

func subID(target, sub string) string { return "sub:" + target + ":" + sub }

// unitGraph builds the dependency graph of every unit of the given plans.
// Subdirectories and generation of a target precede its build unit.
func unitGraph(plans []*toolchain.BuildPlan) (*dag.Graph, error) {
	g := dag.New()
	add := func(id string) bool {
		before := g.Len()
		g.AddNode(id)
		return g.Len() > before
	}

	for _, plan := range plans {
		name := plan.Target.DirName()
		if !add(generateID(name)) {
			return nil, fmt.Errorf("target %s is planned more than once", name)
		}
		add(buildID(name))
		if err := g.AddEdge(generateID(name), buildID(name)); err != nil {
			return nil, err
		}
		for _, sub := range plan.Subprojects {
			id := subID(name, sub.Name)
			if !add(id) {
				return nil, fmt.Errorf("subdirectory %s of target %s is planned more than once", sub.Name, name)
			}
			if err := g.AddEdge(id, buildID(name)); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// ScheduledUnit is one schedulable unit of work and the units it waits for.
type ScheduledUnit struct {
	ID    string
	After []string
}

// Schedule lists the units Run would execute for plans, each after all of
// its dependencies. The order is deterministic.
func Schedule(plans []*toolchain.BuildPlan) ([]ScheduledUnit, error) {
	g, err := unitGraph(plans)
	if err != nil {
		return nil, err
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	units := make([]ScheduledUnit, 0, len(order))
	for _, id := range order {
		deps, err := g.Dependencies(id)
		if err != nil {
			return nil, err
		}
		units = append(units, ScheduledUnit{ID: id, After: deps})
	}
	return units, nil
}
