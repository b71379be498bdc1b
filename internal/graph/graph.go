// Package graph provides dependency graph checks for task and goal graphs.
package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCycleDetected indicates a circular dependency was found.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrUnknownDependency indicates an edge references a node that doesn't exist.
var ErrUnknownDependency = errors.New("unknown dependency")

// Deps maps a node ID to the IDs it depends on.
type Deps map[string][]string

// Validate checks that every referenced dependency exists and that the
// graph is acyclic. Dependency graphs are validated at the point tasks or
// goals are created or linked, so a cyclic graph is rejected with a
// diagnostic instead of leaving nodes permanently unspawnable.
func Validate(deps Deps) error {
	for id, ds := range deps {
		for _, dep := range ds {
			if _, ok := deps[dep]; !ok {
				return fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, id, dep)
			}
		}
	}
	if cycle := findCycle(deps); cycle != nil {
		return fmt.Errorf("%w: %s", ErrCycleDetected, strings.Join(cycle, " -> "))
	}
	return nil
}

// findCycle runs a depth-first search with coloring and returns the first
// cycle found as a path of node IDs, or nil if the graph is acyclic.
func findCycle(deps Deps) []string {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(deps))

	var cycle []string
	var visit func(id string, path []string) bool
	visit = func(id string, path []string) bool {
		colors[id] = 1
		path = append(path, id)

		for _, dep := range deps[id] {
			switch colors[dep] {
			case 1:
				// Back edge: trim the path to the cycle itself.
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, path[start:]...), dep)
				return true
			case 0:
				if visit(dep, path) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for id := range deps {
		if colors[id] == 0 {
			if visit(id, nil) {
				return cycle
			}
		}
	}
	return nil
}

// Ready returns the IDs whose dependencies are all in the done set,
// excluding IDs that are themselves done.
func Ready(deps Deps, done map[string]bool) []string {
	var ready []string
	for id, ds := range deps {
		if done[id] {
			continue
		}
		ok := true
		for _, dep := range ds {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}
