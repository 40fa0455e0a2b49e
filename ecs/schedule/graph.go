package schedule

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	ecs "github.com/DangerosoDavo/archecs"
)

type graphNode interface {
	nodeName() string
	nodeLabels() []string
	nodeBefore() []string
	nodeAfter() []string
}

// dependencyGraph maps each node to the nodes it must run after, with the labels that caused each edge.
type dependencyGraph []map[int][]string

func (g dependencyGraph) addEdge(dependant, dependency int, label string) {
	for _, l := range g[dependant][dependency] {
		if l == label {
			return
		}
	}
	g[dependant][dependency] = append(g[dependant][dependency], label)
}

func (g dependencyGraph) sortedDependencies(node int) []int {
	deps := make([]int, 0, len(g[node]))
	for dep := range g[node] {
		deps = append(deps, dep)
	}
	sort.Ints(deps)
	return deps
}

func buildDependencyGraph[N graphNode](nodes []N, logger ecs.Logger) dependencyGraph {
	labelled := make(map[string][]int)
	for i, n := range nodes {
		for _, l := range n.nodeLabels() {
			labelled[l] = append(labelled[l], i)
		}
	}
	graph := make(dependencyGraph, len(nodes))
	for i := range graph {
		graph[i] = make(map[int][]string)
	}
	for i, n := range nodes {
		for _, l := range n.nodeAfter() {
			deps, ok := labelled[l]
			if !ok {
				logger.Warn("wants to be after unknown label", "system", n.nodeName(), "label", l)
				continue
			}
			for _, dep := range deps {
				graph.addEdge(i, dep, l)
			}
		}
		for _, l := range n.nodeBefore() {
			dependants, ok := labelled[l]
			if !ok {
				logger.Warn("wants to be before unknown label", "system", n.nodeName(), "label", l)
				continue
			}
			for _, dependant := range dependants {
				graph.addEdge(dependant, i, l)
			}
		}
	}
	return graph
}

type cycleStep struct {
	node   int
	labels []string
}

// topologicalOrder orders nodes so every node follows its dependencies. Unconstrained nodes keep
// their insertion order. On a cycle it returns the nodes of the cycle instead.
func topologicalOrder(graph dependencyGraph) ([]int, []cycleStep) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]uint8, len(graph))
	sorted := make([]int, 0, len(graph))
	var path []int
	var cycle []cycleStep

	var visit func(n int) bool
	visit = func(n int) bool {
		switch state[n] {
		case done:
			return false
		case visiting:
			start := 0
			for i, p := range path {
				if p == n {
					start = i
					break
				}
			}
			loop := path[start:]
			for i, p := range loop {
				next := loop[(i+1)%len(loop)]
				cycle = append(cycle, cycleStep{node: p, labels: graph[p][next]})
			}
			return true
		}
		state[n] = visiting
		path = append(path, n)
		for _, dep := range graph.sortedDependencies(n) {
			if visit(dep) {
				return true
			}
		}
		path = path[:len(path)-1]
		state[n] = done
		sorted = append(sorted, n)
		return false
	}

	for n := range graph {
		if visit(n) {
			return nil, cycle
		}
	}
	return sorted, nil
}

func cycleError[N graphNode](description string, nodes []N, cycle []cycleStep) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Found a dependency cycle in %s:\n", description)
	for _, step := range cycle {
		fmt.Fprintf(&b, " - %s\n", nodes[step.node].nodeName())
		fmt.Fprintf(&b, "    wants to be after (because of labels: %q)\n", step.labels)
	}
	fmt.Fprintf(&b, " - %s\n", nodes[cycle[0].node].nodeName())
	return eris.Wrap(ErrDependencyCycle, b.String())
}

// invert returns, for each original index, its position in order.
func invert(order []int) []int {
	inverted := make([]int, len(order))
	for pos, old := range order {
		inverted[old] = pos
	}
	return inverted
}

func wrapf(sentinel error, format string, args ...any) error {
	return eris.Wrapf(sentinel, format, args...)
}
