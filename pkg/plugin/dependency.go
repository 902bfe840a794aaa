package plugin

import (
	"sort"

	"github.com/moduforge/moduforge-go/pkg/forgeerror"
)

// DependencyGraph resolves plugin registration order, per spec.md §4.3.
type DependencyGraph struct {
	byName map[string]*Plugin
	order  []string // registration order, for deterministic iteration of byName
}

// NewDependencyGraph returns an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{byName: map[string]*Plugin{}}
}

// Register adds a plugin node. Duplicate names are rejected.
func (g *DependencyGraph) Register(p *Plugin) error {
	if _, dup := g.byName[p.Metadata.Name]; dup {
		return forgeerror.DuplicateRegistration(p.Metadata.Name)
	}
	g.byName[p.Metadata.Name] = p
	g.order = append(g.order, p.Metadata.Name)
	return nil
}

// Unregister removes a plugin node by name.
func (g *DependencyGraph) Unregister(name string) {
	delete(g.byName, name)
	for i, n := range g.order {
		if n == name {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// Build validates the graph and returns plugins in canonical execution
// order. Steps, per spec.md §4.3:
//  1. missing-dependency check
//  2. cycle detection (DFS + recursion stack, rotated-to-smallest cycles)
//  3. conflict check
//  4. topological sort, ties broken by ascending priority then name
func (g *DependencyGraph) Build() ([]*Plugin, error) {
	if err := g.checkMissingDependencies(); err != nil {
		return nil, err
	}
	if cycles := g.findCycles(); len(cycles) > 0 {
		return nil, forgeerror.CircularDependency(cycles)
	}
	if err := g.checkConflicts(); err != nil {
		return nil, err
	}
	return g.topoSort(), nil
}

func (g *DependencyGraph) checkMissingDependencies() error {
	names := g.sortedNames()
	for _, name := range names {
		p := g.byName[name]
		var missing []string
		for _, dep := range p.Metadata.Dependencies {
			if _, ok := g.byName[dep]; !ok {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return forgeerror.MissingDependency(name, missing)
		}
	}
	return nil
}

func (g *DependencyGraph) checkConflicts() error {
	for _, name := range g.sortedNames() {
		p := g.byName[name]
		for _, c := range p.Metadata.Conflicts {
			if _, ok := g.byName[c]; ok {
				return forgeerror.Conflict(name, c)
			}
		}
	}
	return nil
}

// findCycles runs DFS with a recursion stack; whenever a back-edge is found
// the cycle is sliced from the path, rotated to start at its
// lexicographically smallest member, and deduplicated against cycles
// already found (per spec.md §4.3 step 2 and scenario S3 in §9).
func (g *DependencyGraph) findCycles() [][]string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}
	var path []string
	pathIndex := map[string]int{}
	seen := map[string]bool{}
	var cycles [][]string

	var dfs func(name string)
	dfs = func(name string) {
		state[name] = visiting
		pathIndex[name] = len(path)
		path = append(path, name)

		deps := append([]string(nil), g.byName[name].Metadata.Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := g.byName[dep]; !ok {
				continue // already reported as a missing dependency
			}
			switch state[dep] {
			case unvisited:
				dfs(dep)
			case visiting:
				cycle := append([]string(nil), path[pathIndex[dep]:]...)
				rotated := rotateToSmallest(cycle)
				key := joinCycle(rotated)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, rotated)
				}
			}
		}

		path = path[:len(path)-1]
		delete(pathIndex, name)
		state[name] = done
	}

	for _, name := range g.sortedNames() {
		if state[name] == unvisited {
			dfs(name)
		}
	}
	return cycles
}

func rotateToSmallest(cycle []string) []string {
	minIdx := 0
	for i, n := range cycle {
		if n < cycle[minIdx] {
			minIdx = i
		}
	}
	out := make([]string, len(cycle))
	copy(out, cycle[minIdx:])
	copy(out[len(cycle)-minIdx:], cycle[:minIdx])
	return out
}

func joinCycle(cycle []string) string {
	out := ""
	for i, n := range cycle {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}

// topoSort produces the base order via Kahn's algorithm (dependency edges
// dependent->dependency mean a plugin's dependencies must come first), with
// ties broken by ascending priority then name.
func (g *DependencyGraph) topoSort() []*Plugin {
	inDegree := map[string]int{}
	dependents := map[string][]string{} // dependency -> plugins depending on it
	for _, name := range g.order {
		inDegree[name] = 0
	}
	for _, name := range g.order {
		p := g.byName[name]
		for _, dep := range p.Metadata.Dependencies {
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for _, name := range g.order {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	var out []*Plugin
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			pi, pj := g.byName[ready[i]], g.byName[ready[j]]
			if pi.Metadata.Priority != pj.Metadata.Priority {
				return pi.Metadata.Priority < pj.Metadata.Priority
			}
			return ready[i] < ready[j]
		})
		next := ready[0]
		ready = ready[1:]
		out = append(out, g.byName[next])

		for _, dependent := range dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	return out
}

func (g *DependencyGraph) sortedNames() []string {
	names := make([]string, 0, len(g.byName))
	for n := range g.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
