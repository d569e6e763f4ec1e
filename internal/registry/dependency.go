package registry

import (
	"sort"
	"sync"
)

// DependencyGraph records, for every compiled template, the names it
// statically includes through Master and Partial directives.
type DependencyGraph struct {
	edges map[string][]string
	mutex sync.RWMutex
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		edges: make(map[string][]string),
	}
}

// Set replaces the dependency entry for name.
func (g *DependencyGraph) Set(name string, deps []string) {
	entry := make([]string, len(deps))
	copy(entry, deps)
	sort.Strings(entry)

	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.edges[name] = entry
}

// Remove deletes the entry for name. Edges pointing at name from other
// entries are kept so its dependents can still be found.
func (g *DependencyGraph) Remove(name string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	delete(g.edges, name)
}

// Reset drops every entry.
func (g *DependencyGraph) Reset() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.edges = make(map[string][]string)
}

// DependenciesOf returns the recorded dependencies of name.
func (g *DependencyGraph) DependenciesOf(name string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	deps := g.edges[name]
	result := make([]string, len(deps))
	copy(result, deps)
	return result
}

// Dependents returns the templates whose entry contains name, sorted.
func (g *DependencyGraph) Dependents(name string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	return g.dependentsLocked(name)
}

func (g *DependencyGraph) dependentsLocked(name string) []string {
	var dependents []string
	for owner, deps := range g.edges {
		for _, dep := range deps {
			if dep == name {
				dependents = append(dependents, owner)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// TransitiveDependents returns every template that includes name directly
// or through other templates, nearest first. name itself is never included.
func (g *DependencyGraph) TransitiveDependents(name string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	visited := map[string]bool{name: true}
	queue := []string{name}
	var result []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, dependent := range g.dependentsLocked(current) {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			result = append(result, dependent)
			queue = append(queue, dependent)
		}
	}

	return result
}

// Graph returns a copy of every entry.
func (g *DependencyGraph) Graph() map[string][]string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	graph := make(map[string][]string, len(g.edges))
	for name, deps := range g.edges {
		graph[name] = make([]string, len(deps))
		copy(graph[name], deps)
	}
	return graph
}

// DetectCycles returns the dependency cycles in the graph, each closed by
// repeating its first name.
func (g *DependencyGraph) DetectCycles() [][]string {
	var cycles [][]string
	graph := g.Graph()

	names := make([]string, 0, len(graph))
	for name := range graph {
		names = append(names, name)
	}
	sort.Strings(names)

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, name := range names {
		if !visited[name] {
			if cycle := detectCycleDFS(name, graph, visited, recStack, nil); cycle != nil {
				cycles = append(cycles, cycle)
			}
		}
	}

	return cycles
}

// detectCycleDFS performs DFS to detect cycles
func detectCycleDFS(name string, graph map[string][]string, visited, recStack map[string]bool, path []string) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, dep := range graph[name] {
		if !visited[dep] {
			if cycle := detectCycleDFS(dep, graph, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dep] {
			cycleStart := -1
			for i, p := range path {
				if p == dep {
					cycleStart = i
					break
				}
			}
			if cycleStart >= 0 {
				cycle := make([]string, len(path)-cycleStart+1)
				copy(cycle, path[cycleStart:])
				cycle[len(cycle)-1] = dep
				return cycle
			}
		}
	}

	recStack[name] = false
	return nil
}
