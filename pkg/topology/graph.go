package topology

import (
	"fmt"
	"sort"
)

// stageGraph is a directed graph of stage placement edges (preceding -> stage).
type stageGraph struct {
	nodes map[StageRef]*graphNode
	edges map[StageRef][]StageRef
}

type graphNode struct {
	Name     StageRef
	InDegree int
	Visited  bool
	InStack  bool
}

func newStageGraph() *stageGraph {
	return &stageGraph{
		nodes: make(map[StageRef]*graphNode),
		edges: make(map[StageRef][]StageRef),
	}
}

func (g *stageGraph) addStage(name StageRef) {
	if _, exists := g.nodes[name]; !exists {
		g.nodes[name] = &graphNode{Name: name}
		g.edges[name] = []StageRef{}
	}
}

func (g *stageGraph) addEdge(from, to StageRef) error {
	if _, exists := g.nodes[from]; !exists {
		return fmt.Errorf("stage %s not found", from)
	}
	if _, exists := g.nodes[to]; !exists {
		return fmt.Errorf("stage %s not found", to)
	}
	g.edges[from] = append(g.edges[from], to)
	g.nodes[to].InDegree++
	return nil
}

// graphFromStages builds the placement graph of an ordered stage list.
func graphFromStages(stages []StageSpec) (*stageGraph, error) {
	g := newStageGraph()
	for _, s := range stages {
		g.addStage(s.Name)
	}
	for _, s := range stages {
		if prev, ok := s.PrecedingStage(); ok {
			if err := g.addEdge(prev, s.Name); err != nil {
				return nil, &TopologyError{Stage: string(s.Name), Reference: string(prev), Reason: ReasonUnresolvedPlacement}
			}
		}
	}
	return g, nil
}

// detectCycle returns one cycle path, or nil.
func (g *stageGraph) detectCycle() []StageRef {
	for _, node := range g.nodes {
		node.Visited = false
		node.InStack = false
	}
	for _, name := range g.sortedNames() {
		if !g.nodes[name].Visited {
			if cycle := g.dfsDetectCycle(name, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (g *stageGraph) dfsDetectCycle(name StageRef, path []StageRef) []StageRef {
	node := g.nodes[name]
	node.Visited = true
	node.InStack = true
	path = append(path, name)

	for _, next := range g.edges[name] {
		nextNode := g.nodes[next]
		if nextNode.InStack {
			for i, p := range path {
				if p == next {
					return append(path[i:], next)
				}
			}
		}
		if !nextNode.Visited {
			if cycle := g.dfsDetectCycle(next, path); cycle != nil {
				return cycle
			}
		}
	}
	node.InStack = false
	return nil
}

// topologicalSort orders stages with Kahn's algorithm; ties break by name.
func (g *stageGraph) topologicalSort() ([]StageRef, error) {
	if cycle := g.detectCycle(); cycle != nil {
		return nil, fmt.Errorf("circular placement detected: %v", cycle)
	}

	inDegree := make(map[StageRef]int, len(g.nodes))
	var queue []StageRef
	for _, name := range g.sortedNames() {
		inDegree[name] = g.nodes[name].InDegree
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	result := make([]StageRef, 0, len(g.nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		next := append([]StageRef(nil), g.edges[current]...)
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		for _, n := range next {
			inDegree[n]--
			if inDegree[n] == 0 {
				queue = append(queue, n)
			}
		}
	}
	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("topological sort failed - graph contains cycles")
	}
	return result, nil
}

// roots returns stages with no preceding stage.
func (g *stageGraph) roots() []StageRef {
	var out []StageRef
	for _, name := range g.sortedNames() {
		if g.nodes[name].InDegree == 0 {
			out = append(out, name)
		}
	}
	return out
}

func (g *stageGraph) dependents(name StageRef) []StageRef {
	return append([]StageRef(nil), g.edges[name]...)
}

func (g *stageGraph) sortedNames() []StageRef {
	names := make([]StageRef, 0, len(g.nodes))
	for n := range g.nodes {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
