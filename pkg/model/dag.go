package model

import (
	"fmt"
	"sort"
	"strings"
)

// EdgeType classifies a dependency edge.
type EdgeType string

const (
	// EdgeAlgebraic links a variable referenced by an algebraic equation to its target.
	EdgeAlgebraic EdgeType = "algebraic"

	// EdgeDifferential links a variable referenced by a differential equation to its state.
	// These edges never form cycles: the state value is integrated, not computed.
	EdgeDifferential EdgeType = "differential"

	// EdgeConnection links a connection source to its Mapped variable.
	EdgeConnection EdgeType = "connection"
)

// GraphEdge is a derived dependency edge: To needs From.
type GraphEdge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Type EdgeType `json:"type"`
}

// DependencyGraph is the variable dependency graph derived from a model.
type DependencyGraph struct {
	// Nodes are qualified variable names, in model creation order.
	Nodes []string `json:"nodes"`

	// Edges are all derived edges.
	Edges []GraphEdge `json:"edges"`

	// Levels groups nodes by evaluation level; nodes at level 0 need nothing
	// computed in the same step.
	Levels [][]string `json:"levels"`
}

// DAGBuilder derives the dependency graph of a model, checks it is acyclic
// and computes evaluation levels.
type DAGBuilder struct {
	model *Model

	// vars maps qualified names to variables
	vars map[string]*Variable

	// adjacencyList maps a node to the nodes that need it
	adjacencyList map[string][]string

	// reverseAdjacencyList maps a node to the nodes it needs
	reverseAdjacencyList map[string][]string

	// inDegree counts same-step dependencies per node
	inDegree map[string]int

	nodes  []string
	edges  []GraphEdge
	levels [][]string
}

// NewDAGBuilder creates a DAG builder over m.
func NewDAGBuilder(m *Model) *DAGBuilder {
	return &DAGBuilder{
		model:                m,
		vars:                 make(map[string]*Variable),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
}

// BuildGraph derives edges, detects cycles and computes levels.
func (b *DAGBuilder) BuildGraph() (*DependencyGraph, error) {
	if err := b.initialize(); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeLevels(); err != nil {
		return nil, err
	}
	return &DependencyGraph{Nodes: b.nodes, Edges: b.edges, Levels: b.levels}, nil
}

// initialize indexes live variables and derives edges from equations and connections.
func (b *DAGBuilder) initialize() error {
	for _, v := range b.model.Variables() {
		name := v.QualifiedName()
		b.vars[name] = v
		b.nodes = append(b.nodes, name)
		b.inDegree[name] = 0
	}

	for _, eq := range b.model.Equations() {
		target := eq.TargetRef().String()
		if _, ok := b.vars[target]; !ok {
			return NewStructuralError(InvariantLiveReference, "equation target is not a live variable", nil).
				WithName(target)
		}
		edgeType := EdgeAlgebraic
		if eq.IsDifferential() {
			edgeType = EdgeDifferential
		}
		for _, name := range References(eq.RHS) {
			dep := VarRef{Namespace: eq.Namespace, Name: name}.String()
			if IsQualified(name) {
				dep = name
			}
			if _, ok := b.vars[dep]; !ok {
				return NewStructuralError(InvariantLiveReference, "equation references a missing variable", nil).
					WithName(target).WithDetail("reference", dep)
			}
			b.addEdge(dep, target, edgeType)
		}
	}

	for _, c := range b.model.Connections() {
		from, to := c.From.String(), c.To.String()
		if _, ok := b.vars[from]; !ok {
			return NewStructuralError(InvariantLiveReference, "connection source is not a live variable", nil).
				WithName(to).WithDetail("from", from)
		}
		if _, ok := b.vars[to]; !ok {
			return NewStructuralError(InvariantLiveReference, "connection target is not a live variable", nil).
				WithName(to)
		}
		b.addEdge(from, to, EdgeConnection)
	}
	return nil
}

func (b *DAGBuilder) addEdge(from, to string, edgeType EdgeType) {
	b.edges = append(b.edges, GraphEdge{From: from, To: to, Type: edgeType})
	if edgeType == EdgeDifferential {
		return
	}
	b.adjacencyList[from] = append(b.adjacencyList[from], to)
	b.reverseAdjacencyList[to] = append(b.reverseAdjacencyList[to], from)
	b.inDegree[to]++
}

// detectCycles uses depth-first search over same-step edges.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range b.nodes {
		if !visited[id] {
			if cycle := b.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
				return NewStructuralError(InvariantAcyclic,
					fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil).
					WithName(cycle[0])
			}
		}
	}
	return nil
}

// detectCyclesUtil returns the cycle path if one is reachable from nodeID.
func (b *DAGBuilder) detectCyclesUtil(
	nodeID string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range b.adjacencyList[nodeID] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					return append(append([]string(nil), path[i:]...), dependent)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// computeLevels assigns evaluation levels using Kahn's algorithm. Each level
// is sorted lexically so output is stable.
func (b *DAGBuilder) computeLevels() error {
	inDegreeCopy := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegreeCopy[id] = degree
	}

	currentLevel := make([]string, 0)
	for _, id := range b.nodes {
		if inDegreeCopy[id] == 0 {
			currentLevel = append(currentLevel, id)
		}
	}

	processed := 0
	for len(currentLevel) > 0 {
		sort.Strings(currentLevel)
		b.levels = append(b.levels, currentLevel)
		processed += len(currentLevel)

		nextLevel := make([]string, 0)
		for _, nodeID := range currentLevel {
			for _, dependent := range b.adjacencyList[nodeID] {
				inDegreeCopy[dependent]--
				if inDegreeCopy[dependent] == 0 {
					nextLevel = append(nextLevel, dependent)
				}
			}
		}
		currentLevel = nextLevel
	}

	if processed != len(b.nodes) {
		return NewStructuralError(InvariantAcyclic, "failed to order all variables", nil)
	}
	return nil
}

// Dependencies returns the same-step dependencies of a node.
func (b *DAGBuilder) Dependencies(name string) []string {
	return b.reverseAdjacencyList[name]
}

// GetLevels returns the computed evaluation levels.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ToDOT renders the graph in DOT format, one cluster per namespace.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph DependencyGraph {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	byNamespace := make(map[string][]*Variable)
	for _, name := range b.nodes {
		v := b.vars[name]
		byNamespace[v.Namespace] = append(byNamespace[v.Namespace], v)
	}

	for i, ns := range b.model.Namespaces() {
		vars := byNamespace[ns.Name]
		if len(vars) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("  subgraph cluster_%d {\n", i))
		sb.WriteString(fmt.Sprintf("    label=\"%s\";\n", ns.Name))
		sb.WriteString("    style=dashed;\n")
		for _, v := range vars {
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\\n%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				v.QualifiedName(), v.Name, v.Kind, getKindColor(v.Kind)))
		}
		sb.WriteString("  }\n\n")
	}

	for _, e := range b.edges {
		sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [%s];\n", e.From, e.To, getEdgeStyle(e.Type)))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}

func getKindColor(k Kind) string {
	switch k {
	case KindState:
		return "lightgreen"
	case KindComputed:
		return "lightblue"
	case KindConstant:
		return "lightyellow"
	case KindMapped:
		return "lightgray"
	case KindFree:
		return "orange"
	default:
		return "white"
	}
}

func getEdgeStyle(t EdgeType) string {
	switch t {
	case EdgeDifferential:
		return "style=dashed, color=darkgreen"
	case EdgeConnection:
		return "style=dotted, color=gray"
	default:
		return "style=solid, color=black"
	}
}
