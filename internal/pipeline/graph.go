package pipeline

import (
	"errors"
	"fmt"

	"github.com/gammazero/toposort"

	"github.com/aristath/blogflow/internal/stage"
)

// ErrTerminal is returned by Next for stages that have no successor.
var ErrTerminal = errors.New("stage is terminal")

// Guard names the condition under which a review edge is taken.
type Guard int

const (
	Always Guard = iota
	Passed
	NeedsRewrite
	Exhausted
)

func (g Guard) String() string {
	switch g {
	case Always:
		return "always"
	case Passed:
		return "passed"
	case NeedsRewrite:
		return "needs_rewrite"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("guard(%d)", int(g))
	}
}

// Edge is a directed transition between stages. Loop edges close the
// rewrite cycle and are excluded from the acyclicity check.
type Edge struct {
	From  stage.ID
	To    stage.ID
	Guard Guard
	Loop  bool
}

// Graph is the fixed pipeline topology together with its routing policy.
type Graph struct {
	edges            []Edge
	PublishThreshold int
	MaxRewrites      int
}

// DefaultEdges is the pipeline topology.
func DefaultEdges() []Edge {
	return []Edge{
		{From: stage.Research, To: stage.Draft, Guard: Always},
		{From: stage.Draft, To: stage.Review, Guard: Always},
		{From: stage.Review, To: stage.Publish, Guard: Passed},
		{From: stage.Review, To: stage.Rewrite, Guard: NeedsRewrite},
		{From: stage.Review, To: stage.Failure, Guard: Exhausted},
		{From: stage.Rewrite, To: stage.Review, Guard: Always, Loop: true},
	}
}

// NewGraph builds the pipeline graph and validates it.
func NewGraph(threshold, maxRewrites int) (*Graph, error) {
	g := &Graph{
		edges:            DefaultEdges(),
		PublishThreshold: threshold,
		MaxRewrites:      maxRewrites,
	}
	if _, err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Edges returns a copy of the graph's edges.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Validate proves the spine (every non-loop edge) is acyclic and that each
// review guard is routed exactly once. It returns the stages in topological
// order.
func (g *Graph) Validate() ([]stage.ID, error) {
	if g.PublishThreshold < 0 || g.PublishThreshold > 100 {
		return nil, fmt.Errorf("publish threshold %d out of range 0-100", g.PublishThreshold)
	}
	if g.MaxRewrites < 0 {
		return nil, fmt.Errorf("max rewrites must not be negative, got %d", g.MaxRewrites)
	}

	guards := make(map[Guard]int)
	var edges []toposort.Edge
	for _, e := range g.edges {
		if e.From == stage.Review {
			guards[e.Guard]++
		}
		if e.From.Terminal() {
			return nil, fmt.Errorf("terminal stage %s has an outgoing edge", e.From)
		}
		if e.Loop {
			continue
		}
		edges = append(edges, toposort.Edge{e.From, e.To})
	}
	for _, guard := range []Guard{Passed, NeedsRewrite, Exhausted} {
		if guards[guard] != 1 {
			return nil, fmt.Errorf("review guard %s must be routed exactly once, found %d", guard, guards[guard])
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("pipeline graph contains cycle: %w", err)
	}

	order := make([]stage.ID, 0, len(sorted))
	for _, n := range sorted {
		if n != nil {
			order = append(order, n.(stage.ID))
		}
	}
	return order, nil
}

// Decide picks the review edge for a score and the rewrites already spent.
func (g *Graph) Decide(score, rewrites int) Guard {
	switch {
	case score >= g.PublishThreshold:
		return Passed
	case rewrites < g.MaxRewrites:
		return NeedsRewrite
	default:
		return Exhausted
	}
}

// Next returns the stage that follows from. score and rewrites only matter
// after Review.
func (g *Graph) Next(from stage.ID, score, rewrites int) (stage.ID, error) {
	switch from {
	case stage.Research, stage.Draft, stage.Rewrite:
		return g.follow(from, Always)
	case stage.Review:
		return g.follow(from, g.Decide(score, rewrites))
	case stage.Publish, stage.Failure:
		return 0, fmt.Errorf("%s: %w", from, ErrTerminal)
	default:
		return 0, fmt.Errorf("unknown stage %d", int(from))
	}
}

func (g *Graph) follow(from stage.ID, guard Guard) (stage.ID, error) {
	for _, e := range g.edges {
		if e.From == from && e.Guard == guard {
			return e.To, nil
		}
	}
	return 0, fmt.Errorf("no %s edge from %s", guard, from)
}
