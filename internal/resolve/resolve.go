// Package resolve implements the backtracking dependency resolution engine
// (C8): given a set of root requirements and an internal/provider.Provider,
// it produces a pinned candidate for every transitively reachable package
// plus the dependency graph between them.
//
// This replaces the teacher's internal/resolver, a BFS queue with simple
// per-name constraint accumulation and no incompatibility tracking or
// rollback — that approach cannot express "this candidate looked fine in
// isolation but conflicts with an already-pinned sibling, try the next
// one." The algorithm here follows the conflict-driven backtracking shape
// described by resolvelib (which original_source's resolution.py drives):
// pick the next unpinned identifier (direct before transitive, then by
// name), try its candidates
// newest-first, and on total failure unwind the most recent pin rather
// than giving up immediately.
package resolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/aboutcode-org/pyresolve/internal/provider"
	"github.com/aboutcode-org/pyresolve/internal/requirement"
)

// rootID is the synthetic parent identifier for directly requested
// packages, matching resolvelib's convention of a nil/None parent.
const rootID = ""

// DefaultMaxRounds matches python-inspector's CLI default.
const DefaultMaxRounds = 200000

// Graph is the directed dependency graph between pinned identifiers, with
// rootID as the synthetic root.
type Graph struct {
	children map[string]map[string]bool
}

func newGraph() *Graph {
	return &Graph{children: map[string]map[string]bool{}}
}

func (g *Graph) addEdge(parent, child string) {
	if g.children[parent] == nil {
		g.children[parent] = map[string]bool{}
	}

	g.children[parent][child] = true
}

func (g *Graph) removeEdge(parent, child string) {
	if g.children[parent] != nil {
		delete(g.children[parent], child)
	}
}

// Children returns the identifiers parent introduced, sorted.
func (g *Graph) Children(parent string) []string {
	out := make([]string, 0, len(g.children[parent]))
	for id := range g.children[parent] {
		out = append(out, id)
	}

	sort.Strings(out)

	return out
}

// Roots returns every identifier whose only parent is rootID, i.e. the
// directly requested packages that no other package depends on, matching
// resolution.py's get_all_srcs.
func (g *Graph) Roots() []string {
	var out []string

	for _, id := range g.Children(rootID) {
		shared := false

		for parent, kids := range g.children {
			if parent != rootID && kids[id] {
				shared = true
				break
			}
		}

		if !shared {
			out = append(out, id)
		}
	}

	return out
}

// ResolutionImpossibleError reports that no assignment of candidates
// satisfies every requirement, even after exhausting backtracking.
type ResolutionImpossibleError struct {
	Identifier string
}

func (e *ResolutionImpossibleError) Error() string {
	return fmt.Sprintf("resolve: resolution impossible, no compatible version of %s satisfies all constraints", e.Identifier)
}

// ResolutionTooDeepError reports that the search exceeded MaxRounds without
// converging, guarding against pathological or cyclic dependency graphs.
type ResolutionTooDeepError struct {
	MaxRounds int
}

func (e *ResolutionTooDeepError) Error() string {
	return fmt.Sprintf("resolve: exceeded %d rounds without converging", e.MaxRounds)
}

// Result is a completed resolution.
type Result struct {
	Mapping map[string]provider.Candidate
	Graph   *Graph
}

// criterion is the accumulated state for one identifier: every requirement
// placed on it so far, every candidate ruled out, and the set of parent
// identifiers (or rootID) that placed a requirement on it.
type criterion struct {
	requirements      []requirement.Requirement
	incompatibilities []provider.Candidate
	parents           map[string]bool
}

func (c *criterion) transitive() bool {
	return !c.parents[rootID]
}

// pin records one accepted (identifier -> candidate) assignment, along
// with everything it added, so a later backtrack can undo it precisely.
type pin struct {
	id        string
	candidate provider.Candidate
	addedTo   []string // identifiers whose criterion gained a new requirement because of this pin
	edges     []string // child identifiers this pin introduced an edge to
}

// Engine drives the search using a Provider.
type Engine struct {
	Provider  *provider.Provider
	MaxRounds int
}

// New builds an Engine. maxRounds <= 0 uses DefaultMaxRounds.
func New(p *provider.Provider, maxRounds int) *Engine {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	return &Engine{Provider: p, MaxRounds: maxRounds}
}

// Resolve pins a candidate for every package transitively reachable from
// roots.
func (e *Engine) Resolve(ctx context.Context, roots []requirement.Requirement) (*Result, error) {
	criteria := map[string]*criterion{}
	mapping := map[string]provider.Candidate{}
	graph := newGraph()

	var trail []pin

	addRequirement := func(parent string, req requirement.Requirement, tracked *pin) {
		id := e.Provider.Identify(req.Name, req.Extras)

		c := criteria[id]
		if c == nil {
			c = &criterion{parents: map[string]bool{}}
			criteria[id] = c
		}

		c.requirements = append(c.requirements, req)
		c.parents[parent] = true

		graph.addEdge(parent, id)

		if tracked != nil {
			tracked.addedTo = append(tracked.addedTo, id)
			tracked.edges = append(tracked.edges, id)
		}
	}

	for _, r := range roots {
		addRequirement(rootID, r, nil)
	}

	for round := 1; ; round++ {
		if round > e.MaxRounds {
			return nil, &ResolutionTooDeepError{MaxRounds: e.MaxRounds}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, ok := nextIdentifier(criteria, mapping)
		if !ok {
			break
		}

		c := criteria[id]

		candidates, err := e.Provider.FindMatches(ctx, id, c.requirements, c.incompatibilities)
		if err != nil {
			if backtrack(&trail, mapping, criteria, graph) {
				continue
			}

			return nil, err
		}

		accepted := false

		for _, cand := range candidates {
			if !satisfiesAll(e.Provider, cand, c.requirements) {
				continue
			}

			deps, err := e.Provider.GetDependencies(ctx, cand)
			if err != nil {
				c.incompatibilities = append(c.incompatibilities, cand)
				continue
			}

			if conflictsWithPinned(e.Provider, mapping, deps) {
				c.incompatibilities = append(c.incompatibilities, cand)
				continue
			}

			mapping[id] = cand

			p := pin{id: id, candidate: cand}
			for _, dep := range deps {
				addRequirement(id, dep, &p)
			}

			trail = append(trail, p)
			accepted = true

			break
		}

		if !accepted {
			if backtrack(&trail, mapping, criteria, graph) {
				continue
			}

			return nil, &ResolutionImpossibleError{Identifier: id}
		}
	}

	return &Result{Mapping: mapping, Graph: graph}, nil
}

// nextIdentifier picks the unpinned identifier with the smallest
// (transitive, identifier) tuple: direct requirements (transitive=false)
// sort before purely transitive ones, and ties break lexicographically.
func nextIdentifier(criteria map[string]*criterion, mapping map[string]provider.Candidate) (string, bool) {
	var best string

	var bestTransitive bool

	found := false

	for id, c := range criteria {
		if _, done := mapping[id]; done {
			continue
		}

		t := c.transitive()

		if !found || lessPreference(t, id, bestTransitive, best) {
			best, bestTransitive, found = id, t, true
		}
	}

	return best, found
}

func lessPreference(t1 bool, id1 string, t2 bool, id2 string) bool {
	if t1 != t2 {
		return !t1 && t2
	}

	return id1 < id2
}

func satisfiesAll(p *provider.Provider, cand provider.Candidate, reqs []requirement.Requirement) bool {
	for _, r := range reqs {
		if !p.IsSatisfiedBy(r, cand) {
			return false
		}
	}

	return true
}

func conflictsWithPinned(p *provider.Provider, mapping map[string]provider.Candidate, deps []requirement.Requirement) bool {
	for _, dep := range deps {
		id := p.Identify(dep.Name, dep.Extras)

		pinned, ok := mapping[id]
		if !ok {
			continue
		}

		if !p.IsSatisfiedBy(dep, pinned) {
			return true
		}
	}

	return false
}

// backtrack unwinds the most recently accepted pin: it is marked
// incompatible on its own identifier (so it is never tried again there)
// and every requirement/edge it introduced is undone. Returns false when
// there is nothing left to unwind.
func backtrack(trail *[]pin, mapping map[string]provider.Candidate, criteria map[string]*criterion, graph *Graph) bool {
	if len(*trail) == 0 {
		return false
	}

	last := (*trail)[len(*trail)-1]
	*trail = (*trail)[:len(*trail)-1]

	delete(mapping, last.id)

	for _, depID := range last.addedTo {
		c := criteria[depID]
		if c == nil || len(c.requirements) == 0 {
			continue
		}

		c.requirements = c.requirements[:len(c.requirements)-1]
	}

	for _, child := range last.edges {
		graph.removeEdge(last.id, child)
	}

	if c := criteria[last.id]; c != nil {
		c.incompatibilities = append(c.incompatibilities, last.candidate)
	}

	return true
}
