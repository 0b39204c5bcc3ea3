// Package output formats a completed resolution (internal/resolve.Result)
// into the two shapes SPEC_FULL.md's C9 calls for: a flat parent→children
// list and a pipdeptree-style nested tree, both over pkg:pypi/ purls.
//
// Grounded structurally on original_source's
// python_inspector/resolution.py: format_resolution/dfs/get_all_srcs.
package output

import (
	"sort"

	"github.com/package-url/packageurl-go"

	"github.com/aboutcode-org/pyresolve/internal/resolve"
)

// PackagePURL builds a pkg:pypi/ purl for name@version.
func PackagePURL(name, version string) string {
	p := packageurl.NewPackageURL(packageurl.TypePyPi, "", name, version, nil, "")
	return p.String()
}

// FlatEntry is one row of the flat output: a pinned package and the purls
// of its direct dependencies.
type FlatEntry struct {
	Package      string   `json:"package"`
	Dependencies []string `json:"dependencies"`
}

// Flat returns result sorted as a flat parent→children list, one entry per
// pinned identifier, dependency lists sorted.
func Flat(result *resolve.Result) []FlatEntry {
	entries := make([]FlatEntry, 0, len(result.Mapping))

	for id, cand := range result.Mapping {
		deps := make([]string, 0, len(result.Graph.Children(id)))

		for _, childID := range result.Graph.Children(id) {
			child, ok := result.Mapping[childID]
			if !ok {
				continue
			}

			deps = append(deps, PackagePURL(child.Name, child.Version.String()))
		}

		sort.Strings(deps)

		entries = append(entries, FlatEntry{
			Package:      PackagePURL(cand.Name, cand.Version.String()),
			Dependencies: deps,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Package < entries[j].Package })

	return entries
}

// TreeNode is one node of the pipdeptree-style nested tree.
type TreeNode struct {
	Package      string     `json:"package"`
	Dependencies []TreeNode `json:"dependencies"`
}

// Tree returns result as a nested tree rooted at every directly requested
// package (identifiers whose only parent is the synthetic resolver root).
func Tree(result *resolve.Result) []TreeNode {
	roots := result.Graph.Roots()

	nodes := make([]TreeNode, 0, len(roots))

	for _, id := range roots {
		nodes = append(nodes, buildNode(result, id))
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Package < nodes[j].Package })

	return nodes
}

func buildNode(result *resolve.Result, id string) TreeNode {
	cand, ok := result.Mapping[id]
	if !ok {
		return TreeNode{Package: id}
	}

	children := result.Graph.Children(id)

	deps := make([]TreeNode, 0, len(children))
	for _, childID := range children {
		deps = append(deps, buildNode(result, childID))
	}

	sort.Slice(deps, func(i, j int) bool { return deps[i].Package < deps[j].Package })

	return TreeNode{
		Package:      PackagePURL(cand.Name, cand.Version.String()),
		Dependencies: deps,
	}
}

// AllPURLs returns the sorted purls of every pinned package, matching
// format_resolution's as_list output.
func AllPURLs(result *resolve.Result) []string {
	out := make([]string, 0, len(result.Mapping))

	for _, cand := range result.Mapping {
		out = append(out, PackagePURL(cand.Name, cand.Version.String()))
	}

	sort.Strings(out)

	return out
}
