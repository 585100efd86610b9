// File: internal/graph/print_graph.go
// Brief: Graph printing for build debugging.

package graph

import (
	"fmt"
	"io"
	"strings"
)

// PrintDOT writes ids (every node when ids is empty) as a Graphviz digraph.
// Dynamic edges are dashed.
func (g *Graph) PrintDOT(w io.Writer, ids []NodeID) error {
	nodes, edges := g.snapshotEdges(ids)
	fmt.Fprintln(w, "digraph fbuild {")
	fmt.Fprintln(w, "  rankdir=LR;")
	fmt.Fprintln(w, "  node [shape=box,fontname=\"SF Pro Text\"];")
	for _, n := range nodes {
		fmt.Fprintf(w, "  %s [label=\"%s\\n%s\"];\n", dotQuote(n.Name), dotEscape(n.Name), n.Kind)
	}
	for _, e := range edges {
		// Edge: from depends on to => to -> from.
		if e.dynamic {
			fmt.Fprintf(w, "  %s -> %s [style=dashed];\n", dotQuote(e.to), dotQuote(e.from))
			continue
		}
		fmt.Fprintf(w, "  %s -> %s;\n", dotQuote(e.to), dotQuote(e.from))
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

func (g *Graph) PrintMermaid(w io.Writer, ids []NodeID) error {
	nodes, edges := g.snapshotEdges(ids)
	fmt.Fprintln(w, "graph TD")
	for _, n := range nodes {
		fmt.Fprintf(w, "  %s[\"%s\\n%s\"]\n", safeID(n.Name), strings.ReplaceAll(n.Name, `"`, "#quot;"), n.Kind)
	}
	var err error
	for _, e := range edges {
		arrow := "-->"
		if e.dynamic {
			arrow = "-.->"
		}
		_, err = fmt.Fprintf(w, "  %s %s %s\n", safeID(e.to), arrow, safeID(e.from))
	}
	return err
}

type printEdge struct {
	from, to string
	dynamic  bool
}

func (g *Graph) snapshotEdges(ids []NodeID) ([]*Node, []printEdge) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(ids) == 0 {
		ids = make([]NodeID, len(g.nodes))
		for i := range g.nodes {
			ids[i] = NodeID(i)
		}
	}
	in := map[NodeID]bool{}
	var nodes []*Node
	for _, id := range ids {
		if n := g.nodeLocked(id); n != nil && !in[id] {
			in[id] = true
			nodes = append(nodes, n)
		}
	}
	var edges []printEdge
	for _, n := range nodes {
		for _, dep := range n.static {
			if in[dep] {
				edges = append(edges, printEdge{from: n.Name, to: g.nodes[dep].Name})
			}
		}
		for _, dep := range n.dynamic {
			if in[dep] {
				edges = append(edges, printEdge{from: n.Name, to: g.nodes[dep].Name, dynamic: true})
			}
		}
	}
	return nodes, edges
}

var dotEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func dotEscape(s string) string { return dotEscaper.Replace(s) }

func dotQuote(s string) string { return `"` + dotEscape(s) + `"` }

func safeID(s string) string {
	out := strings.Builder{}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			out.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			out.WriteRune(r)
		case r >= '0' && r <= '9':
			out.WriteRune(r)
		default:
			out.WriteRune('_')
		}
	}
	return out.String()
}
