package graph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// DOTOptions controls WriteDOT output. Every field is optional.
type DOTOptions struct {
	Name    string
	RankDir string // TB, LR, ...
	Label   func(id string) string
	Color   func(id string) string
}

// WriteDOT renders g in Graphviz DOT format. Arrows point from a dependency
// to the node that waits on it, so the drawing reads in execution order.
func WriteDOT(w io.Writer, g *Graph, opts DOTOptions) error {
	name := opts.Name
	if name == "" {
		name = "tasks"
	}
	rankdir := opts.RankDir
	if rankdir == "" {
		rankdir = "LR"
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "digraph %s {\n", strconv.Quote(name))
	fmt.Fprintf(bw, "  rankdir=%s;\n", rankdir)
	fmt.Fprintln(bw, `  node [shape=box, style="rounded,filled", fillcolor="white"];`)

	for _, id := range g.Nodes() {
		fmt.Fprintf(bw, "  %s", strconv.Quote(id))
		var attrs []string
		if opts.Label != nil {
			attrs = append(attrs, "label="+strconv.Quote(opts.Label(id)))
		}
		if opts.Color != nil {
			if c := opts.Color(id); c != "" {
				attrs = append(attrs, "fillcolor="+strconv.Quote(c))
			}
		}
		if len(attrs) > 0 {
			fmt.Fprint(bw, " [")
			for i, a := range attrs {
				if i > 0 {
					fmt.Fprint(bw, ", ")
				}
				fmt.Fprint(bw, a)
			}
			fmt.Fprint(bw, "]")
		}
		fmt.Fprintln(bw, ";")
	}

	for _, e := range g.Edges() {
		fmt.Fprintf(bw, "  %s -> %s;\n", strconv.Quote(e.To), strconv.Quote(e.From))
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
