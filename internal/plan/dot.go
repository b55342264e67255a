package plan

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
)

// WriteDot renders g in Graphviz DOT syntax. Nested graphs become clusters
// attached to their owning operator by a dashed edge.
func WriteDot(w io.Writer, g *dag.Graph) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph plan {")
	fmt.Fprintln(bw, "  node [shape=box, fontname=\"monospace\"];")
	writeDotGraph(bw, g, "n", "  ")
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

func writeDotGraph(w *bufio.Writer, g *dag.Graph, prefix, indent string) {
	name := func(op dag.Operator) string {
		return prefix + strconv.Itoa(g.MustID(op))
	}

	for _, op := range g.Operators() {
		label := fmt.Sprintf("%d: %s", g.MustID(op), op.Name())
		if o, ok := ops.Of(op); ok && o.Type() != nil {
			label += "\\n" + o.Type().String()
		}
		fmt.Fprintf(w, "%s%s [label=%s];\n", indent, name(op), quote(label))
	}
	for _, in := range g.Inputs() {
		fmt.Fprintf(w, "%s%sin%d [shape=plaintext, label=\"in %d\"];\n", indent, prefix, in.DAGPort, in.DAGPort)
		fmt.Fprintf(w, "%s%sin%d -> %s [label=\"%d\"];\n", indent, prefix, in.DAGPort, name(in.Op), in.OpPort)
	}
	for _, f := range g.Flows() {
		fmt.Fprintf(w, "%s%s -> %s [label=\"%d:%d\"];\n", indent, name(f.Source), name(f.Target), f.SourcePort, f.TargetPort)
	}
	for _, out := range g.Outputs() {
		fmt.Fprintf(w, "%s%sout%d [shape=plaintext, label=\"out %d\"];\n", indent, prefix, out.DAGPort, out.DAGPort)
		fmt.Fprintf(w, "%s%s -> %sout%d [label=\"%d\"];\n", indent, name(out.Op), prefix, out.DAGPort, out.OpPort)
	}

	for _, op := range g.Operators() {
		inner := g.Inner(op)
		if inner == nil {
			continue
		}
		cluster := name(op) + "_"
		fmt.Fprintf(w, "%ssubgraph cluster_%s {\n", indent, name(op))
		fmt.Fprintf(w, "%s  label=%s;\n", indent, quote(fmt.Sprintf("%s %d", op.Name(), g.MustID(op))))
		writeDotGraph(w, inner, cluster, indent+"  ")
		fmt.Fprintf(w, "%s}\n", indent)
		for _, in := range inner.Operators() {
			if len(inner.Successors(in)) == 0 {
				fmt.Fprintf(w, "%s%s%d -> %s [style=dashed];\n", indent, cluster, inner.MustID(in), name(op))
			}
		}
	}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
