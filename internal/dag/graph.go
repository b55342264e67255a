// Package dag provides the mutable plan graph: operators as nodes, ported
// flows as edges, DAG-level input and output ports, and nested graphs owned
// by individual operators.
//
// The graph is the single owner of its operators. An operator value is its
// own handle: the graph keys its node records by operator identity and
// assigns each operator an integer id that is unique within this graph only.
// Moving an operator to another graph transfers its record (and its nested
// graph) and resets the id.
//
// Acyclicity is the one invariant enforced eagerly: AddFlow refuses any flow
// that would close a cycle and leaves the graph unchanged. Port cardinality
// is allowed to drift during rewrites and is checked by the verify pass.
package dag

import (
	"maps"
	"slices"

	"github.com/roach88/dagopt/internal/planerr"
	"github.com/roach88/dagopt/internal/types"
)

// Operator is the payload of a graph node. The graph only needs the kind
// name and the port arity; everything else belongs to the operator catalog.
type Operator interface {
	Name() string
	NumInPorts() int
	NumOutPorts() int
}

// Flow is a directed edge from an output port to an input port.
type Flow struct {
	Source     Operator
	SourcePort int
	Target     Operator
	TargetPort int
}

// Port addresses one port of an operator.
type Port struct {
	Op   Operator
	Port int
}

// Input binds DAG-level input port DAGPort to input port OpPort of Op.
// Several operators may be bound to the same DAG-level input.
type Input struct {
	DAGPort int
	Op      Operator
	OpPort  int
}

// Output binds DAG-level output port DAGPort to output port OpPort of Op.
type Output struct {
	DAGPort int
	Op      Operator
	OpPort  int
}

type vertex struct {
	id    int
	op    Operator
	inner *Graph
	in    []*Flow
	out   []*Flow
}

// Graph is a directed acyclic multigraph of operators.
//
// A Graph is not safe for concurrent use; each in-flight compilation must own
// its graph exclusively.
type Graph struct {
	vertices   map[Operator]*vertex
	byID       map[int]*vertex
	inputs     []Input
	outputs    map[int]Port
	inputTypes map[int]types.Tuple
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		vertices:   make(map[Operator]*vertex),
		byID:       make(map[int]*vertex),
		outputs:    make(map[int]Port),
		inputTypes: make(map[int]types.Tuple),
	}
}

type addOptions struct {
	id    int
	hasID bool
	inner *Graph
}

// AddOption customizes AddOperator.
type AddOption func(*addOptions)

// WithID requests a specific id instead of max existing id + 1.
func WithID(id int) AddOption {
	return func(o *addOptions) {
		o.id = id
		o.hasID = true
	}
}

// WithInner attaches a nested graph to the inserted operator.
func WithInner(inner *Graph) AddOption {
	return func(o *addOptions) { o.inner = inner }
}

// AddOperator inserts op and returns its id.
func (g *Graph) AddOperator(op Operator, opts ...AddOption) (int, error) {
	if op == nil {
		return 0, planerr.Structural(planerr.CodeNotFound, "cannot add nil operator")
	}
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}
	if v, ok := g.vertices[op]; ok {
		return 0, planerr.StructuralAt(planerr.CodeDuplicate, v.id, op.Name(), "operator already in graph")
	}
	id := g.nextID()
	if o.hasID {
		if other, ok := g.byID[o.id]; ok {
			return 0, planerr.StructuralAt(planerr.CodeDuplicate, o.id, other.op.Name(), "id already used")
		}
		id = o.id
	}
	v := &vertex{id: id, op: op, inner: o.inner}
	g.vertices[op] = v
	g.byID[id] = v
	return id, nil
}

func (g *Graph) nextID() int {
	next := 0
	for id := range g.byID {
		if id >= next {
			next = id + 1
		}
	}
	return next
}

// Len returns the number of operators.
func (g *Graph) Len() int { return len(g.vertices) }

// Contains reports whether op is a node of g.
func (g *Graph) Contains(op Operator) bool {
	_, ok := g.vertices[op]
	return ok
}

// ID returns the id of op within g.
func (g *Graph) ID(op Operator) (int, bool) {
	v, ok := g.vertices[op]
	if !ok {
		return 0, false
	}
	return v.id, true
}

// MustID is like ID but returns planerr.NoOp for operators not in g. It is
// meant for diagnostics.
func (g *Graph) MustID(op Operator) int {
	if id, ok := g.ID(op); ok {
		return id
	}
	return planerr.NoOp
}

// Lookup returns the operator with the given id.
func (g *Graph) Lookup(id int) (Operator, bool) {
	v, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	return v.op, true
}

// Operators returns all operators ordered by id.
func (g *Graph) Operators() []Operator {
	vs := g.sortedVertices()
	ops := make([]Operator, len(vs))
	for i, v := range vs {
		ops[i] = v.op
	}
	return ops
}

func (g *Graph) sortedVertices() []*vertex {
	vs := make([]*vertex, 0, len(g.vertices))
	for _, v := range g.vertices {
		vs = append(vs, v)
	}
	slices.SortFunc(vs, func(a, b *vertex) int { return a.id - b.id })
	return vs
}

func (g *Graph) vertex(op Operator) (*vertex, error) {
	v, ok := g.vertices[op]
	if !ok {
		name := "<nil>"
		if op != nil {
			name = op.Name()
		}
		return nil, planerr.StructuralAt(planerr.CodeNotFound, planerr.NoOp, name, "operator not in graph")
	}
	return v, nil
}

// AddFlow connects output port srcPort of src to input port dstPort of dst.
// If the new flow would close a cycle the graph is left unchanged and a
// StructuralError is returned.
func (g *Graph) AddFlow(src Operator, srcPort int, dst Operator, dstPort int) error {
	vs, err := g.vertex(src)
	if err != nil {
		return err
	}
	vt, err := g.vertex(dst)
	if err != nil {
		return err
	}
	if srcPort < 0 || srcPort >= src.NumOutPorts() {
		return planerr.StructuralAt(planerr.CodePortRange, vs.id, src.Name(),
			"output port %d out of range [0,%d)", srcPort, src.NumOutPorts())
	}
	if dstPort < 0 || dstPort >= dst.NumInPorts() {
		return planerr.StructuralAt(planerr.CodePortRange, vt.id, dst.Name(),
			"input port %d out of range [0,%d)", dstPort, dst.NumInPorts())
	}

	f := &Flow{Source: src, SourcePort: srcPort, Target: dst, TargetPort: dstPort}
	vs.out = append(vs.out, f)
	vt.in = append(vt.in, f)

	if g.HasCycle() {
		path := g.cyclePath()
		g.unlink(f)
		return planerr.StructuralAt(planerr.CodeCycle, vt.id, dst.Name(),
			"flow %d:%d -> %d:%d would create cycle %s", vs.id, srcPort, vt.id, dstPort, path)
	}
	return nil
}

// RemoveFlow deletes f from the graph.
func (g *Graph) RemoveFlow(f *Flow) error {
	if f == nil || !g.Contains(f.Source) || !g.Contains(f.Target) || !slices.Contains(g.vertices[f.Source].out, f) {
		return planerr.Structural(planerr.CodeNotFound, "flow not in graph")
	}
	g.unlink(f)
	return nil
}

func (g *Graph) unlink(f *Flow) {
	vs, vt := g.vertices[f.Source], g.vertices[f.Target]
	vs.out = slices.DeleteFunc(vs.out, func(x *Flow) bool { return x == f })
	vt.in = slices.DeleteFunc(vt.in, func(x *Flow) bool { return x == f })
}

// Flows returns every flow ordered by source id, source port, target id and
// target port.
func (g *Graph) Flows() []*Flow {
	var flows []*Flow
	for _, v := range g.vertices {
		flows = append(flows, v.out...)
	}
	g.sortFlows(flows)
	return flows
}

func (g *Graph) sortFlows(flows []*Flow) {
	slices.SortFunc(flows, func(a, b *Flow) int {
		if d := g.vertices[a.Source].id - g.vertices[b.Source].id; d != 0 {
			return d
		}
		if d := a.SourcePort - b.SourcePort; d != 0 {
			return d
		}
		if d := g.vertices[a.Target].id - g.vertices[b.Target].id; d != 0 {
			return d
		}
		return a.TargetPort - b.TargetPort
	})
}

// InFlows returns the flows entering op ordered by target port.
func (g *Graph) InFlows(op Operator) []*Flow {
	v, ok := g.vertices[op]
	if !ok {
		return nil
	}
	flows := slices.Clone(v.in)
	slices.SortStableFunc(flows, func(a, b *Flow) int {
		if d := a.TargetPort - b.TargetPort; d != 0 {
			return d
		}
		return g.vertices[a.Source].id - g.vertices[b.Source].id
	})
	return flows
}

// OutFlows returns the flows leaving op ordered by target id and port.
func (g *Graph) OutFlows(op Operator) []*Flow {
	v, ok := g.vertices[op]
	if !ok {
		return nil
	}
	flows := slices.Clone(v.out)
	g.sortFlows(flows)
	return flows
}

// InFlow returns the first flow entering input port port of op.
func (g *Graph) InFlow(op Operator, port int) (*Flow, bool) {
	for _, f := range g.InFlows(op) {
		if f.TargetPort == port {
			return f, true
		}
	}
	return nil, false
}

// OutFlowsFrom returns the flows leaving output port port of op.
func (g *Graph) OutFlowsFrom(op Operator, port int) []*Flow {
	var flows []*Flow
	for _, f := range g.OutFlows(op) {
		if f.SourcePort == port {
			flows = append(flows, f)
		}
	}
	return flows
}

// Predecessor returns the operator feeding input port port of op.
func (g *Graph) Predecessor(op Operator, port int) (Operator, bool) {
	f, ok := g.InFlow(op, port)
	if !ok {
		return nil, false
	}
	return f.Source, true
}

// Predecessors returns the distinct operators feeding op, by input port.
func (g *Graph) Predecessors(op Operator) []Operator {
	var preds []Operator
	for _, f := range g.InFlows(op) {
		if !slices.Contains(preds, f.Source) {
			preds = append(preds, f.Source)
		}
	}
	return preds
}

// Successors returns the distinct operators consuming op, by id.
func (g *Graph) Successors(op Operator) []Operator {
	var succs []Operator
	for _, f := range g.OutFlows(op) {
		if !slices.Contains(succs, f.Target) {
			succs = append(succs, f.Target)
		}
	}
	return succs
}

// InDegree returns the number of flows entering op.
func (g *Graph) InDegree(op Operator) int {
	if v, ok := g.vertices[op]; ok {
		return len(v.in)
	}
	return 0
}

// InDegreePort returns the number of flows entering input port port of op.
func (g *Graph) InDegreePort(op Operator, port int) int {
	n := 0
	if v, ok := g.vertices[op]; ok {
		for _, f := range v.in {
			if f.TargetPort == port {
				n++
			}
		}
	}
	return n
}

// OutDegree returns the number of flows leaving op.
func (g *Graph) OutDegree(op Operator) int {
	if v, ok := g.vertices[op]; ok {
		return len(v.out)
	}
	return 0
}

// OutDegreePort returns the number of flows leaving output port port of op.
func (g *Graph) OutDegreePort(op Operator, port int) int {
	n := 0
	if v, ok := g.vertices[op]; ok {
		for _, f := range v.out {
			if f.SourcePort == port {
				n++
			}
		}
	}
	return n
}

// Sources returns the operators without incoming flows, by id.
func (g *Graph) Sources() []Operator {
	var ops []Operator
	for _, v := range g.sortedVertices() {
		if len(v.in) == 0 {
			ops = append(ops, v.op)
		}
	}
	return ops
}

// Sinks returns the operators without outgoing flows, by id.
func (g *Graph) Sinks() []Operator {
	var ops []Operator
	for _, v := range g.sortedVertices() {
		if len(v.out) == 0 {
			ops = append(ops, v.op)
		}
	}
	return ops
}

// HasInner reports whether op owns a nested graph.
func (g *Graph) HasInner(op Operator) bool {
	v, ok := g.vertices[op]
	return ok && v.inner != nil
}

// Inner returns the nested graph owned by op, or nil.
func (g *Graph) Inner(op Operator) *Graph {
	if v, ok := g.vertices[op]; ok {
		return v.inner
	}
	return nil
}

// SetInner attaches inner to op, replacing any previous nested graph. A nil
// inner detaches it.
func (g *Graph) SetInner(op Operator, inner *Graph) error {
	v, err := g.vertex(op)
	if err != nil {
		return err
	}
	v.inner = inner
	return nil
}

func (g *Graph) isPortReferenced(op Operator) bool {
	for _, in := range g.inputs {
		if in.Op == op {
			return true
		}
	}
	for _, out := range g.outputs {
		if out.Op == op {
			return true
		}
	}
	return false
}

func (g *Graph) checkDisconnected(v *vertex) error {
	if len(v.in) > 0 || len(v.out) > 0 {
		return planerr.StructuralAt(planerr.CodeStillConnected, v.id, v.op.Name(),
			"operator still has %d incoming and %d outgoing flows", len(v.in), len(v.out))
	}
	if g.isPortReferenced(v.op) {
		return planerr.StructuralAt(planerr.CodeStillConnected, v.id, v.op.Name(),
			"operator is bound to a DAG-level port")
	}
	return nil
}

// RemoveOperator deletes op together with its nested graph. The operator
// must have no incident flows and must not be bound to a DAG-level port.
func (g *Graph) RemoveOperator(op Operator) error {
	v, err := g.vertex(op)
	if err != nil {
		return err
	}
	if err := g.checkDisconnected(v); err != nil {
		return err
	}
	delete(g.vertices, op)
	delete(g.byID, v.id)
	return nil
}

// MoveOperator relocates a disconnected op, with its nested graph, from g to
// target and returns its new id.
//
// Moving resets the id: the operator receives target's next free id, not
// the id it had in g. Callers that need deterministic ids must renumber the
// target or canonicalize it afterwards.
func (g *Graph) MoveOperator(target *Graph, op Operator) (int, error) {
	v, err := g.vertex(op)
	if err != nil {
		return 0, err
	}
	if err := g.checkDisconnected(v); err != nil {
		return 0, err
	}
	if target.Contains(op) {
		return 0, planerr.StructuralAt(planerr.CodeDuplicate, v.id, op.Name(), "operator already in target graph")
	}
	delete(g.vertices, op)
	delete(g.byID, v.id)
	return target.AddOperator(op, WithInner(v.inner))
}

// ReplaceOperator swaps the payload old for new in place, keeping id,
// flows, nested graph and DAG-level port bindings.
func (g *Graph) ReplaceOperator(old, new Operator) error {
	v, err := g.vertex(old)
	if err != nil {
		return err
	}
	if new == nil || g.Contains(new) {
		return planerr.StructuralAt(planerr.CodeDuplicate, v.id, old.Name(), "replacement is nil or already in graph")
	}
	for _, f := range v.in {
		if f.TargetPort >= new.NumInPorts() {
			return planerr.StructuralAt(planerr.CodePortRange, v.id, new.Name(),
				"replacement lacks input port %d", f.TargetPort)
		}
	}
	for _, f := range v.out {
		if f.SourcePort >= new.NumOutPorts() {
			return planerr.StructuralAt(planerr.CodePortRange, v.id, new.Name(),
				"replacement lacks output port %d", f.SourcePort)
		}
	}
	for _, f := range v.in {
		f.Target = new
	}
	for _, f := range v.out {
		f.Source = new
	}
	for i := range g.inputs {
		if g.inputs[i].Op == old {
			g.inputs[i].Op = new
		}
	}
	for k, out := range g.outputs {
		if out.Op == old {
			g.outputs[k] = Port{Op: new, Port: out.Port}
		}
	}
	delete(g.vertices, old)
	v.op = new
	g.vertices[new] = v
	return nil
}

// Renumber assigns ids 0..n-1 following order, which must list every
// operator of g exactly once.
func (g *Graph) Renumber(order []Operator) error {
	if len(order) != len(g.vertices) {
		return planerr.Structural(planerr.CodeNotFound, "renumber order has %d operators, graph has %d", len(order), len(g.vertices))
	}
	byID := make(map[int]*vertex, len(order))
	for i, op := range order {
		v, ok := g.vertices[op]
		if !ok {
			return planerr.Structural(planerr.CodeNotFound, "renumber order names operator %s not in graph", op.Name())
		}
		if slices.Index(order, op) != i {
			return planerr.StructuralAt(planerr.CodeDuplicate, v.id, op.Name(), "operator listed twice in renumber order")
		}
		byID[i] = v
	}
	for id, v := range byID {
		v.id = id
	}
	g.byID = byID
	return nil
}

// AddInput binds DAG-level input dagPort to input port opPort of op.
func (g *Graph) AddInput(dagPort int, op Operator, opPort int) error {
	v, err := g.vertex(op)
	if err != nil {
		return err
	}
	if opPort < 0 || opPort >= op.NumInPorts() {
		return planerr.StructuralAt(planerr.CodePortRange, v.id, op.Name(),
			"input port %d out of range [0,%d)", opPort, op.NumInPorts())
	}
	if dagPort < 0 {
		return planerr.Structural(planerr.CodePortRange, "negative DAG input port %d", dagPort)
	}
	g.inputs = append(g.inputs, Input{DAGPort: dagPort, Op: op, OpPort: opPort})
	return nil
}

// RemoveInput drops one DAG-level input binding.
func (g *Graph) RemoveInput(dagPort int, op Operator, opPort int) error {
	i := slices.IndexFunc(g.inputs, func(in Input) bool {
		return in.DAGPort == dagPort && in.Op == op && in.OpPort == opPort
	})
	if i < 0 {
		return planerr.Structural(planerr.CodeNotFound, "no DAG input %d bound to port %d of %s", dagPort, opPort, op.Name())
	}
	g.inputs = slices.Delete(g.inputs, i, i+1)
	return nil
}

// Inputs returns the DAG-level input bindings ordered by DAG port, operator
// id and operator port.
func (g *Graph) Inputs() []Input {
	ins := slices.Clone(g.inputs)
	slices.SortFunc(ins, func(a, b Input) int {
		if d := a.DAGPort - b.DAGPort; d != 0 {
			return d
		}
		if d := g.MustID(a.Op) - g.MustID(b.Op); d != 0 {
			return d
		}
		return a.OpPort - b.OpPort
	})
	return ins
}

// InputsOf returns the bindings that feed op.
func (g *Graph) InputsOf(op Operator) []Input {
	var ins []Input
	for _, in := range g.Inputs() {
		if in.Op == op {
			ins = append(ins, in)
		}
	}
	return ins
}

// InputBinding returns the DAG-level input port feeding port of op.
func (g *Graph) InputBinding(op Operator, port int) (int, bool) {
	for _, in := range g.Inputs() {
		if in.Op == op && in.OpPort == port {
			return in.DAGPort, true
		}
	}
	return 0, false
}

// NumInputs returns the number of distinct DAG-level input ports.
func (g *Graph) NumInputs() int {
	seen := make(map[int]bool)
	for _, in := range g.inputs {
		seen[in.DAGPort] = true
	}
	return len(seen)
}

// InputType returns the tuple type recorded for DAG-level input dagPort.
func (g *Graph) InputType(dagPort int) (types.Tuple, bool) {
	t, ok := g.inputTypes[dagPort]
	return t, ok
}

// InputTypes returns a copy of every recorded DAG-level input type.
func (g *Graph) InputTypes() map[int]types.Tuple {
	return maps.Clone(g.inputTypes)
}

// SetInputType records the tuple type arriving at DAG-level input dagPort.
// A nil type forgets the recorded one.
func (g *Graph) SetInputType(dagPort int, t types.Tuple) {
	if t == nil {
		delete(g.inputTypes, dagPort)
		return
	}
	g.inputTypes[dagPort] = t
}

// SetOutput defines DAG-level output dagPort. Each output port can be
// defined once.
func (g *Graph) SetOutput(dagPort int, op Operator, opPort int) error {
	v, err := g.vertex(op)
	if err != nil {
		return err
	}
	if opPort < 0 || opPort >= op.NumOutPorts() {
		return planerr.StructuralAt(planerr.CodePortRange, v.id, op.Name(),
			"output port %d out of range [0,%d)", opPort, op.NumOutPorts())
	}
	if dagPort < 0 {
		return planerr.Structural(planerr.CodePortRange, "negative DAG output port %d", dagPort)
	}
	if prev, ok := g.outputs[dagPort]; ok {
		return planerr.StructuralAt(planerr.CodeDuplicate, g.MustID(prev.Op), prev.Op.Name(),
			"DAG output %d already defined", dagPort)
	}
	g.outputs[dagPort] = Port{Op: op, Port: opPort}
	return nil
}

// RemoveOutput drops DAG-level output dagPort.
func (g *Graph) RemoveOutput(dagPort int) error {
	if _, ok := g.outputs[dagPort]; !ok {
		return planerr.Structural(planerr.CodeNotFound, "DAG output %d not defined", dagPort)
	}
	delete(g.outputs, dagPort)
	return nil
}

// Output returns the producer of DAG-level output dagPort.
func (g *Graph) Output(dagPort int) (Port, bool) {
	p, ok := g.outputs[dagPort]
	return p, ok
}

// Outputs returns the DAG-level outputs ordered by DAG port.
func (g *Graph) Outputs() []Output {
	outs := make([]Output, 0, len(g.outputs))
	for k, p := range g.outputs {
		outs = append(outs, Output{DAGPort: k, Op: p.Op, OpPort: p.Port})
	}
	slices.SortFunc(outs, func(a, b Output) int { return a.DAGPort - b.DAGPort })
	return outs
}

// OutputsOf returns the DAG-level output ports produced by op.
func (g *Graph) OutputsOf(op Operator) []Output {
	var outs []Output
	for _, out := range g.Outputs() {
		if out.Op == op {
			outs = append(outs, out)
		}
	}
	return outs
}

// NumOutputs returns the number of DAG-level outputs.
func (g *Graph) NumOutputs() int { return len(g.outputs) }

// Clear removes all flows, then all operators, then all DAG-level ports.
func (g *Graph) Clear() {
	for _, f := range g.Flows() {
		g.unlink(f)
	}
	clear(g.vertices)
	clear(g.byID)
	g.inputs = nil
	clear(g.outputs)
	clear(g.inputTypes)
}
