package main

import (
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ===========================================================================
// PARAMETERS AND GRAPH CONTEXTS
// ===========================================================================
//
// Training uses three separate gorgonia expression graphs: one for the
// discriminator step, one for the generator step, and one for chunked
// inference. A learnable weight has to appear as a node on each of them
// while remaining a single tensor in memory, so that a solver step on one
// graph is visible to the others.
//
// Param owns the backing *tensor.Dense. Instantiating a node with
// gorgonia.WithValue on that same tensor makes every graph read and write
// the shared storage; the solver mutates it in place. graphCtx caches the
// per-graph node for each Param so a weight used twice in one graph (the
// discriminator scores both reals and fakes) maps to a single node.
//
// ===========================================================================

// Param is a named learnable tensor owned by exactly one network.
type Param struct {
	Name  string
	Value *tensor.Dense
}

// NewParam allocates a parameter and fills it with the given initializer.
func NewParam(name string, init gorgonia.InitWFn, shape ...int) *Param {
	backing := init(tensor.Float32, shape...)
	value := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
	return &Param{Name: name, Value: value}
}

// graphCtx tracks the nodes instantiated for parameters on a single
// expression graph.
type graphCtx struct {
	g *gorgonia.ExprGraph

	// nodes maps a parameter to its raw node on g.
	nodes map[*Param]*gorgonia.Node
	// normalized maps a spectral-normalized weight to its W/sigma node,
	// so both discriminator forward passes share one normalization
	// subgraph.
	normalized map[*Param]*gorgonia.Node
}

func newGraphCtx(g *gorgonia.ExprGraph) *graphCtx {
	return &graphCtx{
		g:          g,
		nodes:      make(map[*Param]*gorgonia.Node),
		normalized: make(map[*Param]*gorgonia.Node),
	}
}

// node returns the graph node for p, creating it on first use. The node
// shares p's backing tensor.
func (ctx *graphCtx) node(p *Param) *gorgonia.Node {
	if n, ok := ctx.nodes[p]; ok {
		return n
	}
	shape := p.Value.Shape()
	n := gorgonia.NewTensor(ctx.g, gorgonia.Float32, len(shape),
		gorgonia.WithShape(shape...),
		gorgonia.WithName(p.Name),
		gorgonia.WithValue(p.Value))
	ctx.nodes[p] = n
	return n
}

// usedNodes returns the nodes for the subset of params that the forward
// pass actually instantiated on this graph, in params order. Blocks and
// RGB heads beyond the configured resolution never materialize, and must
// not be handed to gorgonia.Grad.
func (ctx *graphCtx) usedNodes(params []*Param) gorgonia.Nodes {
	out := make(gorgonia.Nodes, 0, len(params))
	for _, p := range params {
		if n, ok := ctx.nodes[p]; ok {
			out = append(out, n)
		}
	}
	return out
}
