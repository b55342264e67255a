package pass

import (
	"context"
	"io"
	"log/slog"
	"slices"

	"github.com/mitchellh/mapstructure"

	"github.com/roach88/dagopt/internal/codegen"
	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/planerr"
	"github.com/roach88/dagopt/internal/udf"
)

// Pass is one named, independently runnable graph transformation.
type Pass interface {
	Name() string
	Run(g *dag.Graph, env *Env) error
}

// Func adapts a function to the Pass interface.
type Func struct {
	name string
	run  func(g *dag.Graph, env *Env) error
}

// NewFunc creates a pass named name that calls run.
func NewFunc(name string, run func(g *dag.Graph, env *Env) error) *Func {
	return &Func{name: name, run: run}
}

// Name implements Pass.
func (f *Func) Name() string { return f.name }

// Run implements Pass.
func (f *Func) Run(g *dag.Graph, env *Env) error { return f.run(g, env) }

// Env is what a pass sees of the outside world.
type Env struct {
	// Ctx is only consulted by passes that call out to collaborators.
	Ctx context.Context

	// Settings holds the pass-local configuration found under
	// optimizations.<pass>, minus the active flag.
	Settings map[string]any

	Analyzer udf.Analyzer

	// Backend is required by compile_pipelines only.
	Backend codegen.Backend

	Logger *slog.Logger
}

// NewEnv returns an Env with the expression analyzer, a background context
// and a discarding logger.
func NewEnv() *Env {
	return &Env{
		Ctx:      context.Background(),
		Analyzer: udf.Descriptor{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// With returns a copy of e carrying settings.
func (e *Env) With(settings map[string]any) *Env {
	c := *e
	c.Settings = settings
	return &c
}

func (e *Env) context() context.Context {
	if e.Ctx == nil {
		return context.Background()
	}
	return e.Ctx
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Env) analyzer() udf.Analyzer {
	if e.Analyzer == nil {
		return udf.Descriptor{}
	}
	return e.Analyzer
}

// Decode decodes the pass-local settings into out. Unknown keys are
// rejected so a misspelled setting does not go unnoticed.
func (e *Env) Decode(pass string, out any) error {
	if len(e.Settings) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(e.Settings); err != nil {
		return planerr.Configuration("optimizations."+pass, "%v", err)
	}
	return nil
}

// Registry maps pass names to passes.
type Registry struct {
	passes map[string]Pass
}

// NewRegistry returns a registry holding every built-in pass.
func NewRegistry() *Registry {
	r := &Registry{passes: make(map[string]Pass)}
	for _, p := range builtin() {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds p. Registering a name twice is a ConfigurationError.
func (r *Registry) Register(p Pass) error {
	if _, ok := r.passes[p.Name()]; ok {
		return planerr.Configuration(p.Name(), "pass registered twice")
	}
	r.passes[p.Name()] = p
	return nil
}

// Lookup returns the pass called name.
func (r *Registry) Lookup(name string) (Pass, error) {
	p, ok := r.passes[name]
	if !ok {
		return nil, planerr.Configuration(name, "unknown pass")
	}
	return p, nil
}

// Names returns the registered pass names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.passes))
	for name := range r.passes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Pass names.
const (
	TypeInference            = "type_inference"
	TypeCheck                = "type_check"
	AttributeIDTracking      = "attribute_id_tracking"
	PredicateMoveAround      = "predicate_move_around"
	DetermineSortedness      = "determine_sortedness"
	MaterializeMultipleReads = "materialize_multiple_reads"
	Parallelize              = "parallelize"
	ParallelizeConcurrent    = "parallelize_concurrent"
	ParallelizeProcess       = "parallelize_process"
	ParallelizeLambda        = "parallelize_lambda"
	CreatePipelines          = "create_pipelines"
	Canonicalize             = "canonicalize"
	Verify                   = "verify"
	CompilePipelines         = "compile_pipelines"
)

func builtin() []Pass {
	return []Pass{
		NewFunc(TypeInference, runTypeInference),
		NewFunc(TypeCheck, runTypeCheck),
		NewFunc(AttributeIDTracking, runAttributeIDTracking),
		NewFunc(PredicateMoveAround, runPredicateMoveAround),
		NewFunc(DetermineSortedness, runDetermineSortedness),
		NewFunc(MaterializeMultipleReads, runMaterializeMultipleReads),
		NewFunc(Parallelize, parallelizeAs(Parallelize)),
		NewFunc(ParallelizeConcurrent, parallelizeAs(ParallelizeConcurrent)),
		NewFunc(ParallelizeProcess, parallelizeAs(ParallelizeProcess)),
		NewFunc(ParallelizeLambda, parallelizeAs(ParallelizeLambda)),
		NewFunc(CreatePipelines, runCreatePipelines),
		NewFunc(Canonicalize, runCanonicalize),
		NewFunc(Verify, runVerify),
		NewFunc(CompilePipelines, runCompilePipelines),
	}
}

// forEachGraph calls fn on g and then on every nested graph, outer first.
func forEachGraph(g *dag.Graph, fn func(*dag.Graph) error) error {
	if err := fn(g); err != nil {
		return err
	}
	for _, op := range g.Operators() {
		if inner := g.Inner(op); inner != nil {
			if err := forEachGraph(inner, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
