// Package optimizer runs the configured sequence of passes over a plan.
//
// The pass list is fixed when the Optimizer is built: the configuration's
// optimization level and target select the default passes and
// optimizations.<pass>.active overrides them one by one. Run executes the
// list in order on one graph, mutating it in place.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/dagopt/internal/codegen"
	"github.com/roach88/dagopt/internal/config"
	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/pass"
	"github.com/roach88/dagopt/internal/plan"
	"github.com/roach88/dagopt/internal/planerr"
	"github.com/roach88/dagopt/internal/udf"
)

// PassRun describes one executed pass.
type PassRun struct {
	RunID      string
	Seq        int
	Pass       string
	BeforeHash string
	AfterHash  string
	Operators  int
	Duration   time.Duration
}

// Tracer records executed passes. Hashes are only computed when a Tracer
// is installed.
type Tracer interface {
	RecordPassRun(ctx context.Context, r PassRun) error
}

// Report summarizes a run.
type Report struct {
	RunID  string
	Passes []PassRun
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) { o.logger = l }
}

// WithAnalyzer sets the UDF analyzer handed to passes.
func WithAnalyzer(a udf.Analyzer) Option {
	return func(o *Optimizer) { o.analyzer = a }
}

// WithBackend sets the code generator used by compile_pipelines.
func WithBackend(b codegen.Backend) Option {
	return func(o *Optimizer) { o.backend = b }
}

// WithTracer installs a pass-run tracer.
func WithTracer(t Tracer) Option {
	return func(o *Optimizer) { o.tracer = t }
}

// WithRegistry replaces the built-in pass registry.
func WithRegistry(r *pass.Registry) Option {
	return func(o *Optimizer) { o.registry = r }
}

// WithPasses replaces the configured pass list with names, run in order.
// Pass settings still come from the configuration.
func WithPasses(names ...string) Option {
	return func(o *Optimizer) { o.explicit = names }
}

type step struct {
	pass     pass.Pass
	settings map[string]any
}

// Optimizer runs a pass list over plans. It is not safe for concurrent use.
type Optimizer struct {
	cfg      config.Config
	registry *pass.Registry
	analyzer udf.Analyzer
	backend  codegen.Backend
	tracer   Tracer
	logger   *slog.Logger
	explicit []string

	steps   []step
	metrics *metrics
}

// New builds an Optimizer for cfg. Unknown pass names, in the
// configuration or in WithPasses, are a ConfigurationError.
func New(cfg config.Config, opts ...Option) (*Optimizer, error) {
	o := &Optimizer{
		cfg:      cfg,
		analyzer: udf.Descriptor{},
		metrics:  newMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = pass.NewRegistry()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	for _, name := range cfg.Passes() {
		if _, err := o.registry.Lookup(name); err != nil {
			return nil, planerr.Configuration("optimizations."+name, "unknown pass")
		}
	}

	names := o.explicit
	if names == nil {
		names = Schedule(cfg)
	}
	for _, name := range names {
		p, err := o.registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		o.steps = append(o.steps, step{pass: p, settings: cfg.Settings(name)})
	}
	return o, nil
}

func checkConfig(cfg config.Config) error {
	if cfg.Level < 0 || cfg.Level > 2 {
		return planerr.Configuration("optimization-level", "%d is not one of 0, 1, 2", cfg.Level)
	}
	switch cfg.Target {
	case "", config.TargetSingleCore, config.TargetOMP:
	default:
		return planerr.Configuration("target", "unknown target %q", cfg.Target)
	}
	return nil
}

// Schedule returns the pass list cfg selects.
//
// Levels gate the optional passes: predicate move-around and sortedness
// need level 1, parallelization needs level 2 and the omp target.
// compile_pipelines and the parallelize variants only run when switched on
// explicitly. Any pass can be switched off.
func Schedule(cfg config.Config) []string {
	var names []string
	add := func(name string, auto bool) {
		if cfg.Active(name, auto) {
			names = append(names, name)
		}
	}
	parallel := cfg.Level >= 2 && cfg.Target == config.TargetOMP

	add(pass.TypeInference, true)
	add(pass.Verify, true)
	add(pass.AttributeIDTracking, true)
	add(pass.PredicateMoveAround, cfg.Level >= 1)
	add(pass.TypeCheck, true)
	add(pass.DetermineSortedness, cfg.Level >= 1)
	add(pass.MaterializeMultipleReads, true)
	add(pass.TypeInference, true)
	before := len(names)
	add(pass.Parallelize, parallel)
	add(pass.ParallelizeConcurrent, false)
	add(pass.ParallelizeProcess, false)
	add(pass.ParallelizeLambda, false)
	if len(names) > before {
		add(pass.TypeInference, true)
	}
	add(pass.CreatePipelines, true)
	add(pass.TypeInference, true)
	add(pass.Canonicalize, true)
	add(pass.Verify, true)
	add(pass.CompilePipelines, false)
	return names
}

// Passes returns the names of the passes Run executes, in order.
func (o *Optimizer) Passes() []string {
	names := make([]string, len(o.steps))
	for i, s := range o.steps {
		names[i] = s.pass.Name()
	}
	return names
}

// Register registers the optimizer metrics to report to reg.
func (o *Optimizer) Register(reg prometheus.Registerer) error { return reg.Register(o.metrics.reg) }

// Unregister unregisters the optimizer metrics from reg.
func (o *Optimizer) Unregister(reg prometheus.Registerer) { reg.Unregister(o.metrics.reg) }

// Run executes the pass list on g. It stops before the next pass once ctx
// is done. A failing pass leaves g as that pass left it.
func (o *Optimizer) Run(ctx context.Context, g *dag.Graph) (*Report, error) {
	rep := &Report{RunID: uuid.Must(uuid.NewV7()).String()}
	log := o.logger.With("run_id", rep.RunID)
	o.metrics.runsTotal.Inc()

	log.Info("optimizer starting", "passes", len(o.steps), "operators", countOperators(g))

	env := &pass.Env{
		Ctx:      ctx,
		Analyzer: o.analyzer,
		Backend:  o.backend,
		Logger:   log,
	}
	for i, s := range o.steps {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		name := s.pass.Name()

		run := PassRun{RunID: rep.RunID, Seq: i, Pass: name}
		if o.tracer != nil {
			h, err := plan.Hash(g)
			if err != nil {
				return rep, fmt.Errorf("hash plan before %s: %w", name, err)
			}
			run.BeforeHash = h
		}

		start := time.Now()
		err := s.pass.Run(g, env.With(s.settings))
		run.Duration = time.Since(start)
		o.metrics.observe(name, run.Duration, err)
		if err != nil {
			log.Debug("pass failed", "pass", name, "error", err)
			return rep, fmt.Errorf("pass %s: %w", name, err)
		}

		run.Operators = countOperators(g)
		log.Debug("pass finished",
			"pass", name,
			"operators", run.Operators,
			"duration", run.Duration,
		)

		if o.tracer != nil {
			h, err := plan.Hash(g)
			if err != nil {
				return rep, fmt.Errorf("hash plan after %s: %w", name, err)
			}
			run.AfterHash = h
			if err := o.tracer.RecordPassRun(ctx, run); err != nil {
				return rep, fmt.Errorf("trace pass %s: %w", name, err)
			}
		}
		rep.Passes = append(rep.Passes, run)
	}

	log.Info("optimizer finished", "passes", len(rep.Passes), "operators", countOperators(g))
	return rep, nil
}

// countOperators counts the operators of g and of all nested graphs.
func countOperators(g *dag.Graph) int {
	n := 0
	for _, op := range g.Operators() {
		n++
		if inner := g.Inner(op); inner != nil {
			n += countOperators(inner)
		}
	}
	return n
}
