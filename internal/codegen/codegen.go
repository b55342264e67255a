// Package codegen defines the contract between the optimizer and the code
// generator that turns finished pipelines into loadable artifacts.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/plan"
)

// Artifact describes a loadable pipeline implementation.
type Artifact struct {
	LibraryPath string
	EntrySymbol string
}

// Backend compiles the body of one Pipeline operator. The graph is
// read-only to the backend.
type Backend interface {
	CompilePipeline(ctx context.Context, inner *dag.Graph) (Artifact, error)
}

// ErrNoBackend is returned when compilation is requested without a backend.
var ErrNoBackend = errors.New("no code generation backend configured")

// PlanDir is a Backend that stores each pipeline body as a canonical plan
// document named after its content hash. Downstream tooling picks the
// documents up from Dir and builds the actual libraries.
type PlanDir struct {
	Dir string
}

var _ Backend = (*PlanDir)(nil)

// CompilePipeline implements Backend.
func (p *PlanDir) CompilePipeline(ctx context.Context, inner *dag.Graph) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	data, err := plan.Marshal(inner)
	if err != nil {
		return Artifact{}, fmt.Errorf("encode pipeline: %w", err)
	}
	hash, err := plan.Hash(inner)
	if err != nil {
		return Artifact{}, err
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(p.Dir, hash[:16]+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write pipeline: %w", err)
	}
	return Artifact{LibraryPath: path, EntrySymbol: "pipeline_" + hash[:16]}, nil
}
