package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/dagopt/internal/codegen"
	"github.com/roach88/dagopt/internal/dag"
)

// RecordingBackend is a codegen.Backend that compiles nothing and records
// what it was asked to compile.
//
// Artifacts are numbered in call order, so the same sequence of calls
// always yields the same library paths.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RecordingBackend struct {
	mu     sync.Mutex
	bodies []int
	err    error
}

var _ codegen.Backend = (*RecordingBackend)(nil)

// NewRecordingBackend creates a backend that succeeds on every call.
func NewRecordingBackend() *RecordingBackend {
	return &RecordingBackend{}
}

// FailWith makes every later call return err.
func (b *RecordingBackend) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// CompilePipeline implements codegen.Backend.
//
// The returned artifact is "lib<n>.so" with entry symbol "pipeline_<n>",
// n counting calls from 0.
func (b *RecordingBackend) CompilePipeline(ctx context.Context, inner *dag.Graph) (codegen.Artifact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return codegen.Artifact{}, err
	}
	if b.err != nil {
		return codegen.Artifact{}, b.err
	}
	n := len(b.bodies)
	b.bodies = append(b.bodies, inner.Len())
	return codegen.Artifact{
		LibraryPath: fmt.Sprintf("lib%d.so", n),
		EntrySymbol: fmt.Sprintf("pipeline_%d", n),
	}, nil
}

// Bodies returns the operator count of each compiled body, in call order.
func (b *RecordingBackend) Bodies() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.bodies...)
}
