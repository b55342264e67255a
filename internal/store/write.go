package store

import (
	"context"
	"fmt"

	"github.com/roach88/dagopt/internal/optimizer"
	"github.com/roach88/dagopt/internal/plan"
)

// CachedPlan is an optimized plan document with the hashes it is keyed by.
type CachedPlan struct {
	InputHash  string
	ConfigHash string
	PlanJSON   []byte
}

// Key returns the cache key of p.
func (p CachedPlan) Key() string {
	return PlanKey(p.InputHash, p.ConfigHash)
}

// PlanKey combines the hash of an input plan and of a configuration.
func PlanKey(inputHash, configHash string) string {
	return plan.Digest(inputHash, configHash)
}

// PutPlan stores p, replacing any plan cached under the same key.
func (s *Store) PutPlan(ctx context.Context, p CachedPlan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (key, input_hash, config_hash, plan_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET plan_json = excluded.plan_json
	`,
		p.Key(),
		p.InputHash,
		p.ConfigHash,
		string(p.PlanJSON),
	)
	if err != nil {
		return fmt.Errorf("put plan: %w", err)
	}
	return nil
}

// RecordPassRun appends r to the pass trace. Recording the same run id and
// seq twice keeps the first row.
func (s *Store) RecordPassRun(ctx context.Context, r optimizer.PassRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pass_runs
		(run_id, seq, pass, before_hash, after_hash, operators, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		r.RunID,
		r.Seq,
		r.Pass,
		r.BeforeHash,
		r.AfterHash,
		r.Operators,
		r.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("record pass run: %w", err)
	}
	return nil
}

var _ optimizer.Tracer = (*Store)(nil)
