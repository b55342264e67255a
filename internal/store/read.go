package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/dagopt/internal/optimizer"
)

// LookupPlan returns the plan cached under key.
// Returns false if there is none.
func (s *Store) LookupPlan(ctx context.Context, key string) (CachedPlan, bool, error) {
	var p CachedPlan
	var planJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT input_hash, config_hash, plan_json
		FROM plans
		WHERE key = ?
	`, key).Scan(&p.InputHash, &p.ConfigHash, &planJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return CachedPlan{}, false, nil
	}
	if err != nil {
		return CachedPlan{}, false, fmt.Errorf("lookup plan: %w", err)
	}
	p.PlanJSON = []byte(planJSON)
	return p, true, nil
}

// PassRuns returns the trace of one optimizer run in execution order.
func (s *Store) PassRuns(ctx context.Context, runID string) ([]optimizer.PassRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, pass, before_hash, after_hash, operators, duration_ns
		FROM pass_runs
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query pass runs: %w", err)
	}
	defer rows.Close()

	var runs []optimizer.PassRun
	for rows.Next() {
		var r optimizer.PassRun
		var ns int64
		if err := rows.Scan(&r.RunID, &r.Seq, &r.Pass, &r.BeforeHash, &r.AfterHash, &r.Operators, &ns); err != nil {
			return nil, fmt.Errorf("scan pass run: %w", err)
		}
		r.Duration = time.Duration(ns)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pass runs: %w", err)
	}
	return runs, nil
}
