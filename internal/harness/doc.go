// Package harness runs optimization scenarios: a plan, a configuration and
// assertions about the optimized plan.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	dag: plans/input.json        # relative to the scenario file, or inline JSON
//	config:
//	  optimization-level: 2
//	  target: omp
//	passes: [type_inference, verify]   # optional, replaces the configured list
//	assertions:
//	  - type: operator_count
//	    kind: pipeline
//	    count: 1
//	  - type: verify
//	  - type: acyclic
//	  - type: output_type
//	    op_kind: concurrent_execute
//	    expect: "{int64}"
//	  - type: nested_sink
//	    kind: pipeline
//	    chain: [filter, map, range_source]
//	golden: true
//
// Assertions look at the whole plan, nested graphs included. A scenario
// with golden set is also compared against testdata/golden/<name>.golden
// by RunWithGolden.
package harness
