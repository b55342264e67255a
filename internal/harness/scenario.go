package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines an optimization scenario.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// DAG is the input plan: a path relative to the scenario file, or an
	// inline plan document starting with "{".
	DAG string `yaml:"dag"`

	// Config is the optimizer configuration, in any spelling config.FromMap
	// accepts.
	Config map[string]any `yaml:"config,omitempty"`

	// Passes replaces the configured pass list when non-empty.
	Passes []string `yaml:"passes,omitempty"`

	// Assertions validate the optimized plan.
	// Supported types: operator_count, verify, acyclic, output_type, nested_sink
	Assertions []Assertion `yaml:"assertions"`

	// Golden requests a golden file comparison of the optimized plan.
	Golden bool `yaml:"golden,omitempty"`
}

// Assertion validates the optimized plan.
type Assertion struct {
	// Type specifies the assertion type:
	// - "operator_count": Count operators of Kind (all kinds if empty)
	// - "verify": Plan passes structural verification
	// - "acyclic": No graph in the plan has a cycle
	// - "output_type": First operator of OpKind has type Expect
	// - "nested_sink": Some operator of Kind has a nested graph whose
	//   output walks back through Chain along input port 0
	Type string `yaml:"type"`

	Kind   string   `yaml:"kind,omitempty"`
	Count  int      `yaml:"count,omitempty"`
	OpKind string   `yaml:"op_kind,omitempty"`
	Expect string   `yaml:"expect,omitempty"`
	Chain  []string `yaml:"chain,omitempty"`
}

// Assertion type constants.
const (
	AssertOperatorCount = "operator_count"
	AssertVerify        = "verify"
	AssertAcyclic       = "acyclic"
	AssertOutputType    = "output_type"
	AssertNestedSink    = "nested_sink"
)

// LoadScenario reads and parses a scenario YAML file. A DAG path is
// resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if !isInline(s.DAG) && !filepath.IsAbs(s.DAG) {
		s.DAG = filepath.Join(filepath.Dir(path), s.DAG)
	}
	if !isInline(s.DAG) {
		if _, err := os.Stat(s.DAG); err != nil {
			return nil, fmt.Errorf("invalid scenario: dag file not found: %s", s.DAG)
		}
	}
	return s, nil
}

// ParseScenario parses scenario YAML without touching the file system.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml and *.yml file in dir, sorted by name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	slices.Sort(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func isInline(dag string) bool {
	return strings.HasPrefix(strings.TrimSpace(dag), "{")
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.DAG == "" {
		return fmt.Errorf("dag is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertOperatorCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for operator_count", index)
		}
	case AssertVerify, AssertAcyclic:
	case AssertOutputType:
		if a.OpKind == "" || a.Expect == "" {
			return fmt.Errorf("assertions[%d]: op_kind and expect are required for output_type", index)
		}
	case AssertNestedSink:
		if a.Kind == "" || len(a.Chain) == 0 {
			return fmt.Errorf("assertions[%d]: kind and chain are required for nested_sink", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
