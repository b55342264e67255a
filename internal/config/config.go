// Package config loads and validates optimizer configuration.
//
// A configuration document is a JSON or YAML object. Keys may be nested or
// flattened with dots ("optimizations.verify.active"); both spellings are
// unflattened into one tree, validated against an embedded CUE schema and
// decoded into Config. Everything under optimizations.<pass> other than
// "active" is handed to that pass untouched.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/dagopt/internal/plan"
	"github.com/roach88/dagopt/internal/planerr"
)

//go:embed schema.cue
var schemaSource string

// Targets.
const (
	TargetSingleCore = "singlecore"
	TargetOMP        = "omp"
)

// Config is the typed optimizer configuration.
type Config struct {
	Level         int
	Target        string
	Verbose       bool
	Optimizations map[string]Pass
}

// Pass is the configuration of one pass.
type Pass struct {
	// Active overrides the level-based default when non-nil.
	Active   *bool
	Settings map[string]any
}

// Default returns the configuration used when nothing is specified:
// level 1 on a single core.
func Default() Config {
	return Config{Level: 1, Target: TargetSingleCore, Optimizations: map[string]Pass{}}
}

// Active reports whether pass should run, given whether the optimizer
// would enable it on its own.
func (c Config) Active(pass string, auto bool) bool {
	if p, ok := c.Optimizations[pass]; ok && p.Active != nil {
		return *p.Active
	}
	return auto
}

// Explicit reports whether pass was switched on explicitly.
func (c Config) Explicit(pass string) bool {
	p, ok := c.Optimizations[pass]
	return ok && p.Active != nil && *p.Active
}

// Settings returns the pass-local settings of pass, or nil.
func (c Config) Settings(pass string) map[string]any {
	return c.Optimizations[pass].Settings
}

// SetActive sets the explicit override of pass.
func (c *Config) SetActive(pass string, active bool) {
	if c.Optimizations == nil {
		c.Optimizations = map[string]Pass{}
	}
	p := c.Optimizations[pass]
	p.Active = &active
	c.Optimizations[pass] = p
}

// Passes returns the names of all passes mentioned, sorted.
func (c Config) Passes() []string {
	return slices.Sorted(maps.Keys(c.Optimizations))
}

// Hash identifies c for plan caching. extra is mixed in for inputs outside
// the configuration that change the optimized plan.
func (c Config) Hash(extra ...string) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("hash config: %w", err)
	}
	return plan.Digest(append([]string{string(data)}, extra...)...), nil
}

// Load reads a configuration file. Files ending in .yaml or .yml are read
// as YAML, everything else as JSON.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON parses a JSON configuration document.
func ParseJSON(data []byte) (Config, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return Config{}, planerr.Configuration("", "invalid JSON: %v", err)
	}
	return FromMap(m)
}

// ParseYAML parses a YAML configuration document.
func ParseYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, planerr.Configuration("", "invalid YAML: %v", err)
	}
	return FromMap(m)
}

// FromMap builds a Config from a generic document.
func FromMap(m map[string]any) (Config, error) {
	tree, err := Unflatten(m)
	if err != nil {
		return Config{}, err
	}
	if err := validate(tree); err != nil {
		return Config{}, err
	}
	return decode(tree)
}

// Unflatten expands dotted keys into nested maps. A key given both
// flattened and nested is merged; a conflict between a value and a map is
// a ConfigurationError.
func Unflatten(m map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v := normalize(m[k])
		if sub, ok := asMap(v); ok {
			nested, err := Unflatten(sub)
			if err != nil {
				return nil, err
			}
			v = nested
		}
		if err := insert(out, strings.Split(k, "."), v, k); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func insert(dst map[string]any, path []string, v any, key string) error {
	head := path[0]
	if len(path) == 1 {
		existing, ok := dst[head]
		if !ok {
			dst[head] = v
			return nil
		}
		em, eok := existing.(map[string]any)
		vm, vok := v.(map[string]any)
		if !eok || !vok {
			return planerr.Configuration(key, "key given twice")
		}
		for k, x := range vm {
			if err := insert(em, []string{k}, x, key+"."+k); err != nil {
				return err
			}
		}
		return nil
	}
	next, ok := dst[head]
	if !ok {
		next = make(map[string]any)
		dst[head] = next
	}
	nm, ok := next.(map[string]any)
	if !ok {
		return planerr.Configuration(key, "%q is not an object", head)
	}
	return insert(nm, path[1:], v, key)
}

// normalize turns integral numbers into int64 so that they unify with
// integer constraints, whatever decoder produced them.
func normalize(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return f
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n)
		}
	case int:
		return int64(n)
	case []any:
		out := make([]any, len(n))
		for i, x := range n {
			out[i] = normalize(x)
		}
		return out
	}
	return v
}

// asMap normalizes the map types produced by the JSON and YAML decoders.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, x := range m {
			out[fmt.Sprint(k)] = x
		}
		return out, true
	}
	return nil, false
}

func validate(tree map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(tree))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError reports the first schema violation with its path.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return planerr.Configuration("", "%v", err)
	}
	first := errs[0]
	path := first.Path()
	if len(path) > 0 && path[0] == "#Config" {
		path = path[1:]
	}
	for i, p := range path {
		path[i] = strings.Trim(p, `"`)
	}
	if len(path) == 0 {
		return planerr.Configuration("", "%v", first)
	}
	format, args := first.Msg()
	return planerr.Configuration(strings.Join(path, "."), format, args...)
}

func decode(tree map[string]any) (Config, error) {
	c := Default()
	if v, ok := tree["optimization-level"]; ok {
		n, err := toInt(v)
		if err != nil {
			return Config{}, planerr.Configuration("optimization-level", "%v", err)
		}
		c.Level = n
	}
	if v, ok := tree["target"].(string); ok {
		c.Target = v
	}
	if v, ok := tree["verbose"].(bool); ok {
		c.Verbose = v
	}
	opts, _ := tree["optimizations"].(map[string]any)
	for name, raw := range opts {
		body, _ := raw.(map[string]any)
		var p Pass
		for k, v := range body {
			if k == "active" {
				b := v.(bool)
				p.Active = &b
				continue
			}
			if p.Settings == nil {
				p.Settings = make(map[string]any)
			}
			p.Settings[k] = v
		}
		c.Optimizations[name] = p
	}
	return c, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("%v is not a number", v)
}
