package strategy

import (
	"fmt"
	"math"
	"sort"
)

// ParamType is the value type of a strategy parameter.
type ParamType string

const (
	ParamInt   ParamType = "int"
	ParamFloat ParamType = "float"
)

// ParamSpec describes one tunable strategy parameter.
type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Default     float64   `json:"default"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Description string    `json:"description,omitempty"`
}

// Params holds resolved parameter values keyed by name.
type Params map[string]float64

// Int returns the named parameter as an int.
func (p Params) Int(name string) int {
	return int(p[name])
}

// Float returns the named parameter.
func (p Params) Float(name string) float64 {
	return p[name]
}

// Factory builds a Strategy from resolved parameters.
type Factory func(p Params) (Strategy, error)

// Definition is a catalog entry: a strategy's public metadata and the
// factory that instantiates it.
type Definition struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Description string      `json:"description"`
	Parameters  []ParamSpec `json:"parameters"`
	New         Factory     `json:"-"`
}

// Resolve fills defaults for missing parameters and validates the supplied
// ones against the catalog.
func (d Definition) Resolve(in map[string]float64) (Params, error) {
	known := make(map[string]ParamSpec, len(d.Parameters))
	for _, spec := range d.Parameters {
		known[spec.Name] = spec
	}
	for name := range in {
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("%w: %s does not accept %q", ErrInvalidParameter, d.Name, name)
		}
	}

	out := make(Params, len(d.Parameters))
	for _, spec := range d.Parameters {
		v, ok := in[spec.Name]
		if !ok {
			out[spec.Name] = spec.Default
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s is not a finite number", ErrInvalidParameter, spec.Name)
		}
		if spec.Type == ParamInt && v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidParameter, spec.Name, v)
		}
		if v < spec.Min || v > spec.Max {
			return nil, fmt.Errorf("%w: %s=%v outside [%v, %v]", ErrInvalidParameter, spec.Name, v, spec.Min, spec.Max)
		}
		out[spec.Name] = v
	}
	return out, nil
}

// Registry holds the named catalog of strategy definitions. It is populated
// once at startup and read concurrently afterwards.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]Definition),
	}
}

// Register adds a definition to the registry, keyed by its Name.
func (r *Registry) Register(d Definition) {
	r.defs[d.Name] = d
}

// Get retrieves a definition by name. The second return value indicates
// whether the strategy was found.
func (r *Registry) Get(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns every registered definition sorted by name.
func (r *Registry) Definitions() []Definition {
	names := r.List()
	out := make([]Definition, len(names))
	for i, name := range names {
		out[i] = r.defs[name]
	}
	return out
}

// Build resolves params against the named definition and returns a fresh
// Strategy instance along with the resolved parameters.
func (r *Registry) Build(name string, params map[string]float64) (Strategy, Params, error) {
	d, ok := r.defs[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	resolved, err := d.Resolve(params)
	if err != nil {
		return nil, nil, err
	}
	s, err := d.New(resolved)
	if err != nil {
		return nil, nil, fmt.Errorf("building %s: %w", name, err)
	}
	return s, resolved, nil
}
