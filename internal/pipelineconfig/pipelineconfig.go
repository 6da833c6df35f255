// Package pipelineconfig loads a declarative graph description — filter
// instances and the pin connections between them — from YAML, the Go-native
// analogue of the original runtime's argv-driven pipeliner. It owns only
// topology: each module's per-kind configuration stays an opaque YAML node
// until a caller-supplied ParamDecoder turns it into the typed config value
// a graph.Factory constructor expects, so this package never needs to know
// about any particular filter kind's Go type.
package pipelineconfig

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/streamforge/internal/graph"
)

// ModuleSpec describes one filter instance: its instance name, its
// registered factory kind, and its raw, not-yet-decoded parameters.
type ModuleSpec struct {
	Name   string    `yaml:"name"`
	Kind   string    `yaml:"kind"`
	Params yaml.Node `yaml:"config"`
}

// ConnectionSpec describes one edge, each endpoint written as
// "moduleName.pinIndex" (e.g. "dash0.1" for dash0's second output/input).
type ConnectionSpec struct {
	From         string `yaml:"from"`
	To           string `yaml:"to"`
	MultiConnect bool   `yaml:"multi_connect"`
}

// GraphSpec is the top-level document: the executor policy plus the
// module/connection lists.
type GraphSpec struct {
	Executor       string           `yaml:"executor"`
	SharedPoolSize int              `yaml:"shared_pool_size"`
	Modules        []ModuleSpec     `yaml:"modules"`
	Connections    []ConnectionSpec `yaml:"connections"`
}

// Parse decodes a GraphSpec from YAML bytes.
func Parse(data []byte) (*GraphSpec, error) {
	var spec GraphSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("pipelineconfig: parsing graph: %w", err)
	}
	for i, m := range spec.Modules {
		if m.Name == "" {
			return nil, fmt.Errorf("pipelineconfig: module %d missing name", i)
		}
		if m.Kind == "" {
			return nil, fmt.Errorf("pipelineconfig: module %q missing kind", m.Name)
		}
	}
	return &spec, nil
}

// ParamDecoder turns a module's raw YAML params into the config value its
// graph.FilterCtor expects as the `config any` argument. Registered per
// filter kind by the embedder, since only the embedder knows the Go type
// (dasher.Config, timerectifier.Config, ...) and how to fill in fields a
// YAML document can't carry (an injected clock, a shared allocator).
type ParamDecoder func(node *yaml.Node) (any, error)

// Registry maps a factory kind name to the ParamDecoder that builds its
// config value from YAML.
type Registry map[string]ParamDecoder

// Build instantiates every module via factory and registers every
// connection on pipeline, in the order modules/connections appear in the
// GraphSpec. Both pipeline and factory must already exist; Build only calls
// Pipeline.AddFromFactory and Pipeline.Connect — it never starts the
// pipeline.
func (g *GraphSpec) Build(pipeline *graph.Pipeline, factory *graph.Factory, decoders Registry) error {
	names := make(map[string]bool, len(g.Modules))
	for _, m := range g.Modules {
		if names[m.Name] {
			return fmt.Errorf("pipelineconfig: duplicate module name %q", m.Name)
		}
		names[m.Name] = true

		decode, ok := decoders[m.Kind]
		if !ok {
			return fmt.Errorf("pipelineconfig: module %q: no ParamDecoder registered for kind %q", m.Name, m.Kind)
		}
		node := m.Params
		cfg, err := decode(&node)
		if err != nil {
			return fmt.Errorf("pipelineconfig: module %q: decoding config: %w", m.Name, err)
		}
		if _, err := pipeline.AddFromFactory(factory, m.Name, m.Kind, cfg); err != nil {
			return fmt.Errorf("pipelineconfig: module %q: %w", m.Name, err)
		}
	}

	for _, c := range g.Connections {
		outName, outIdx, err := parsePinRef(c.From)
		if err != nil {
			return fmt.Errorf("pipelineconfig: connection %q -> %q: %w", c.From, c.To, err)
		}
		inName, inIdx, err := parsePinRef(c.To)
		if err != nil {
			return fmt.Errorf("pipelineconfig: connection %q -> %q: %w", c.From, c.To, err)
		}

		outFilter := pipeline.Filter(outName)
		if outFilter == nil {
			return fmt.Errorf("pipelineconfig: connection %q -> %q: unknown module %q", c.From, c.To, outName)
		}
		inFilter := pipeline.Filter(inName)
		if inFilter == nil {
			return fmt.Errorf("pipelineconfig: connection %q -> %q: unknown module %q", c.From, c.To, inName)
		}

		if outIdx < 0 || outIdx >= outFilter.NumOutputs() {
			return fmt.Errorf("pipelineconfig: connection %q: output index %d out of range (module has %d)", c.From, outIdx, outFilter.NumOutputs())
		}
		if inIdx < 0 || inIdx >= inFilter.NumInputs() {
			return fmt.Errorf("pipelineconfig: connection %q: input index %d out of range (module has %d)", c.To, inIdx, inFilter.NumInputs())
		}

		if err := pipeline.Connect(outFilter.Output(outIdx), inFilter.Input(inIdx), c.MultiConnect); err != nil {
			return fmt.Errorf("pipelineconfig: connecting %q -> %q: %w", c.From, c.To, err)
		}
	}

	return nil
}

// ExecutorPolicy resolves the GraphSpec's executor field to a
// graph.ExecutorPolicy, defaulting to OnePerModule when unset.
func (g *GraphSpec) ExecutorPolicy() (graph.ExecutorPolicy, error) {
	switch strings.ToLower(g.Executor) {
	case "", "one_per_module":
		return graph.OnePerModule, nil
	case "mono":
		return graph.Mono, nil
	case "shared_pool":
		return graph.SharedPool, nil
	default:
		return 0, fmt.Errorf("pipelineconfig: unknown executor policy %q", g.Executor)
	}
}

// parsePinRef splits "moduleName.pinIndex" into its parts.
func parsePinRef(ref string) (name string, index int, err error) {
	idx := strings.LastIndex(ref, ".")
	if idx < 0 {
		return "", 0, fmt.Errorf("pin reference %q must be \"moduleName.index\"", ref)
	}
	name = ref[:idx]
	indexStr := ref[idx+1:]
	index, err = strconv.Atoi(indexStr)
	if err != nil {
		return "", 0, fmt.Errorf("pin reference %q: index %q is not an integer", ref, indexStr)
	}
	if name == "" {
		return "", 0, fmt.Errorf("pin reference %q: empty module name", ref)
	}
	return name, index, nil
}
