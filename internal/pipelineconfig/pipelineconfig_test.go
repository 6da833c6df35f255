package pipelineconfig

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/streamforge/internal/graph"
)

// sourceConfig is the decoded params type for the "fakeSource" test kind.
type sourceConfig struct {
	Count int `yaml:"count"`
}

// fakeSource/fakeSink are minimal graph.Filter implementations just
// complete enough to exercise module construction and pin wiring; they
// don't need to actually move frames for these tests.
type fakeSource struct {
	out *graph.Output
	n   int
}

func (f *fakeSource) NumInputs() int        { return 0 }
func (f *fakeSource) Input(i int) *graph.Input { return nil }
func (f *fakeSource) NumOutputs() int       { return 1 }
func (f *fakeSource) Output(i int) *graph.Output { return f.out }
func (f *fakeSource) Process() error        { return graph.ErrEOS }
func (f *fakeSource) Flush() error          { return nil }

type fakeSink struct {
	in *graph.Input
}

func (f *fakeSink) NumInputs() int            { return 1 }
func (f *fakeSink) Input(i int) *graph.Input  { return f.in }
func (f *fakeSink) NumOutputs() int           { return 0 }
func (f *fakeSink) Output(i int) *graph.Output { return nil }
func (f *fakeSink) Process() error            { return graph.ErrEOS }
func (f *fakeSink) Flush() error              { return nil }

func testRegistry(pipeline *graph.Pipeline) (Registry, *graph.Factory) {
	factory := graph.NewFactory()
	alloc := graph.NewAllocator(4, 64)

	factory.Register("fakeSource", func(host graph.Host, cfg any) (graph.Filter, error) {
		sc := cfg.(sourceConfig)
		return &fakeSource{out: graph.NewOutput(alloc, pipeline.Executor()), n: sc.Count}, nil
	})
	factory.Register("fakeSink", func(host graph.Host, cfg any) (graph.Filter, error) {
		return &fakeSink{in: graph.NewInput(8)}, nil
	})

	decoders := Registry{
		"fakeSource": func(node *yaml.Node) (any, error) {
			var sc sourceConfig
			if node != nil {
				if err := node.Decode(&sc); err != nil {
					return nil, err
				}
			}
			return sc, nil
		},
		"fakeSink": func(node *yaml.Node) (any, error) {
			return struct{}{}, nil
		},
	}
	return decoders, factory
}

const sampleGraph = `
executor: mono
modules:
  - name: src0
    kind: fakeSource
    config:
      count: 5
  - name: sink0
    kind: fakeSink
connections:
  - from: src0.0
    to: sink0.0
`

func TestParse(t *testing.T) {
	spec, err := Parse([]byte(sampleGraph))
	require.NoError(t, err)
	assert.Equal(t, "mono", spec.Executor)
	require.Len(t, spec.Modules, 2)
	assert.Equal(t, "src0", spec.Modules[0].Name)
	assert.Equal(t, "fakeSource", spec.Modules[0].Kind)
	require.Len(t, spec.Connections, 1)
	assert.Equal(t, "src0.0", spec.Connections[0].From)
	assert.Equal(t, "sink0.0", spec.Connections[0].To)
}

func TestParse_MissingNameOrKind(t *testing.T) {
	_, err := Parse([]byte("modules:\n  - kind: fakeSource\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("modules:\n  - name: src0\n"))
	assert.Error(t, err)
}

func TestGraphSpec_ExecutorPolicy(t *testing.T) {
	cases := map[string]graph.ExecutorPolicy{
		"":               graph.OnePerModule,
		"one_per_module": graph.OnePerModule,
		"mono":           graph.Mono,
		"Mono":           graph.Mono,
		"shared_pool":    graph.SharedPool,
	}
	for raw, want := range cases {
		spec := &GraphSpec{Executor: raw}
		got, err := spec.ExecutorPolicy()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := (&GraphSpec{Executor: "bogus"}).ExecutorPolicy()
	assert.Error(t, err)
}

func TestGraphSpec_Build(t *testing.T) {
	spec, err := Parse([]byte(sampleGraph))
	require.NoError(t, err)

	policy, err := spec.ExecutorPolicy()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := graph.NewPipeline(policy, 0, logger)

	decoders, factory := testRegistry(pipeline)
	require.NoError(t, spec.Build(pipeline, factory, decoders))

	require.Len(t, pipeline.Nodes(), 2)
	src := pipeline.Filter("src0")
	require.NotNil(t, src)
	assert.Equal(t, 1, src.NumOutputs())

	sink := pipeline.Filter("sink0")
	require.NotNil(t, sink)
	assert.Equal(t, 1, sink.NumInputs())
}

func TestGraphSpec_Build_UnknownKind(t *testing.T) {
	spec, err := Parse([]byte(`
modules:
  - name: m0
    kind: nonexistent
`))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := graph.NewPipeline(graph.Mono, 0, logger)
	_, factory := testRegistry(pipeline)

	err = spec.Build(pipeline, factory, Registry{})
	assert.Error(t, err)
	_ = factory
}

func TestGraphSpec_Build_DuplicateModuleName(t *testing.T) {
	spec, err := Parse([]byte(`
modules:
  - name: dup
    kind: fakeSource
    config:
      count: 1
  - name: dup
    kind: fakeSink
`))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := graph.NewPipeline(graph.Mono, 0, logger)
	decoders, factory := testRegistry(pipeline)

	err = spec.Build(pipeline, factory, decoders)
	assert.Error(t, err)
}

func TestGraphSpec_Build_BadConnectionRef(t *testing.T) {
	spec, err := Parse([]byte(`
modules:
  - name: src0
    kind: fakeSource
    config:
      count: 1
  - name: sink0
    kind: fakeSink
connections:
  - from: src0
    to: sink0.0
`))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := graph.NewPipeline(graph.Mono, 0, logger)
	decoders, factory := testRegistry(pipeline)

	err = spec.Build(pipeline, factory, decoders)
	assert.Error(t, err)
}

func TestGraphSpec_Build_OutOfRangePinIndex(t *testing.T) {
	spec, err := Parse([]byte(`
modules:
  - name: src0
    kind: fakeSource
    config:
      count: 1
  - name: sink0
    kind: fakeSink
connections:
  - from: src0.3
    to: sink0.0
`))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := graph.NewPipeline(graph.Mono, 0, logger)
	decoders, factory := testRegistry(pipeline)

	err = spec.Build(pipeline, factory, decoders)
	assert.Error(t, err)
}
