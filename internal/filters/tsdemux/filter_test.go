package tsdemux

import (
	"testing"

	"github.com/jmylchreest/streamforge/internal/frame"
	"github.com/jmylchreest/streamforge/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct{}

func (fakeHost) Log(level graph.LogLevel, msg string, args ...any) {}
func (fakeHost) Activate(active bool)                              {}

func newTestFilter() *Filter {
	executor := graph.NewExecutor(graph.Mono, 0)
	videoAlloc := graph.NewAllocator(8, 4096)
	audioAlloc := graph.NewAllocator(8, 4096)
	return New(fakeHost{}, Config{}, videoAlloc, audioAlloc, executor)
}

func TestFilter_PinShape(t *testing.T) {
	f := newTestFilter()
	defer f.Flush()

	assert.Equal(t, 1, f.NumInputs())
	assert.Equal(t, 2, f.NumOutputs())
	assert.NotNil(t, f.Output(0))
	assert.NotNil(t, f.Output(1))
}

func TestFilter_ReportsEOSOnceInputDrainsAndDisconnects(t *testing.T) {
	f := newTestFilter()

	executor := graph.NewExecutor(graph.Mono, 0)
	producer := graph.NewOutput(graph.NewAllocator(8, 4096), executor)
	require.NoError(t, producer.Connect(f.Input(0), false))

	fr := frame.Wrap([]byte{0x47, 0x1F, 0xFF, 0x10}, &frame.Metadata{Kind: frame.StreamKindUnknown})
	require.NoError(t, producer.Post(fr))

	require.NoError(t, f.Process())

	producer.Disconnect(f.Input(0))
	err := f.Process()
	assert.ErrorIs(t, err, graph.ErrEOS)
	assert.NoError(t, f.Flush())
}
