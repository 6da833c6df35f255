package tsmux

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

func newTestFilter(cfg Config) *Filter {
	executor := graph.NewExecutor(graph.Mono, 0)
	alloc := graph.NewAllocator(8, 1<<16)
	return New(fakeHost{}, cfg, alloc, executor)
}

func TestFilter_PinShape(t *testing.T) {
	f := newTestFilter(Config{})
	assert.Equal(t, 2, f.NumInputs())
	assert.Equal(t, 1, f.NumOutputs())
	assert.NotNil(t, f.Input(0))
	assert.NotNil(t, f.Input(1))
	assert.NotNil(t, f.Output(0))
}

func h264AnnexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

func TestFilter_MuxesVideoFrameIntoSegment(t *testing.T) {
	f := newTestFilter(Config{VideoCodec: "h264"})

	executor := graph.NewExecutor(graph.Mono, 0)
	producer := graph.NewOutput(graph.NewAllocator(8, 1<<16), executor)
	require.NoError(t, producer.Connect(f.Input(0), false))

	sps := []byte{0x67, 0x42, 0x00, 0x1E}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}
	idr := append([]byte{0x65}, make([]byte, 16)...)
	data := h264AnnexB(sps, pps, idr)

	fr := frame.Wrap(data, &frame.Metadata{Kind: frame.StreamKindVideoPkt, Codec: "h264_annexb"})
	fr.SetPresentationTime(0)
	fr.SetDecodingTime(0)
	fr.SetCue(frame.CueFlags{Keyframe: true})
	require.NoError(t, producer.Post(fr))

	require.NoError(t, f.Process())

	producer.Disconnect(f.Input(0))
	err := f.Process()
	assert.ErrorIs(t, err, graph.ErrEOS)
	assert.NoError(t, f.Flush())
}

func TestFilter_NoOutputWhenNothingWritten(t *testing.T) {
	f := newTestFilter(Config{})
	err := f.Process()
	assert.NoError(t, err)
}
