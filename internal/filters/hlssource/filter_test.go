package hlssource

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

func newTestFilter(t *testing.T, cfg Config) *Filter {
	t.Helper()
	executor := graph.NewExecutor(graph.Mono, 0)
	f, err := New(fakeHost{}, cfg,
		graph.NewAllocator(64, 1<<16), graph.NewAllocator(64, 1<<12), executor)
	require.NoError(t, err)
	return f
}

func TestNew_RequiresURL(t *testing.T) {
	executor := graph.NewExecutor(graph.Mono, 0)
	_, err := New(fakeHost{}, Config{},
		graph.NewAllocator(4, 16), graph.NewAllocator(4, 16), executor)
	assert.ErrorIs(t, err, ErrNoURL)
}

func TestAnnexBJoin(t *testing.T) {
	assert.Nil(t, annexBJoin(nil, nil))
	got := annexBJoin([]byte{0x67, 0x42}, nil, []byte{0x68})
	assert.Equal(t, []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 0, 1, 0x68}, got)
}

func TestIsRandomAccess(t *testing.T) {
	idr := [][]byte{{0x09, 0xF0}, {0x65, 0x88}}
	nonIDR := [][]byte{{0x41, 0x9A}}
	assert.True(t, isRandomAccess("h264_annexb", idr))
	assert.False(t, isRandomAccess("h264_annexb", nonIDR))

	// HEVC IDR_W_RADL has nal_unit_type 19 in the upper six bits.
	hevcIDR := [][]byte{{19 << 1, 0x01}}
	hevcTrail := [][]byte{{1 << 1, 0x01}}
	assert.True(t, isRandomAccess("hevc_annexb", hevcIDR))
	assert.False(t, isRandomAccess("hevc_annexb", hevcTrail))

	assert.False(t, isRandomAccess("vp9", idr))
}

func TestProcess_DrainsQueueAndReportsEOS(t *testing.T) {
	f := newTestFilter(t, Config{URL: "http://upstream.example/live.m3u8"})

	videoSink := graph.NewInput(16)
	audioSink := graph.NewInput(16)
	require.NoError(t, f.Output(0).Connect(videoSink, false))
	require.NoError(t, f.Output(1).Connect(audioSink, false))

	videoMeta := &frame.Metadata{Kind: frame.StreamKindVideoPkt, Codec: "h264_annexb"}
	audioMeta := &frame.Metadata{Kind: frame.StreamKindAudioPkt, Codec: "aac", SampleRate: 48000}

	// bypass the network: pretend the client already started and feed the
	// queue the way the track callbacks would.
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	f.enqueue(queued{video: true, data: []byte{0, 0, 0, 1, 0x65}, meta: videoMeta, ptsCR: 3600, dtsCR: 3600, keyframe: true})
	f.enqueue(queued{data: []byte{0xFF, 0xF1}, meta: audioMeta, ptsCR: 3600, dtsCR: 3600})

	require.NoError(t, f.Process())

	vf := videoSink.TryPop()
	require.NotNil(t, vf)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x65}, vf.Data())
	pts, ok := vf.PresentationTime()
	require.True(t, ok)
	assert.Equal(t, int64(3600), pts)
	assert.True(t, vf.Cue().Keyframe)
	vf.Release()

	af := audioSink.TryPop()
	require.NotNil(t, af)
	assert.Equal(t, frame.StreamKindAudioPkt, af.Metadata().Kind)
	af.Release()

	// once the client reports finished and the queue is dry, Process EOSes.
	f.mu.Lock()
	f.finished = true
	f.mu.Unlock()
	assert.ErrorIs(t, f.Process(), graph.ErrEOS)
}

func TestEnqueue_DropsOldestWhenFull(t *testing.T) {
	f := newTestFilter(t, Config{URL: "http://upstream.example/live.m3u8", QueueCapacity: 2})
	meta := &frame.Metadata{Kind: frame.StreamKindAudioPkt, Codec: "aac"}
	f.enqueue(queued{data: []byte{1}, meta: meta})
	f.enqueue(queued{data: []byte{2}, meta: meta})
	f.enqueue(queued{data: []byte{3}, meta: meta})

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.queue, 2)
	assert.Equal(t, []byte{2}, f.queue[0].data)
	assert.Equal(t, []byte{3}, f.queue[1].data)
}

func TestClockRefToCR(t *testing.T) {
	// 90kHz doubles into the 180kHz clock.
	assert.Equal(t, int64(180_000), clockRefToCR(90_000))
	assert.Equal(t, int64(2), clockRefToCR(1))
}
