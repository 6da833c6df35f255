package timerectifier

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jmylchreest/streamforge/internal/clock"
	"github.com/jmylchreest/streamforge/internal/frame"
	"github.com/jmylchreest/streamforge/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct{ logger *slog.Logger }

func (h fakeHost) Log(level graph.LogLevel, msg string, args ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, args...)
	}
}
func (fakeHost) Activate(active bool) {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pushRaw(t *testing.T, producer *graph.Output, kind frame.StreamKind, sampleRate, channels int, mediaTime int64, payload []byte) {
	t.Helper()
	meta := &frame.Metadata{Kind: kind, SampleRate: sampleRate, Channels: channels}
	f := frame.Wrap(payload, meta)
	f.SetPresentationTime(mediaTime)
	require.NoError(t, producer.Post(f))
}

func newTestRectifier(t *testing.T, clk clock.Clock) (*TimeRectifier, *graph.Output, *graph.Output, *graph.Input, *graph.Input) {
	t.Helper()
	executor := graph.NewExecutor(graph.Mono, 0)
	cfg := Config{
		FrameRateNum:        25,
		FrameRateDen:        1,
		AnalyzeWindowIn180k: frame.ClockRate, // 1s, generous for test determinism
		Clock:               clk,
	}
	tr, err := New(fakeHost{logger: testLogger()}, cfg, 2, executor)
	require.NoError(t, err)

	videoProducer := graph.NewOutput(graph.NewAllocator(64, 4096), executor)
	require.NoError(t, videoProducer.Connect(tr.Input(0), false))
	audioProducer := graph.NewOutput(graph.NewAllocator(64, 4096), executor)
	require.NoError(t, audioProducer.Connect(tr.Input(1), false))

	videoSink := graph.NewInput(256)
	_ = tr.Output(0).Connect(videoSink, false)
	audioSink := graph.NewInput(256)
	_ = tr.Output(1).Connect(audioSink, false)

	return tr, videoProducer, audioProducer, videoSink, audioSink
}

func TestProcessReturnsErrNoVideoInputUntilVideoArrives(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	tr, _, audioProducer, _, _ := newTestRectifier(t, clk)

	pushRaw(t, audioProducer, frame.StreamKindAudioRaw, 48000, 2, 0, make([]byte, 128))
	err := tr.Process()
	assert.ErrorIs(t, err, ErrNoVideoInput)
}

func TestVideoTickProducesArithmeticProgression(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	tr, videoProducer, _, videoSink, _ := newTestRectifier(t, clk)

	period := time.Duration(tr.cfg.FrameRateDen) * time.Second / time.Duration(tr.cfg.FrameRateNum)

	// Seed one video frame and discover the video input/start the scheduler.
	pushRaw(t, videoProducer, frame.StreamKindVideoRaw, 0, 0, 0, []byte{0})
	require.NoError(t, tr.Process())

	var gotMediaTimes []int64
	for i := 0; i < 3; i++ {
		clk.Advance(period)
		f := videoSink.TryPop()
		require.NotNil(t, f, "expected a video frame on tick %d", i)
		mt, ok := f.PresentationTime()
		require.True(t, ok)
		gotMediaTimes = append(gotMediaTimes, mt)

		// Feed the next frame so the following tick has a fresh reference.
		pushRaw(t, videoProducer, frame.StreamKindVideoRaw, 0, 0, 0, []byte{byte(i + 1)})
		require.NoError(t, tr.Process())
	}

	step := frame.DivUp(int64(tr.cfg.FrameRateDen), frame.ClockRate, int64(tr.cfg.FrameRateNum))
	require.Len(t, gotMediaTimes, 3)
	assert.Equal(t, int64(0), gotMediaTimes[0])
	assert.Equal(t, step, gotMediaTimes[1])
	assert.Equal(t, 2*step, gotMediaTimes[2])
}

func TestAudioTimelineIsContiguous(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	tr, videoProducer, audioProducer, videoSink, audioSink := newTestRectifier(t, clk)

	period := time.Duration(tr.cfg.FrameRateDen) * time.Second / time.Duration(tr.cfg.FrameRateNum)
	const sampleRate = 48000
	const channels = 2
	const samplesPerChunk = 1024
	payload := make([]byte, samplesPerChunk*channels*2)

	pushRaw(t, videoProducer, frame.StreamKindVideoRaw, 0, 0, 0, []byte{0})
	// Audio arrives slightly ahead of the video reference's media time.
	pushRaw(t, audioProducer, frame.StreamKindAudioRaw, sampleRate, channels, 0, payload)
	require.NoError(t, tr.Process())

	clk.Advance(period)
	require.NotNil(t, videoSink.TryPop())

	f := audioSink.TryPop()
	require.NotNil(t, f, "expected an audio frame to drain on the first tick")
	mt, ok := f.PresentationTime()
	require.True(t, ok)
	assert.Equal(t, int64(0), mt)

	pushRaw(t, audioProducer, frame.StreamKindAudioRaw, sampleRate, channels, 0, payload)
	pushRaw(t, videoProducer, frame.StreamKindVideoRaw, 0, 0, 0, []byte{1})
	require.NoError(t, tr.Process())
	clk.Advance(period)
	require.NotNil(t, videoSink.TryPop())

	f2 := audioSink.TryPop()
	require.NotNil(t, f2)
	mt2, ok := f2.PresentationTime()
	require.True(t, ok)
	wantSecondMediaTime := frame.DivUp(int64(samplesPerChunk), frame.ClockRate, int64(sampleRate))
	assert.Equal(t, wantSecondMediaTime, mt2, "second audio chunk's media time should be the running sample count, not a repeat of zero")
}

func TestFlushIsIdempotent(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	tr, videoProducer, _, _, _ := newTestRectifier(t, clk)

	pushRaw(t, videoProducer, frame.StreamKindVideoRaw, 0, 0, 0, []byte{0})
	require.NoError(t, tr.Process())

	require.NoError(t, tr.Flush())
	require.NoError(t, tr.Flush())
}

func TestDynamicInputGrowthMirrorsOutputs(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	executor := graph.NewExecutor(graph.Mono, 0)
	cfg := Config{FrameRateNum: 25, FrameRateDen: 1, Clock: clk}
	tr, err := New(fakeHost{}, cfg, 0, executor)
	require.NoError(t, err)

	assert.Equal(t, 0, tr.NumInputs())
	_ = tr.Input(2)
	assert.Equal(t, 3, tr.NumInputs())
	assert.Equal(t, 3, tr.NumOutputs())
}
