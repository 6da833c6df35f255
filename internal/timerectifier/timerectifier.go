// Package timerectifier implements the clock-driven multi-stream reframer:
// given asynchronously-arriving decoded frames on several inputs (one
// video, any number of audio), it emits a clean, gap-free, synchronized
// output stream at a fixed frame rate by selecting the closest reference
// frame per video tick and the matching audio range per tick.
package timerectifier

import (
	"errors"
	"sync"
	"time"

	"github.com/jmylchreest/streamforge/internal/clock"
	"github.com/jmylchreest/streamforge/internal/frame"
	"github.com/jmylchreest/streamforge/internal/graph"
)

// DefaultAnalyzeWindowIn180k is the default analyze window (0.5s of
// clock time) bounding how long a buffered frame is retained.
const DefaultAnalyzeWindowIn180k int64 = frame.ClockRate / 2

var (
	// ErrNoVideoInput is raised once Process runs and no input has yet
	// adopted VideoRaw metadata.
	ErrNoVideoInput = errors.New("timerectifier: requires one video stream connected")
	// ErrMultipleVideoInputs is raised if a second input adopts VideoRaw
	// metadata; the module supports exactly one video lead stream.
	ErrMultipleVideoInputs = errors.New("timerectifier: only one video stream is allowed")
	// ErrUnhandledStreamKind is raised when a non-video, non-audio stream
	// kind arrives (subtitles and other sparse kinds are not reframed by
	// this module).
	ErrUnhandledStreamKind = errors.New("timerectifier: unhandled stream kind")
)

// Config holds the TimeRectifier's tunables.
type Config struct {
	// FrameRateNum/FrameRateDen express fps = num/den.
	FrameRateNum int
	FrameRateDen int

	// AnalyzeWindowIn180k bounds how long a buffered frame is retained
	// before eviction. Zero selects DefaultAnalyzeWindowIn180k.
	AnalyzeWindowIn180k int64

	// Clock is the injected wall/virtual clock driving the tick scheduler.
	Clock clock.Clock

	// InputCapacity is the bounded FIFO depth for each Input pin.
	InputCapacity int

	// OutputAllocCapacity/OutputSlotSize size each mirrored Output's pool allocator.
	OutputAllocCapacity int
	OutputSlotSize int
}

type bufEntry struct {
	f *frame.Frame
	mediaTime int64 // original, as received (CR units)
	clockTime int64 // arrival instant, relative to t.epoch (CR units)
}

type streamState struct {
	kind frame.StreamKind
	sampleRate int
	channels int
	buf []bufEntry
	numTicks int64 // video: tick index k; audio: chunks emitted
	samplesEmitted int64 // audio only: running total for contiguous timeline
}

// TimeRectifier is the multi-input, multi-output active Filter. Its own
// Process only drains Input queues into per-stream buffers; emission is
// driven by the scheduler's periodic tick.
type TimeRectifier struct {
	host graph.Host
	cfg Config
	executor graph.Executor

	mu sync.Mutex
	cond *sync.Cond
	ins []*graph.Input
	outs []*graph.Output
	streams []*streamState

	videoIdx int // -1 until a VideoRaw input is discovered
	threshold int64
	period time.Duration
	analyzeWin int64
	epoch time.Time
	schedulerOn bool
	flushing bool
	stopped bool
	maxClockCR int64
	lastErr error
}

// New constructs a TimeRectifier pre-sized to numInputs pins; additional
// pins may still be grown lazily via Input(i), mirroring a filter that
// grows its input list on input(i) access.
func New(host graph.Host, cfg Config, numInputs int, executor graph.Executor) (*TimeRectifier, error) {
	if cfg.FrameRateNum <= 0 || cfg.FrameRateDen <= 0 {
		return nil, errors.New("timerectifier: frame rate must be positive")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Default
	}
	win := cfg.AnalyzeWindowIn180k
	if win == 0 {
		win = DefaultAnalyzeWindowIn180k
	}
	if cfg.InputCapacity <= 0 {
		cfg.InputCapacity = 64
	}
	if cfg.OutputAllocCapacity <= 0 {
		cfg.OutputAllocCapacity = 64
	}
	if cfg.OutputSlotSize <= 0 {
		cfg.OutputSlotSize = 4096
	}

	t := &TimeRectifier{
		host: host,
		cfg: cfg,
		executor: executor,
		videoIdx: -1,
		threshold: frame.DivUp(int64(cfg.FrameRateDen), frame.ClockRate, int64(cfg.FrameRateNum)),
		period: time.Duration(cfg.FrameRateDen) * time.Second / time.Duration(cfg.FrameRateNum),
		analyzeWin: win,
	}
	t.cond = sync.NewCond(&t.mu)
	for i := 0; i < numInputs; i++ {
		t.growTo(i + 1)
	}
	return t, nil
}

// growTo ensures ins/outs/streams hold at least n entries, creating a new
// mirrored Output/stream for every new Input.
func (t *TimeRectifier) growTo(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.ins) < n {
		t.ins = append(t.ins, graph.NewInput(t.cfg.InputCapacity))
		alloc := graph.NewAllocator(t.cfg.OutputAllocCapacity, t.cfg.OutputSlotSize)
		t.outs = append(t.outs, graph.NewOutput(alloc, t.executor))
		t.streams = append(t.streams, &streamState{})
	}
}

// NumInputs returns the current number of Input pins.
func (t *TimeRectifier) NumInputs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ins)
}

// Input returns (growing if necessary) the i'th Input pin.
func (t *TimeRectifier) Input(i int) *graph.Input {
	t.growTo(i + 1)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ins[i]
}

// NumOutputs returns the current number of mirrored Output pins.
func (t *TimeRectifier) NumOutputs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.outs)
}

// Output returns the i'th mirrored Output pin.
func (t *TimeRectifier) Output(i int) *graph.Output {
	t.growTo(i + 1)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outs[i]
}

func (t *TimeRectifier) toCR(d time.Duration) int64 {
	return frame.DivUp(d.Nanoseconds(), frame.ClockRate, time.Second.Nanoseconds())
}

// StreamSnapshot is a point-in-time view of one input stream's buffering
// state, for the introspection API.
type StreamSnapshot struct {
	Kind frame.StreamKind
	BufferedEntries int
	NumTicks int64
	SamplesEmitted int64
}

// Snapshot is a point-in-time view of a TimeRectifier's scheduler and
// per-stream buffering state.
type Snapshot struct {
	VideoIndex int
	SchedulerRunning bool
	Flushing bool
	Stopped bool
	LastError error
	Streams []StreamSnapshot
}

// Snapshot returns a consistent view of the rectifier's current state. Safe
// to call from any goroutine.
func (t *TimeRectifier) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	streams := make([]StreamSnapshot, len(t.streams))
	for i, s := range t.streams {
		if s == nil {
			continue
		}
		streams[i] = StreamSnapshot{
			Kind: s.kind,
			BufferedEntries: len(s.buf),
			NumTicks: s.numTicks,
			SamplesEmitted: s.samplesEmitted,
		}
	}
	return Snapshot{
		VideoIndex: t.videoIdx,
		SchedulerRunning: t.schedulerOn,
		Flushing: t.flushing,
		Stopped: t.stopped,
		LastError: t.lastErr,
		Streams: streams,
	}
}

// Process drains every Input's queue into its per-stream buffer without
// emitting anything; emission happens on the scheduler's tick. It returns
// ErrNoVideoInput until some input has adopted VideoRaw metadata.
func (t *TimeRectifier) Process() error {
	t.mu.Lock()
	if t.epoch.IsZero() {
		t.epoch = t.cfg.Clock.Now()
	}
	now := t.cfg.Clock.Now()
	nowCR := t.toCR(now.Sub(t.epoch))

	for i, in := range t.ins {
		for {
			f := in.TryPop()
			if f == nil {
				break
			}
			if err := t.ingestLocked(i, f, nowCR); err != nil {
				t.mu.Unlock()
				return err
			}
		}
	}
	t.removeOutdatedAllLocked(nowCR - t.analyzeWin)

	hasVideo := t.videoIdx >= 0
	schedulerOn := t.schedulerOn
	t.mu.Unlock()

	if !hasVideo {
		return ErrNoVideoInput
	}
	if !schedulerOn {
		t.startScheduler()
	}
	return nil
}

// ingestLocked appends f to stream i's buffer and, on the first frame
// carrying VideoRaw metadata, marks that input as the video lead and starts
// the tick scheduler once Process next confirms it. Caller holds t.mu.
func (t *TimeRectifier) ingestLocked(i int, f *frame.Frame, nowCR int64) error {
	s := t.streams[i]
	meta := f.Metadata()
	if meta != nil {
		s.kind = meta.Kind
		if meta.SampleRate > 0 {
			s.sampleRate = meta.SampleRate
		}
		if meta.Channels > 0 {
			s.channels = meta.Channels
		}
	}
	switch s.kind {
	case frame.StreamKindVideoRaw:
		if t.videoIdx == -1 {
			t.videoIdx = i
		} else if t.videoIdx != i {
			return ErrMultipleVideoInputs
		}
	case frame.StreamKindAudioRaw:
		// handled in the tick loop.
	default:
		return ErrUnhandledStreamKind
	}

	mediaTime, _ := f.PresentationTime()
	if nowCR > t.maxClockCR {
		t.maxClockCR = nowCR
	}
	s.buf = append(s.buf, bufEntry{f: f, mediaTime: mediaTime, clockTime: nowCR})
	return nil
}

// removeOutdatedAllLocked evicts entries with clockTime < removalClockTime
// from every stream. Caller holds t.mu.
func (t *TimeRectifier) removeOutdatedAllLocked(removalClockTime int64) {
	for i := range t.streams {
		t.removeOutdatedIndexLocked(i, removalClockTime)
	}
}

// removeOutdatedIndexLocked mirrors the original's removeOutdatedIndexUnsafe:
// it always keeps at least one buffered entry per stream unless flushing, in
// which case the final entry is also dropped once consumed and any flush
// waiter is woken.
func (t *TimeRectifier) removeOutdatedIndexLocked(idx int, removalClockTime int64) {
	s := t.streams[idx]
	i := 0
	for i < len(s.buf) {
		if s.buf[i].clockTime >= removalClockTime {
			i++
			continue
		}
		if len(s.buf) <= 1 {
			if !t.flushing {
				break
			}
			s.buf = append(s.buf[:i], s.buf[i+1:]...)
			t.cond.Broadcast()
			continue
		}
		s.buf = append(s.buf[:i], s.buf[i+1:]...)
	}
}

// startScheduler launches the self-rescheduling periodic tick once the
// video lead input is known.
func (t *TimeRectifier) startScheduler() {
	t.mu.Lock()
	if t.schedulerOn {
		t.mu.Unlock()
		return
	}
	t.schedulerOn = true
	t.mu.Unlock()

	var tick func()
	tick = func() {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if stopped {
			return
		}
		t.awakeOnFPS(t.cfg.Clock.Now())
		t.cfg.Clock.AfterFunc(t.period, tick)
	}
	t.cfg.Clock.AfterFunc(t.period, tick)
}

// awakeOnFPS is one invocation of the periodic tick callback: it selects
// the reference video frame, emits it with a rewritten arithmetic-progression
// media time, then greedily drains the matching audio range per audio input.
func (t *TimeRectifier) awakeOnFPS(tickTime time.Time) {
	t.mu.Lock()
	tickCR := t.toCR(tickTime.Sub(t.epoch))
	t.removeOutdatedAllLocked(tickCR - t.analyzeWin)

	vIdx := t.videoIdx
	if vIdx < 0 {
		t.mu.Unlock()
		return
	}
	vs := t.streams[vIdx]

	refIdx, refEntry, found := selectVideoReference(vs.buf, tickCR, t.threshold)
	if !found {
		hadPriorTick := vs.numTicks > 0
		flushing := t.flushing
		t.mu.Unlock()
		if hadPriorTick && !flushing {
			t.host.Log(graph.LogWarning, "timerectifier: no video reference frame for tick, skipping", "tick_cr", tickCR)
		} else {
			t.host.Log(graph.LogDebug, "timerectifier: no video reference frame yet", "tick_cr", tickCR)
		}
		return
	}

	nonContiguous := vs.numTicks > 0 && len(vs.buf) >= 2 && refIdx != 1

	k := vs.numTicks
	vs.numTicks++
	mediaTime := frame.DivUp(k*int64(t.cfg.FrameRateDen), frame.ClockRate, int64(t.cfg.FrameRateNum))
	refOrigMediaTime := refEntry.mediaTime
	refClockTime := refEntry.clockTime
	clone := refEntry.f.Clone()
	clone.SetPresentationTime(mediaTime)
	out := t.outs[vIdx]
	t.removeOutdatedIndexLocked(vIdx, refClockTime)
	t.mu.Unlock()

	if nonContiguous {
		t.host.Log(graph.LogDebug, "timerectifier: selected video reference is not contiguous to the previous tick", "input", vIdx, "index", refIdx)
	}
	if err := out.Post(clone); err != nil {
		t.host.Log(graph.LogError, "timerectifier: failed to post video frame", "err", err)
	}

	for i, s := range t.copyAudioStreams() {
		if i == vIdx || s.kind != frame.StreamKindAudioRaw {
			continue
		}
		t.drainAudioRange(i, refOrigMediaTime)
	}
}

// copyAudioStreams returns the current stream slice (read under lock) so
// the caller can iterate without holding t.mu across Output.Post calls.
func (t *TimeRectifier) copyAudioStreams() []*streamState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*streamState, len(t.streams))
	copy(out, t.streams)
	return out
}

// drainAudioRange greedily emits every buffered frame on audio input idx
// whose media time falls within [refMediaTime, refMediaTime+threshold),
// rewriting each to a contiguous running sample timeline. The first
// buffered entry may not be selected twice within the same tick.
func (t *TimeRectifier) drainAudioRange(idx int, refMediaTime int64) {
	skipFirst := false
	for {
		t.mu.Lock()
		s := t.streams[idx]
		selIdx := -1
		for i, e := range s.buf {
			if skipFirst && i == 0 {
				continue
			}
			dist := refMediaTime - e.mediaTime
			if dist >= 0 && dist < t.threshold {
				selIdx = i
				break
			}
		}
		if selIdx == -1 {
			t.mu.Unlock()
			return
		}
		sel := s.buf[selIdx]
		nonContiguous := s.numTicks > 0 && len(s.buf) >= 2 && selIdx != 1

		channels := s.channels
		if channels <= 0 {
			channels = 1
		}
		nSamples := sampleCount(sel.f, channels)
		mediaOut := frame.DivUp(s.samplesEmitted, frame.ClockRate, int64(sampleRateOr(s.sampleRate)))

		clone := sel.f.Clone()
		clone.SetPresentationTime(mediaOut)

		s.numTicks++
		s.samplesEmitted += nSamples
		t.removeOutdatedIndexLocked(idx, sel.clockTime)
		out := t.outs[idx]
		t.mu.Unlock()

		if nonContiguous {
			t.host.Log(graph.LogWarning, "timerectifier: selected audio data is not contiguous to the previous tick, expect discontinuity", "input", idx, "index", selIdx)
		}
		if err := out.Post(clone); err != nil {
			t.host.Log(graph.LogError, "timerectifier: failed to post audio frame", "err", err)
		}
		skipFirst = true
	}
}

func sampleRateOr(rate int) int {
	if rate <= 0 {
		return 1
	}
	return rate
}

// sampleCount estimates the number of interleaved 16-bit PCM samples in f's
// payload: len(data) / (channels * bytesPerSample). This is the raw-audio
// convention assumed throughout the runtime's audio-raw pins.
func sampleCount(f *frame.Frame, channels int) int64 {
	const bytesPerSample = 2
	n := len(f.Data())
	if channels <= 0 {
		channels = 1
	}
	return int64(n / (channels * bytesPerSample))
}

// selectVideoReference finds the buffered entry minimizing |clockTime-tick|,
// preferring past frames unless the closest past frame is older than one
// frame period (threshold).
func selectVideoReference(buf []bufEntry, tickCR, threshold int64) (int, bufEntry, bool) {
	distClock := int64(1) << 62
	refIdx := -1
	for idx, e := range buf {
		curDist := e.clockTime - tickCR
		abs := curDist
		if abs < 0 {
			abs = -abs
		}
		if abs < distClock {
			if curDist <= 0 || (curDist > 0 && distClock > threshold) {
				distClock = abs
				refIdx = idx
			}
		}
	}
	if refIdx == -1 {
		return -1, bufEntry{}, false
	}
	return refIdx, buf[refIdx], true
}

// Flush drains every remaining buffered frame by scheduling one final tick
// at max(lastObservedClockTime, now), then blocks until every stream
// reports empty. Flush is idempotent: once all streams are already empty
// it returns immediately.
func (t *TimeRectifier) Flush() error {
	t.mu.Lock()
	if t.allEmptyLocked() {
		t.mu.Unlock()
		return nil
	}
	t.flushing = true
	finalCR := t.maxClockCR
	nowCR := t.toCR(t.cfg.Clock.Now().Sub(t.epoch))
	if nowCR > finalCR {
		finalCR = nowCR
	}
	delay := time.Duration(0)
	if finalCR > nowCR {
		delay = time.Duration(finalCR-nowCR) * time.Second / time.Duration(frame.ClockRate)
	}
	t.mu.Unlock()

	t.host.Log(graph.LogDebug, "timerectifier: scheduling final flush removal", "final_cr", finalCR)
	t.cfg.Clock.AfterFunc(delay, func() {
		t.mu.Lock()
		t.removeOutdatedAllLocked(finalCR + 1)
		t.stopped = true
		t.mu.Unlock()
	})

	t.mu.Lock()
	for !t.allEmptyLocked() {
		t.cond.Wait()
	}
	t.mu.Unlock()
	return nil
}

func (t *TimeRectifier) allEmptyLocked() bool {
	for _, s := range t.streams {
		if len(s.buf) > 0 {
			return false
		}
	}
	return true
}
