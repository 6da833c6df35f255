package fmp4mux

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/jmylchreest/streamforge/internal/frame"
	"github.com/jmylchreest/streamforge/internal/graph"
)

const (
	trackID = 1

	// videoTimeScale ticks the video track at the runtime's own 180kHz
	// clock, so sample durations can be taken directly from Frame PTS
	// deltas without a timescale conversion.
	videoTimeScale = uint32(frame.ClockRate)
	defaultSampleRate = 48000
	// defaultVideoSampleDuration is the fallback duration (~33ms at 180kHz)
	// used for a track's first sample, before a second PTS is available to
	// derive a real duration from.
	defaultVideoSampleDuration = 6000
)

// Filter muxes a single elementary video or audio stream into fragmented
// MP4: the first Process call that has enough codec parameters posts an
// init segment Frame (FileMetadata.DurationIn180k == 0), and every
// SegmentDurationIn180k of accumulated samples after that posts a media
// segment Frame.
type Filter struct {
	host graph.Host
	cfg  Config

	in  *graph.Input
	out *graph.Output

	mu          sync.Mutex
	params      videoParams
	initWritten bool
	seqNum      uint32
	baseTime    uint64
	lastPTS     int64
	havePTS     bool
	samples     []*fmp4.Sample
	segDur      int64
	audioCfg    *mpeg4audio.AudioSpecificConfig

	flushOnce sync.Once
}

// New creates an fmp4mux Filter.
func New(host graph.Host, cfg Config, alloc *graph.Allocator, executor graph.Executor) *Filter {
	cfg = cfg.withDefaults()
	f := &Filter{
		host: host,
		cfg:  cfg,
		in:   graph.NewInput(cfg.InputCapacity),
		out:  graph.NewOutput(alloc, executor),
	}
	if cfg.Kind == frame.StreamKindAudioRaw && len(cfg.AudioInitData) > 0 {
		var ac mpeg4audio.AudioSpecificConfig
		if err := ac.Unmarshal(cfg.AudioInitData); err == nil {
			f.audioCfg = &ac
		}
	}
	return f
}

func (f *Filter) NumInputs() int           { return 1 }
func (f *Filter) Input(i int) *graph.Input { return f.in }
func (f *Filter) NumOutputs() int          { return 1 }
func (f *Filter) Output(i int) *graph.Output { return f.out }

func (f *Filter) isVideo() bool { return f.cfg.Kind == frame.StreamKindVideoRaw }

// Process drains queued Frames, accumulates fmp4 samples, and posts init
// and media Segment Frames as they become ready.
func (f *Filter) Process() error {
	f.mu.Lock()
	for {
		fr := f.in.TryPop()
		if fr == nil {
			break
		}
		f.ingest(fr)
		fr.Release()
	}

	f.mu.Unlock()

	if err := f.maybePostInit(); err != nil {
		f.host.Log(graph.LogWarning, "fmp4mux: posting init segment failed", "error", err)
	}
	if err := f.maybePostFragment(false); err != nil {
		f.host.Log(graph.LogWarning, "fmp4mux: posting media segment failed", "error", err)
	}

	if f.in.ConnectionCount() == 0 && f.in.Empty() {
		if err := f.maybePostFragment(true); err != nil {
			f.host.Log(graph.LogWarning, "fmp4mux: posting final segment failed", "error", err)
		}
		return graph.ErrEOS
	}
	return nil
}

// Flush is idempotent; all pending fragment work happens inline in
// Process, so Flush has nothing further to do.
func (f *Filter) Flush() error {
	f.flushOnce.Do(func() {})
	return nil
}

func (f *Filter) ingest(fr *frame.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data := fr.Data()
	if len(data) == 0 {
		return
	}

	pts, _ := fr.PresentationTime()
	dts, ok := fr.DecodingTime()
	if !ok {
		dts = pts
	}
	cue := fr.Cue()

	if f.isVideo() {
		if cue.Keyframe {
			f.params.extract(f.cfg.Codec, data)
		}
		sample := &fmp4.Sample{
			Duration:        defaultVideoSampleDuration,
			PTSOffset:       int32(pts - dts),
			IsNonSyncSample: !cue.Keyframe,
		}
		if f.havePTS && pts > f.lastPTS {
			sample.Duration = uint32(pts - f.lastPTS)
		}
		f.lastPTS, f.havePTS = pts, true

		switch f.cfg.Codec {
		case "av1":
			if err := sample.FillAV1(dataToOBUs(data)); err != nil {
				f.host.Log(graph.LogWarning, "fmp4mux: fill av1 sample failed", "error", err)
				return
			}
		case "h265":
			if err := sample.FillH265(sample.PTSOffset, dataToAccessUnit(data)); err != nil {
				f.host.Log(graph.LogWarning, "fmp4mux: fill h265 sample failed", "error", err)
				return
			}
		case "h264":
			if err := sample.FillH264(sample.PTSOffset, dataToAccessUnit(data)); err != nil {
				f.host.Log(graph.LogWarning, "fmp4mux: fill h264 sample failed", "error", err)
				return
			}
		case "vp9":
			sample.Payload = data
			sample.IsNonSyncSample = !isVP9Keyframe(data)
		default:
			sample.Payload = data
		}

		f.samples = append(f.samples, sample)
		f.segDur += int64(sample.Duration)
		return
	}

	// Audio.
	duration := audioSampleDuration(f.cfg.Codec, f.audioCfg)
	sample := &fmp4.Sample{
		Duration:        duration,
		IsNonSyncSample: false,
		Payload:         extractRawAudio(data),
	}
	f.samples = append(f.samples, sample)
	f.segDur += int64(duration)
}

// audioSampleDuration approximates one access unit's duration in the
// runtime's 180kHz clock from the codec's frame size and sample rate.
func audioSampleDuration(codecName string, cfg *mpeg4audio.AudioSpecificConfig) uint32 {
	sampleRate := defaultSampleRate
	frameSamples := 1024
	if cfg != nil && cfg.SampleRate > 0 {
		sampleRate = cfg.SampleRate
	}
	switch codecName {
	case "ac3", "eac3":
		frameSamples = 1536
	case "mp3":
		frameSamples = 1152
	case "opus":
		frameSamples = 960
	}
	return uint32(int64(frameSamples) * frame.ClockRate / int64(sampleRate))
}

func extractRawAudio(data []byte) []byte {
	if len(data) >= 7 && data[0] == 0xFF && (data[1]&0xF0) == 0xF0 {
		frames := extractADTSFrames(data)
		if len(frames) > 0 {
			return frames[0]
		}
	}
	return data
}

func extractADTSFrames(data []byte) [][]byte {
	var frames [][]byte
	offset := 0
	for offset+7 <= len(data) {
		if data[offset] != 0xFF || (data[offset+1]&0xF0) != 0xF0 {
			offset++
			continue
		}
		protectionAbsent := (data[offset+1] & 0x01) != 0
		headerSize := 7
		if !protectionAbsent {
			headerSize = 9
		}
		frameLen := int(data[offset+3]&0x03)<<11 | int(data[offset+4])<<3 | int(data[offset+5]>>5)
		if frameLen < headerSize || offset+frameLen > len(data) {
			break
		}
		if raw := data[offset+headerSize : offset+frameLen]; len(raw) > 0 {
			frames = append(frames, raw)
		}
		offset += frameLen
	}
	return frames
}

func (f *Filter) maybePostInit() error {
	f.mu.Lock()
	if f.initWritten {
		f.mu.Unlock()
		return nil
	}
	if f.isVideo() && !f.params.ready(f.cfg.Codec) {
		f.mu.Unlock()
		return nil
	}

	track, err := f.buildInitTrack()
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.initWritten = true
	f.mu.Unlock()

	init := &fmp4.Init{Tracks: []*fmp4.InitTrack{track}}
	var buf bytes.Buffer
	if err := init.Marshal(&seekableBuffer{Buffer: &buf}); err != nil {
		return fmt.Errorf("fmp4mux: marshal init: %w", err)
	}
	return f.postSegment(buf.Bytes(), &frame.FileMetadata{}, true)
}

func (f *Filter) buildInitTrack() (*fmp4.InitTrack, error) {
	if f.isVideo() {
		codec, err := f.buildVideoCodec()
		if err != nil {
			return nil, err
		}
		return &fmp4.InitTrack{ID: trackID, TimeScale: videoTimeScale, Codec: codec}, nil
	}
	codec, timeScale := f.buildAudioCodec()
	return &fmp4.InitTrack{ID: trackID, TimeScale: timeScale, Codec: codec}, nil
}

func (f *Filter) buildVideoCodec() (mp4.Codec, error) {
	switch f.cfg.Codec {
	case "av1":
		if len(f.params.av1SeqHeader) == 0 {
			return nil, fmt.Errorf("fmp4mux: av1 sequence header not available")
		}
		return &mp4.CodecAV1{SequenceHeader: f.params.av1SeqHeader}, nil
	case "vp9":
		w, h := f.cfg.Width, f.cfg.Height
		if w == 0 {
			w = 1920
		}
		if h == 0 {
			h = 1080
		}
		return &mp4.CodecVP9{Width: w, Height: h, Profile: 0}, nil
	case "h265":
		if len(f.params.h265VPS) == 0 || len(f.params.h265SPS) == 0 || len(f.params.h265PPS) == 0 {
			return nil, fmt.Errorf("fmp4mux: h265 VPS/SPS/PPS not available")
		}
		return &mp4.CodecH265{VPS: f.params.h265VPS, SPS: f.params.h265SPS, PPS: f.params.h265PPS}, nil
	case "h264":
		if len(f.params.h264SPS) == 0 || len(f.params.h264PPS) == 0 {
			return nil, fmt.Errorf("fmp4mux: h264 SPS/PPS not available")
		}
		return &mp4.CodecH264{SPS: f.params.h264SPS, PPS: f.params.h264PPS}, nil
	default:
		return nil, fmt.Errorf("fmp4mux: unsupported video codec %q", f.cfg.Codec)
	}
}

func (f *Filter) buildAudioCodec() (mp4.Codec, uint32) {
	rate := defaultRate(f.cfg.SampleRate)
	switch f.cfg.Codec {
	case "opus":
		return &mp4.CodecOpus{ChannelCount: f.cfg.Channels}, uint32(rate)
	case "ac3":
		return &mp4.CodecAC3{SampleRate: rate, ChannelCount: f.cfg.Channels}, uint32(rate)
	default:
		cfg := f.audioCfg
		if cfg == nil {
			cfg = &mpeg4audio.AudioSpecificConfig{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   rate,
				ChannelCount: f.cfg.Channels,
			}
		}
		return &mp4.CodecMPEG4Audio{Config: *cfg}, uint32(cfg.SampleRate)
	}
}

func defaultRate(r int) int {
	if r > 0 {
		return r
	}
	return defaultSampleRate
}

func (f *Filter) maybePostFragment(force bool) error {
	f.mu.Lock()
	if !f.initWritten {
		f.mu.Unlock()
		return nil
	}
	if len(f.samples) == 0 || (!force && f.segDur < f.cfg.SegmentDurationIn180k) {
		f.mu.Unlock()
		return nil
	}

	samples := f.samples
	dur := f.segDur
	base := f.baseTime
	f.samples = nil
	f.segDur = 0
	f.baseTime += uint64(dur)
	f.seqNum++
	seq := f.seqNum
	f.mu.Unlock()

	part := &fmp4.Part{
		SequenceNumber: seq,
		Tracks: []*fmp4.PartTrack{
			{ID: trackID, BaseTime: base, Samples: samples},
		},
	}
	var buf bytes.Buffer
	if err := part.Marshal(&seekableBuffer{Buffer: &buf}); err != nil {
		return fmt.Errorf("fmp4mux: marshal fragment: %w", err)
	}

	var size int64
	for _, s := range samples {
		size += int64(len(s.Payload))
	}
	fm := &frame.FileMetadata{
		DurationIn180k: dur,
		Size:           size,
		StartsWithRAP:  !samples[0].IsNonSyncSample,
		EOS:            force,
	}
	return f.postSegment(buf.Bytes(), fm, false)
}

func (f *Filter) postSegment(payload []byte, fm *frame.FileMetadata, isInit bool) error {
	out, err := f.out.AllocData(len(payload))
	if err != nil {
		return err
	}
	copy(out.Data(), payload)
	out.SetCue(frame.CueFlags{Keyframe: isInit || fm.StartsWithRAP})

	meta := &frame.Metadata{
		Kind:       f.cfg.Kind,
		Codec:      f.cfg.Codec,
		Width:      f.cfg.Width,
		Height:     f.cfg.Height,
		SampleRate: f.cfg.SampleRate,
		File:       fm,
	}
	f.out.SetMetadata(meta)
	return f.out.Post(out)
}
