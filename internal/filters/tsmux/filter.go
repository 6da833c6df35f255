package tsmux

import (
	"bytes"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/streamforge/internal/frame"
	"github.com/jmylchreest/streamforge/internal/graph"
)

// PID constants for the MPEG-TS program this Filter writes.
const (
	videoPID = 0x0100
	audioPID = 0x0101
)

// Filter muxes video Frames (Input 0) and audio Frames (Input 1) into a
// single MPEG-TS byte stream delivered as Segment Frames on its Output,
// one per Process call that consumed at least one input Frame.
type Filter struct {
	host graph.Host
	cfg  Config

	videoIn *graph.Input
	audioIn *graph.Input
	out     *graph.Output

	mu          sync.Mutex
	buf         bytes.Buffer
	muxer       *mpegts.Writer
	videoTrack  *mpegts.Track
	audioTrack  *mpegts.Track
	initialized bool

	flushOnce sync.Once
}

// New creates a tsmux Filter.
func New(host graph.Host, cfg Config, alloc *graph.Allocator, executor graph.Executor) *Filter {
	cfg = cfg.withDefaults()
	return &Filter{
		host:    host,
		cfg:     cfg,
		videoIn: graph.NewInput(cfg.InputCapacity),
		audioIn: graph.NewInput(cfg.InputCapacity),
		out:     graph.NewOutput(alloc, executor),
	}
}

func (f *Filter) NumInputs() int { return 2 }

func (f *Filter) Input(i int) *graph.Input {
	if i == 0 {
		return f.videoIn
	}
	return f.audioIn
}

func (f *Filter) NumOutputs() int            { return 1 }
func (f *Filter) Output(i int) *graph.Output { return f.out }

// ensureInitialized lazily constructs the mediacommon writer and writes the
// initial PAT/PMT tables. Must be called with f.mu held.
func (f *Filter) ensureInitialized() error {
	if f.initialized {
		return nil
	}

	f.videoTrack = &mpegts.Track{PID: videoPID, Codec: createVideoCodec(f.cfg.VideoCodec)}
	tracks := []*mpegts.Track{f.videoTrack}

	if f.cfg.AudioCodec != "" {
		var aacConfig *mpeg4audio.AudioSpecificConfig
		if len(f.cfg.AudioInitData) > 0 {
			var cfg mpeg4audio.AudioSpecificConfig
			if err := cfg.Unmarshal(f.cfg.AudioInitData); err == nil {
				aacConfig = &cfg
			} else {
				f.host.Log(graph.LogWarning, "tsmux: failed to parse AAC init data, using defaults", "error", err)
			}
		}
		audioCodec, _ := createAudioCodec(f.cfg.AudioCodec, aacConfig)
		f.audioTrack = &mpegts.Track{PID: audioPID, Codec: audioCodec}
		tracks = append(tracks, f.audioTrack)
	}

	f.muxer = &mpegts.Writer{W: &f.buf, Tracks: tracks}
	if err := f.muxer.Initialize(); err != nil {
		return err
	}
	if _, err := f.muxer.WriteTables(); err != nil {
		return err
	}
	f.initialized = true
	return nil
}

// createVideoCodec maps a short codec name to the mediacommon mpegts.Codec
// it is declared with.
func createVideoCodec(codecName string) mpegts.Codec {
	switch codecName {
	case "h265", "hevc":
		return &mpegts.CodecH265{}
	default:
		return &mpegts.CodecH264{}
	}
}

// createAudioCodec maps a short codec name to the mediacommon mpegts.Codec
// it is declared with, and returns the normalized codec name.
func createAudioCodec(codecName string, aacConfig *mpeg4audio.AudioSpecificConfig) (mpegts.Codec, string) {
	switch codecName {
	case "ac3":
		return &mpegts.CodecAC3{SampleRate: 48000, ChannelCount: 2}, "ac3"
	case "eac3", "ec-3", "ec3":
		return &mpegts.CodecEAC3{SampleRate: 48000, ChannelCount: 6}, "eac3"
	case "mp3":
		return &mpegts.CodecMPEG1Audio{}, "mp3"
	case "opus":
		return &mpegts.CodecOpus{ChannelCount: 2}, "opus"
	default:
		if aacConfig == nil {
			aacConfig = &mpeg4audio.AudioSpecificConfig{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   48000,
				ChannelCount: 2,
			}
		}
		return &mpegts.CodecMPEG4Audio{Config: *aacConfig}, "aac"
	}
}

// Process drains queued video and audio Frames, muxes each into the
// pending MPEG-TS buffer, and posts one Segment Frame carrying everything
// muxed so far.
func (f *Filter) Process() error {
	f.mu.Lock()
	if err := f.ensureInitialized(); err != nil {
		f.mu.Unlock()
		return err
	}

	wrote := false
	for {
		fr := f.videoIn.TryPop()
		if fr == nil {
			break
		}
		if err := f.writeVideo(fr); err != nil {
			f.host.Log(graph.LogWarning, "tsmux: write video failed", "error", err)
		} else {
			wrote = true
		}
		fr.Release()
	}
	for {
		fr := f.audioIn.TryPop()
		if fr == nil {
			break
		}
		if f.audioTrack != nil {
			if err := f.writeAudio(fr); err != nil {
				f.host.Log(graph.LogWarning, "tsmux: write audio failed", "error", err)
			} else {
				wrote = true
			}
		}
		fr.Release()
	}

	var payload []byte
	if wrote && f.buf.Len() > 0 {
		payload = append(payload, f.buf.Bytes()...)
		f.buf.Reset()
	}
	f.mu.Unlock()

	if payload != nil {
		out, err := f.out.AllocData(len(payload))
		if err != nil {
			f.host.Log(graph.LogWarning, "tsmux: output allocator exhausted", "error", err)
		} else {
			copy(out.Data(), payload)
			out.SetCue(frame.CueFlags{Keyframe: true})
			if err := f.out.Post(out); err != nil {
				f.host.Log(graph.LogWarning, "tsmux: posting frame failed", "error", err)
			}
		}
	}

	if f.videoIn.ConnectionCount() == 0 && f.videoIn.Empty() &&
		f.audioIn.ConnectionCount() == 0 && f.audioIn.Empty() {
		return graph.ErrEOS
	}
	return nil
}

// Flush is a no-op: mediacommon's mpegts.Writer has no pending internal
// state beyond what Process already drains. Kept for the graph.Filter
// interface and idempotent by construction.
func (f *Filter) Flush() error {
	f.flushOnce.Do(func() {})
	return nil
}

func (f *Filter) writeVideo(fr *frame.Frame) error {
	data := fr.Data()
	au := dataToAccessUnit(data)
	if len(au) == 0 {
		return nil
	}
	_, isH265 := f.videoTrack.Codec.(*mpegts.CodecH265)
	au = reorderNALUnits(au, isH265)

	pts, _ := fr.PresentationTime()
	dts, ok := fr.DecodingTime()
	if !ok {
		dts = pts
	}
	switch f.videoTrack.Codec.(type) {
	case *mpegts.CodecH265:
		return f.muxer.WriteH265(f.videoTrack, pts, dts, au)
	default:
		return f.muxer.WriteH264(f.videoTrack, pts, dts, au)
	}
}

func (f *Filter) writeAudio(fr *frame.Frame) error {
	data := fr.Data()
	if len(data) == 0 {
		return nil
	}
	pts, _ := fr.PresentationTime()

	switch f.audioTrack.Codec.(type) {
	case *mpegts.CodecMPEG4Audio:
		aus := extractAACFrames(data)
		if len(aus) == 0 {
			return nil
		}
		return f.muxer.WriteMPEG4Audio(f.audioTrack, pts, aus)
	case *mpegts.CodecAC3:
		return f.muxer.WriteAC3(f.audioTrack, pts, data)
	case *mpegts.CodecEAC3:
		return f.muxer.WriteEAC3(f.audioTrack, pts, data)
	case *mpegts.CodecMPEG1Audio:
		return f.muxer.WriteMPEG1Audio(f.audioTrack, pts, [][]byte{data})
	case *mpegts.CodecOpus:
		return f.muxer.WriteOpus(f.audioTrack, pts, [][]byte{data})
	default:
		aus := extractAACFrames(data)
		if len(aus) == 0 {
			return nil
		}
		return f.muxer.WriteMPEG4Audio(f.audioTrack, pts, aus)
	}
}
