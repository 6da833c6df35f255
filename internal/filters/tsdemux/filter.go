package tsdemux

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/jmylchreest/streamforge/internal/codec"
	"github.com/jmylchreest/streamforge/internal/frame"
	"github.com/jmylchreest/streamforge/internal/graph"
)

// pes90kToCR converts a 90kHz PES PTS/DTS base to the runtime's 180kHz CR.
const pes90k = 90_000

// Filter demuxes a raw MPEG-TS byte stream, delivered as Frames on its
// single Input, into elementary-stream Frames on two Outputs: video (pin 0)
// and audio (pin 1). The first video and first audio elementary stream
// named by the PMT are routed; later streams of the same kind are ignored,
// matching the single-video/single-audio program topology every other
// filter in this runtime assumes.
type Filter struct {
	host graph.Host
	cfg  Config

	in       *graph.Input
	videoOut *graph.Output
	audioOut *graph.Output

	pr *io.PipeReader
	pw *io.PipeWriter

	packets *packetFilter

	mu         sync.Mutex
	videoPID   uint16
	audioPID   uint16
	videoCodec string
	audioCodec string

	runWG     sync.WaitGroup
	runErr    error
	flushOnce sync.Once
}

// New creates a tsdemux Filter and starts its background astits demux loop,
// reading from an internal pipe fed by Process.
func New(host graph.Host, cfg Config, videoAlloc, audioAlloc *graph.Allocator, executor graph.Executor) *Filter {
	cfg = cfg.withDefaults()
	pr, pw := io.Pipe()

	f := &Filter{
		host:     host,
		cfg:      cfg,
		in:       graph.NewInput(cfg.InputCapacity),
		videoOut: graph.NewOutput(videoAlloc, executor),
		audioOut: graph.NewOutput(audioAlloc, executor),
		pr:       pr,
		pw:       pw,
		packets:  newPacketFilter(),
	}
	f.runWG.Add(1)
	go f.run()
	return f
}

func (f *Filter) NumInputs() int          { return 1 }
func (f *Filter) Input(i int) *graph.Input { return f.in }
func (f *Filter) NumOutputs() int         { return 2 }

func (f *Filter) Output(i int) *graph.Output {
	if i == 0 {
		return f.videoOut
	}
	return f.audioOut
}

// Process drains queued raw-TS Frames, runs them through the TEI/continuity
// packet filter, and writes every accepted packet into the pipe the astits
// demux loop is reading from.
func (f *Filter) Process() error {
	for {
		fr := f.in.TryPop()
		if fr == nil {
			break
		}
		packets := f.packets.push(fr.Data())
		fr.Release()
		for _, pkt := range packets {
			if _, err := f.pw.Write(pkt); err != nil {
				f.host.Log(graph.LogWarning, "tsdemux: pipe write failed", "error", err)
			}
		}
	}
	if f.in.ConnectionCount() == 0 && f.in.Empty() {
		if err := f.Flush(); err != nil {
			return err
		}
		return graph.ErrEOS
	}
	return nil
}

// Flush closes the pipe and waits for the demux loop to drain. Idempotent.
func (f *Filter) Flush() error {
	var ferr error
	f.flushOnce.Do(func() {
		f.pw.Close()
		f.runWG.Wait()
		if f.runErr != nil && !errors.Is(f.runErr, io.EOF) && !errors.Is(f.runErr, astits.ErrNoMorePackets) {
			ferr = f.runErr
		}
	})
	return ferr
}

// run drives the astits demuxer until the pipe closes.
func (f *Filter) run() {
	defer f.runWG.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dmx := astits.NewDemuxer(ctx, f.pr)
	for {
		data, err := dmx.NextData()
		if err != nil {
			if !errors.Is(err, astits.ErrNoMorePackets) && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				f.runErr = err
			}
			return
		}
		if data.PMT != nil {
			f.handlePMT(data.PMT)
		}
		if data.PES != nil {
			f.handlePES(data.PID, data.PES)
		}
	}
}

func (f *Filter) handlePMT(pmt *astits.PMTData) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, es := range pmt.ElementaryStreams {
		kind, codecName := streamTypeCodec(uint8(es.StreamType), es.ElementaryStreamDescriptors)
		switch kind {
		case mediaVideo:
			if f.videoPID == 0 {
				f.videoPID = es.ElementaryPID
				f.videoCodec = codecName
				f.videoOut.SetMetadata(&frame.Metadata{Kind: frame.StreamKindVideoPkt, Codec: codecName})
				f.host.Log(graph.LogInfo, "tsdemux: video elementary stream found",
					"pid", es.ElementaryPID, "codec", codecName)
				if !codec.IsMediacommonCodecSupported(baseCodecName(codecName)) {
					f.host.Log(graph.LogWarning, "tsdemux: video codec has no mediacommon demux support",
						"codec", codecName)
				}
			}
		case mediaAudio:
			if f.audioPID == 0 {
				f.audioPID = es.ElementaryPID
				f.audioCodec = codecName
				f.audioOut.SetMetadata(&frame.Metadata{Kind: frame.StreamKindAudioPkt, Codec: codecName})
				f.host.Log(graph.LogInfo, "tsdemux: audio elementary stream found",
					"pid", es.ElementaryPID, "codec", codecName)
				if !codec.IsMediacommonCodecSupported(baseCodecName(codecName)) {
					f.host.Log(graph.LogWarning, "tsdemux: audio codec has no mediacommon demux support",
						"codec", codecName)
				}
			}
		}
	}
}

func (f *Filter) handlePES(pid uint16, pes *astits.PESData) {
	if len(pes.Data) == 0 {
		return
	}

	f.mu.Lock()
	videoPID, audioPID := f.videoPID, f.audioPID
	videoCodec, audioCodec := f.videoCodec, f.audioCodec
	f.mu.Unlock()

	var out *graph.Output
	var kind frame.StreamKind
	var codecName string
	switch pid {
	case videoPID:
		out, kind, codecName = f.videoOut, frame.StreamKindVideoPkt, videoCodec
	case audioPID:
		out, kind, codecName = f.audioOut, frame.StreamKindAudioPkt, audioCodec
	default:
		return
	}

	fr, err := out.AllocData(len(pes.Data))
	if err != nil {
		f.host.Log(graph.LogWarning, "tsdemux: output allocator exhausted", "error", err)
		return
	}
	copy(fr.Data(), pes.Data)

	cue := frame.CueFlags{}
	if kind == frame.StreamKindVideoPkt {
		cue.Keyframe = isVideoKeyframe(codecName, pes.Data)
	} else {
		cue.Keyframe = true
	}
	fr.SetCue(cue)

	if pes.Header != nil && pes.Header.OptionalHeader != nil {
		oh := pes.Header.OptionalHeader
		if oh.PTS != nil {
			fr.SetPresentationTime(clockRefToCR(oh.PTS.Base))
			if oh.DTS != nil {
				fr.SetDecodingTime(clockRefToCR(oh.DTS.Base))
			} else {
				fr.SetDecodingTime(clockRefToCR(oh.PTS.Base))
			}
		}
	}

	if err := out.Post(fr); err != nil {
		f.host.Log(graph.LogWarning, "tsdemux: posting frame failed", "error", err)
	}
}

func clockRefToCR(base int64) int64 {
	return frame.DivUp(base, frame.ClockRate, pes90k)
}

// isVideoKeyframe reports whether a PES payload's access units start a
// random-access point, for the codecs whose NAL structure mediacommon can
// parse. Unrecognized codecs are conservatively reported as non-keyframe.
func isVideoKeyframe(codecName string, data []byte) bool {
	switch codecName {
	case "h264_annexb":
		var au h264.AnnexB
		if err := au.Unmarshal(data); err != nil {
			return false
		}
		return h264.IsRandomAccess(au)
	case "hevc_annexb":
		var au h264.AnnexB
		if err := au.Unmarshal(data); err != nil {
			return false
		}
		return h265.IsRandomAccess(au)
	default:
		return false
	}
}

// baseCodecName strips the wire-name suffix tsdemux attaches (_annexb,
// _adts, _latm) to recover the short name internal/codec's registry keys
// recognize.
func baseCodecName(wireName string) string {
	switch wireName {
	case "h264_annexb":
		return "h264"
	case "hevc_annexb":
		return "h265"
	case "aac_adts", "aac_latm":
		return "aac"
	default:
		return wireName
	}
}
