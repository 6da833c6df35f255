package transcoder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jmylchreest/streamforge/internal/frame"
	"github.com/jmylchreest/streamforge/internal/graph"
	"github.com/jmylchreest/streamforge/pkg/ffmpegd/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// cr90k is the 90kHz timescale streamforge-ffmpegd's ESSample wire type
// uses; the runtime's own timestamps are in the 180kHz common clock rate.
const cr90k = 90_000

// Filter is a thin gRPC client conforming to the graph.Filter contract: one
// Input carries source elementary-stream Frames to transcode, and two
// Outputs (video, audio) carry the encoded Frames received back from the
// daemon. Encode/decode itself never happens in-process; this filter only
// marshals Frames to wire samples and back.
type Filter struct {
	host graph.Host
	cfg Config
	in *graph.Input
	videoOut *graph.Output
	audioOut *graph.Output

	conn *grpc.ClientConn
	stream TranscoderTranscodeClient
	cancel context.CancelFunc

	recvWG sync.WaitGroup
	flushOnce sync.Once
	recvErr error
}

// New dials the configured daemon and opens the Transcode stream. A dial or
// stream-open failure is a configuration error raised at construction,
// never at runtime, matching the taxonomy's "configuration error ... never
// reaches runtime" rule.
func New(host graph.Host, cfg Config, videoAlloc, audioAlloc *graph.Allocator, executor graph.Executor) (*Filter, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("transcoder: config.Address must not be empty")
	}
	var dialOpts []grpc.DialOption
	if cfg.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("transcoder: dialing %s: %w", cfg.Address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := NewTranscoderClient(conn)
	stream, err := client.Transcode(ctx)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("transcoder: opening stream: %w", err)
	}

	videoOut := graph.NewOutput(videoAlloc, executor)
	audioOut := graph.NewOutput(audioAlloc, executor)
	videoCodec, audioCodec := "", ""
	if cfg.Job != nil {
		videoCodec, audioCodec = cfg.Job.TargetVideoCodec, cfg.Job.TargetAudioCodec
	}
	videoOut.SetMetadata(&frame.Metadata{Kind: frame.StreamKindVideoPkt, Codec: videoCodec})
	audioOut.SetMetadata(&frame.Metadata{Kind: frame.StreamKindAudioPkt, Codec: audioCodec})

	f := &Filter{
		host: host,
		cfg: cfg,
		in: graph.NewInput(32),
		videoOut: videoOut,
		audioOut: audioOut,
		conn: conn,
		stream: stream,
		cancel: cancel,
	}
	f.recvWG.Add(1)
	go f.recvLoop()
	return f, nil
}

func (f *Filter) NumInputs() int { return 1 }
func (f *Filter) Input(i int) *graph.Input { return f.in }
func (f *Filter) NumOutputs() int { return 2 }

func (f *Filter) Output(i int) *graph.Output {
	if i == 0 {
		return f.videoOut
	}
	return f.audioOut
}

// Process drains whatever source Frames are currently queued, sending one
// ESSampleBatch per Frame, and reports ErrEOS once the input has drained
// and disconnected.
func (f *Filter) Process() error {
	for {
		fr := f.in.TryPop()
		if fr == nil {
			break
		}
		if err := f.send(fr); err != nil {
			f.host.Log(graph.LogWarning, "transcoder: send failed", "error", err)
		}
		fr.Release()
	}
	if f.in.ConnectionCount() == 0 && f.in.Empty() {
		return graph.ErrEOS
	}
	return nil
}

func (f *Filter) send(fr *frame.Frame) error {
	sample := types.ESSample{Data: fr.Data()}
	if pts, ok := fr.PresentationTime(); ok {
		sample.PTS = frame.DivUp(pts, cr90k, frame.ClockRate)
	}
	if dts, ok := fr.DecodingTime(); ok {
		sample.DTS = frame.DivUp(dts, cr90k, frame.ClockRate)
	}
	sample.IsKeyframe = fr.Cue().Keyframe

	batch := types.ESSampleBatch{IsSource: true}
	meta := fr.Metadata()
	if meta != nil && meta.Kind == frame.StreamKindAudioPkt {
		batch.AudioSamples = []types.ESSample{sample}
	} else {
		batch.VideoSamples = []types.ESSample{sample}
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshaling sample batch: %w", err)
	}
	return f.stream.Send(wrapperspb.Bytes(payload))
}

// recvLoop reads encoded ESSampleBatches from the daemon and posts each
// sample as a Frame on the matching Output, until the stream ends.
func (f *Filter) recvLoop() {
	defer f.recvWG.Done()
	for {
		msg, err := f.stream.Recv()
		if err != nil {
			if err.Error() != "EOF" {
				f.recvErr = err
			}
			return
		}
		var batch types.ESSampleBatch
		if err := json.Unmarshal(msg.GetValue(), &batch); err != nil {
			f.host.Log(graph.LogWarning, "transcoder: malformed response batch", "error", err)
			continue
		}
		for _, s := range batch.VideoSamples {
			f.postSample(f.videoOut, s)
		}
		for _, s := range batch.AudioSamples {
			f.postSample(f.audioOut, s)
		}
	}
}

func (f *Filter) postSample(out *graph.Output, s types.ESSample) {
	fr, err := out.AllocData(len(s.Data))
	if err != nil {
		f.host.Log(graph.LogWarning, "transcoder: output allocator exhausted", "error", err)
		return
	}
	copy(fr.Data(), s.Data)
	fr.SetPresentationTime(frame.DivUp(s.PTS, frame.ClockRate, cr90k))
	fr.SetDecodingTime(frame.DivUp(s.DTS, frame.ClockRate, cr90k))
	fr.SetCue(frame.CueFlags{Keyframe: s.IsKeyframe})
	if err := out.Post(fr); err != nil {
		f.host.Log(graph.LogWarning, "transcoder: posting decoded frame failed", "error", err)
	}
}

// Flush closes the send side of the stream and waits for the receive loop
// to drain, idempotently.
func (f *Filter) Flush() error {
	var err error
	f.flushOnce.Do(func() {
		err = f.stream.CloseSend()
		f.recvWG.Wait()
		f.cancel()
		f.conn.Close()
		if f.recvErr != nil {
			err = f.recvErr
		}
	})
	return err
}
