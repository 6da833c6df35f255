package hlssource

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gohlslib "github.com/bluenviron/gohlslib/v2"
	"github.com/bluenviron/gohlslib/v2/pkg/codecs"

	"github.com/jmylchreest/streamforge/internal/frame"
	"github.com/jmylchreest/streamforge/internal/graph"
)

// ErrNoURL is returned at construction when the Config names no upstream
// playlist.
var ErrNoURL = errors.New("hlssource: no upstream playlist URL configured")

const hls90k = 90_000

// queued is one decoded access unit handed from a gohlslib callback
// goroutine to Process.
type queued struct {
	video    bool
	data     []byte
	meta     *frame.Metadata
	ptsCR    int64
	dtsCR    int64
	keyframe bool
}

// Filter is a source filter (no Inputs) wrapping a gohlslib Client. The
// client's track callbacks enqueue access units under a mutex; Process
// drains the queue onto the video/audio Outputs, so all pin traffic stays
// on the runtime's driver goroutine.
type Filter struct {
	host graph.Host
	cfg  Config

	videoOut *graph.Output
	audioOut *graph.Output

	mu        sync.Mutex
	queue     []queued
	started   bool
	finished  bool
	runErr    error
	videoMeta *frame.Metadata
	audioMeta *frame.Metadata

	client    *gohlslib.Client
	flushOnce sync.Once
}

// New creates an hlssource Filter. The upstream connection is only opened
// on the first Process call, so construction never touches the network.
func New(host graph.Host, cfg Config, videoAlloc, audioAlloc *graph.Allocator, executor graph.Executor) (*Filter, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	return &Filter{
		host:     host,
		cfg:      cfg,
		videoOut: graph.NewOutput(videoAlloc, executor),
		audioOut: graph.NewOutput(audioAlloc, executor),
	}, nil
}

func (f *Filter) NumInputs() int            { return 0 }
func (f *Filter) Input(i int) *graph.Input  { return nil }
func (f *Filter) NumOutputs() int           { return 2 }
func (f *Filter) Output(i int) *graph.Output {
	if i == 0 {
		return f.videoOut
	}
	return f.audioOut
}

// Process starts the client on first call, then drains whatever the
// callbacks have queued onto the Outputs. It never blocks on the upstream:
// an empty queue just yields the driver goroutine briefly.
func (f *Filter) Process() error {
	f.mu.Lock()
	if !f.started {
		f.started = true
		f.mu.Unlock()
		if err := f.startClient(); err != nil {
			return err
		}
		f.mu.Lock()
	}
	batch := f.queue
	f.queue = nil
	finished := f.finished
	runErr := f.runErr
	f.mu.Unlock()

	for _, q := range batch {
		if err := f.post(q); err != nil {
			return err
		}
	}
	if len(batch) > 0 {
		return nil
	}
	if runErr != nil {
		return runErr
	}
	if finished {
		return graph.ErrEOS
	}
	time.Sleep(5 * time.Millisecond)
	return nil
}

func (f *Filter) startClient() error {
	f.client = &gohlslib.Client{
		URI:        f.cfg.URL,
		HTTPClient: f.cfg.HTTPClient,
		OnTracks:   f.onTracks,
	}
	if err := f.client.Start(); err != nil {
		return fmt.Errorf("hlssource: starting client: %w", err)
	}
	go f.watchClient()
	return nil
}

func (f *Filter) watchClient() {
	err := f.client.Wait2()
	f.mu.Lock()
	if err != nil && !errors.Is(err, gohlslib.ErrClientEOS) {
		f.runErr = fmt.Errorf("hlssource: client: %w", err)
	}
	f.finished = true
	f.mu.Unlock()
}

// onTracks registers a data callback per discovered track and derives each
// Output's pin Metadata from the track's codec parameters.
func (f *Filter) onTracks(tracks []*gohlslib.Track) error {
	for _, track := range tracks {
		switch c := track.Codec.(type) {
		case *codecs.H264:
			meta := &frame.Metadata{
				Kind:      frame.StreamKindVideoPkt,
				Codec:     "h264_annexb",
				InitBytes: annexBJoin(c.SPS, c.PPS),
			}
			f.setTrackMeta(true, meta)
			f.client.OnDataH26x(track, f.videoHandler(meta))
		case *codecs.H265:
			meta := &frame.Metadata{
				Kind:      frame.StreamKindVideoPkt,
				Codec:     "hevc_annexb",
				InitBytes: annexBJoin(c.VPS, c.SPS, c.PPS),
			}
			f.setTrackMeta(true, meta)
			f.client.OnDataH26x(track, f.videoHandler(meta))
		case *codecs.MPEG4Audio:
			meta := &frame.Metadata{
				Kind:       frame.StreamKindAudioPkt,
				Codec:      "aac",
				SampleRate: c.Config.SampleRate,
				Channels:   c.Config.ChannelCount,
			}
			f.setTrackMeta(false, meta)
			f.client.OnDataMPEG4Audio(track, f.audioHandler(meta))
		case *codecs.Opus:
			meta := &frame.Metadata{
				Kind:     frame.StreamKindAudioPkt,
				Codec:    "opus",
				Channels: c.ChannelCount,
			}
			f.setTrackMeta(false, meta)
			f.client.OnDataOpus(track, f.audioHandler(meta))
		default:
			f.host.Log(graph.LogWarning, "hlssource: unsupported track codec", "type", fmt.Sprintf("%T", c))
		}
	}
	return nil
}

func (f *Filter) setTrackMeta(video bool, meta *frame.Metadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if video {
		f.videoMeta = meta
	} else {
		f.audioMeta = meta
	}
}

// videoHandler adapts an OnDataH26x callback to the queue: the access
// unit's NAL units are joined back into one Annex-B payload.
func (f *Filter) videoHandler(meta *frame.Metadata) func(pts, dts int64, au [][]byte) {
	return func(pts, dts int64, au [][]byte) {
		data := annexBJoin(au...)
		if len(data) == 0 {
			return
		}
		f.enqueue(queued{
			video:    true,
			data:     data,
			meta:     meta,
			ptsCR:    clockRefToCR(pts),
			dtsCR:    clockRefToCR(dts),
			keyframe: isRandomAccess(meta.Codec, au),
		})
	}
}

func (f *Filter) audioHandler(meta *frame.Metadata) func(pts int64, aus [][]byte) {
	return func(pts int64, aus [][]byte) {
		// successive access units of one callback share the batch pts.
		for _, au := range aus {
			if len(au) == 0 {
				continue
			}
			data := make([]byte, len(au))
			copy(data, au)
			f.enqueue(queued{
				data:  data,
				meta:  meta,
				ptsCR: clockRefToCR(pts),
				dtsCR: clockRefToCR(pts),
			})
		}
	}
}

// enqueue appends under the mutex, dropping the oldest entry once the
// bounded queue is full: a stalled pipeline must not let an upstream live
// playlist grow the queue without bound.
func (f *Filter) enqueue(q queued) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) >= f.cfg.QueueCapacity {
		f.queue = f.queue[1:]
		f.host.Log(graph.LogWarning, "hlssource: queue full, dropping oldest access unit")
	}
	f.queue = append(f.queue, q)
}

func (f *Filter) post(q queued) error {
	out := f.audioOut
	if q.video {
		out = f.videoOut
	}
	fr, err := out.AllocData(len(q.data))
	if err != nil {
		return err
	}
	copy(fr.Data(), q.data)
	out.SetMetadata(q.meta)
	fr.SetPresentationTime(q.ptsCR)
	fr.SetDecodingTime(q.dtsCR)
	fr.SetCue(frame.CueFlags{Keyframe: q.keyframe, EndOfSlice: true})
	return out.Post(fr)
}

// Flush closes the upstream client and drains anything still queued onto
// the Outputs.
func (f *Filter) Flush() error {
	var flushErr error
	f.flushOnce.Do(func() {
		if f.client != nil {
			f.client.Close()
		}
		f.mu.Lock()
		batch := f.queue
		f.queue = nil
		f.finished = true
		f.mu.Unlock()
		for _, q := range batch {
			if err := f.post(q); err != nil {
				flushErr = err
				return
			}
		}
	})
	return flushErr
}

func clockRefToCR(base int64) int64 {
	return frame.DivUp(base, frame.ClockRate, hls90k)
}

// annexBJoin concatenates NAL units with 4-byte start codes, skipping
// empty entries.
func annexBJoin(nalus ...[]byte) []byte {
	size := 0
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		size += 4 + len(n)
	}
	if size == 0 {
		return nil
	}
	out := make([]byte, 0, size)
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

// isRandomAccess reports whether an access unit starts a RAP, keyed by the
// wire codec name.
func isRandomAccess(codecName string, au [][]byte) bool {
	switch codecName {
	case "h264_annexb":
		for _, nalu := range au {
			if len(nalu) > 0 && nalu[0]&0x1F == 5 {
				return true
			}
		}
	case "hevc_annexb":
		for _, nalu := range au {
			if len(nalu) == 0 {
				continue
			}
			typ := (nalu[0] >> 1) & 0x3F
			if typ >= 16 && typ <= 21 {
				return true
			}
		}
	}
	return false
}
