package dasher

import (
	"fmt"
	"sync/atomic"

	"github.com/jmylchreest/streamforge/internal/clock"
	"github.com/jmylchreest/streamforge/internal/dasher/hls"
	"github.com/jmylchreest/streamforge/internal/dasher/mpd"
	"github.com/jmylchreest/streamforge/internal/frame"
	"github.com/jmylchreest/streamforge/internal/graph"
)

// Dasher is the multi-input adaptive-bitrate segmenter filter. It owns one
// Input per representation (already-muxed segment/init frames arrive on
// these), and two Outputs: segOut emits Segment artifacts (and DELETE
// artifacts during timeshift GC), manOut emits Manifest (MPD or M3U8) text
// frames. schedule() is driven from Process, one step per call, and loops
// internally until no representation makes progress.
type Dasher struct {
	host graph.Host
	cfg Config
	ins []*graph.Input
	segOut *graph.Output
	manOut *graph.Output

	qualities []*Quality

	startTimeInMs int64
	totalDurationInMs int64
	eosReached bool
	flushed bool
	manifestSequence int64

	snapshot atomic.Pointer[Snapshot]
}

// NewDasher constructs a Dasher with numInputs representation input pins,
// backed by the given segment/manifest output allocators and executors.
func NewDasher(host graph.Host, cfg Config, numInputs int, segAlloc, manAlloc *graph.Allocator, executor graph.Executor) (*Dasher, error) {
	if err := cfg.validate(numInputs); err != nil {
		return nil, err
	}
	if cfg.UTCClock == nil {
		cfg.UTCClock = clock.Default
	}
	d := &Dasher{
		host: host,
		cfg: cfg,
		ins: make([]*graph.Input, numInputs),
		segOut: graph.NewOutput(segAlloc, executor),
		manOut: graph.NewOutput(manAlloc, executor),
		qualities: make([]*Quality, numInputs),
		startTimeInMs: cfg.InitialOffsetInMs,
	}
	for i := range d.ins {
		d.ins[i] = graph.NewInput(8)
		d.qualities[i] = &Quality{}
	}
	return d, nil
}

func (d *Dasher) NumInputs() int { return len(d.ins) }
func (d *Dasher) Input(i int) *graph.Input { return d.ins[i] }
func (d *Dasher) NumOutputs() int { return 2 }
func (d *Dasher) Output(i int) *graph.Output {
	if i == 0 {
		return d.segOut
	}
	return d.manOut
}

// Process runs one schedule loop: it repeatedly advances every
// representation and checks for a completed segment boundary until no
// input yields further progress, then returns. It reports ErrEOS once every
// input has drained and disconnected.
func (d *Dasher) Process() error {
	for d.schedule() {
	}
	if d.allInputsDrained() {
		d.eosReached = true
		d.publishSnapshot()
		return graph.ErrEOS
	}
	d.publishSnapshot()
	return nil
}

// Snapshot is a point-in-time view of a Dasher's scheduling state, for the
// introspection API.
type Snapshot struct {
	TotalDurationInMs int64
	PeriodIndex int
	ManifestSequence int64
	EOSReached bool
	RepresentationCount int
}

// publishSnapshot copies the fields Process mutated this call into the
// atomically-published Snapshot. Process runs on a single driver goroutine
// per the node-driver contract, so every mutation this call makes has
// already landed by the time publishSnapshot runs — safe to publish
// without taking a lock around the mutations themselves.
func (d *Dasher) publishSnapshot() {
	d.snapshot.Store(&Snapshot{
		TotalDurationInMs: d.totalDurationInMs,
		PeriodIndex: d.periodIndex(),
		ManifestSequence: d.manifestSequence,
		EOSReached: d.eosReached,
		RepresentationCount: len(d.qualities),
	})
}

// Snapshot returns the most recently published scheduling state. It is
// safe to call from any goroutine, including concurrently with Process.
func (d *Dasher) Snapshot() Snapshot {
	if s := d.snapshot.Load(); s != nil {
		return *s
	}
	return Snapshot{RepresentationCount: len(d.qualities)}
}

// periodIndex is the 1-based index of the multi-period window the
// presentation head currently sits in; always 1 outside multi-period mode.
func (d *Dasher) periodIndex() int {
	if d.cfg.MultiPeriodFoldersInMs <= 0 {
		return 1
	}
	return 1 + int(d.totalDurationInMs/d.cfg.MultiPeriodFoldersInMs)
}

func (d *Dasher) allInputsDrained() bool {
	for _, in := range d.ins {
		if in.ConnectionCount() > 0 || !in.Empty() {
			return false
		}
	}
	return true
}

// schedule advances every incomplete representation once, and when all
// representations have completed the current segment, closes the segment
// boundary. It returns true if it made any progress, so Process can loop
// until quiescent.
func (d *Dasher) schedule() bool {
	segDurIn180k := d.cfg.segDurationIn180k()
	useTimeline := d.cfg.useSegmentTimeline()

	progressed := false
	for r, q := range d.qualities {
		if q.isComplete(segDurIn180k, useTimeline) {
			continue
		}
		ok, err := d.scheduleRepresentation(r)
		if err != nil {
			d.host.Log(graph.LogError, "dasher: representation schedule failed", "representation", r, "error", err)
			continue
		}
		if ok {
			progressed = true
		}
	}

	allComplete := true
	for _, q := range d.qualities {
		if !q.isComplete(segDurIn180k, useTimeline) {
			allComplete = false
			break
		}
	}
	if allComplete && len(d.qualities) > 0 {
		for _, q := range d.qualities {
			q.curSegDurIn180k -= segDurIn180k
			if q.curSegDurIn180k < 0 {
				q.curSegDurIn180k = 0
			}
		}
		d.onNewSegment(d.cfg.Live)
		d.totalDurationInMs += d.cfg.SegmentDurationInMs
		progressed = true
	}
	return progressed
}

// scheduleRepresentation pops and consumes one frame from representation
// r's input. It returns true if a frame was consumed (progress made).
func (d *Dasher) scheduleRepresentation(r int) (bool, error) {
	q := d.qualities[r]
	f := d.ins[r].TryPop()
	if f == nil {
		return false, nil
	}
	meta := f.Metadata()
	if meta == nil || meta.File == nil {
		f.Release()
		return false, ErrUnknownMetadata
	}
	fm := meta.File

	if q.prefix == "" {
		q.kind = meta.Kind
		q.width, q.height, q.sampleRate = meta.Width, meta.Height, meta.SampleRate
		q.codec = meta.Codec
		q.lang = meta.Language
		q.prefix = getPrefix(meta.Kind, r, meta.Width, meta.Height, meta.SampleRate)
	}
	q.lastRAP = fm.StartsWithRAP

	if !q.initPosted && fm.DurationIn180k == 0 && q.curSegDurIn180k == 0 {
		if err := d.postInit(r, f); err != nil {
			return false, err
		}
		q.initPosted = true
		f.Release()
		return true, nil
	}

	q.avgBitrateBps = ((fm.Size*8*frame.ClockRate)/maxInt64(fm.DurationIn180k, 1) + q.avgBitrateBps*q.numSegments) / (q.numSegments + 1)
	q.numSegments++
	if d.cfg.ForceRealDurations {
		q.curSegDurIn180k += fm.DurationIn180k
	} else {
		q.curSegDurIn180k += d.cfg.segDurationIn180k()
	}
	if q.lastData != nil {
		q.lastData.Release()
	}
	q.lastData = f

	if !fm.EOS {
		if err := d.postLowLatencyChunk(r, f); err != nil {
			return false, err
		}
	}
	return true, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// periodFolder is the date-named subfolder the presentation head's segments
// land in; empty outside multi-period mode.
func (d *Dasher) periodFolder() string {
	return periodFolderName(d.totalDurationInMs, d.cfg.MultiPeriodFoldersInMs)
}

func (d *Dasher) postInit(r int, f *frame.Frame) error {
	q := d.qualities[r]
	name := getInitName(q.prefix)
	out, err := d.segOut.AllocData(len(f.Data()))
	if err != nil {
		return err
	}
	copy(out.Data(), f.Data())
	fm := &frame.FileMetadata{
		Filename: name,
		MimeType: mimeTypeFor(q.kind),
		Codecs: q.codec,
		Language: q.lang,
	}
	segMeta := &frame.Metadata{Kind: frame.StreamKindSegment, Codec: q.codec, File: fm}
	d.segOut.SetMetadata(segMeta)
	if err := d.segOut.Post(out); err != nil {
		return err
	}
	if d.cfg.PresignalNextSegment {
		if err := d.postPresignal(r, 1); err != nil {
			return err
		}
	}
	return nil
}

// postLowLatencyChunk emits an intermediate, not-yet-segment-complete chunk
// immediately, for low-latency CMAF delivery ahead of the segment boundary.
func (d *Dasher) postLowLatencyChunk(r int, f *frame.Frame) error {
	q := d.qualities[r]
	tag := d.currentSegTag()
	name := getSegmentName(q.prefix, tag, d.periodFolder())
	return d.emitSegmentFrame(q, name, f.Data(), f.Cue().Keyframe, false)
}

func (d *Dasher) currentSegTag() int64 {
	if d.cfg.useSegmentTimeline() {
		return d.startTimeInMs + d.totalDurationInMs
	}
	return getCurSegNum(d.startTimeInMs, d.totalDurationInMs, d.cfg.SegmentDurationInMs)
}

func (d *Dasher) postPresignal(r int, aheadSegments int64) error {
	q := d.qualities[r]
	nextTag := d.currentSegTag() + aheadSegments
	name := getSegmentName(q.prefix, nextTag, d.periodFolder())
	return d.emitSegmentFrame(q, name, nil, false, false)
}

// postSegment finalizes and emits the representation's completed segment,
// using the held lastData frame, then records the timeshift accounting
// entry and runs GC.
func (d *Dasher) postSegment(r int) error {
	q := d.qualities[r]
	if q.lastData == nil {
		return nil
	}
	tag := d.currentSegTag()
	name := getSegmentName(q.prefix, tag, d.periodFolder())
	durIn180k := d.cfg.segDurationIn180k()
	if d.cfg.ForceRealDurations {
		if fm := q.lastData.Metadata().File; fm != nil {
			durIn180k = fm.DurationIn180k
		}
	}
	if err := d.emitSegmentFrame(q, name, q.lastData.Data(), q.lastData.Cue().Keyframe, false); err != nil {
		return err
	}
	q.pendingSegments = append([]pendingSegment{{filename: name, durationIn180k: durIn180k}}, q.pendingSegments...)
	q.timelineSegments = append(q.timelineSegments, mpd.TimelineEntry{
		StartTime: tag,
		Duration: frame.DivUp(durIn180k, Timescale, frame.ClockRate),
	})
	d.deleteOldSegments(r)
	return nil
}

func (d *Dasher) emitSegmentFrame(q *Quality, name string, data []byte, startsWithRAP, isDelete bool) error {
	out, err := d.segOut.AllocData(len(data))
	if err != nil {
		return err
	}
	copy(out.Data(), data)
	size := int64(len(data))
	if isDelete {
		size = frame.DeleteSize
	}
	fm := &frame.FileMetadata{
		Filename: name,
		MimeType: mimeTypeFor(q.kind),
		Codecs: q.codec,
		Language: q.lang,
		DurationIn180k: d.cfg.segDurationIn180k(),
		Size: size,
		StartsWithRAP: startsWithRAP,
	}
	segMeta := &frame.Metadata{Kind: frame.StreamKindSegment, Codec: q.codec, File: fm}
	d.segOut.SetMetadata(segMeta)
	return d.segOut.Post(out)
}

// deleteOldSegments evicts timeshift-expired entries (newest-first
// accounting, so the oldest is always the tail of pendingSegments) and
// emits a DELETE Segment artifact for each, unless SegmentsNotOwned.
func (d *Dasher) deleteOldSegments(r int) {
	if d.cfg.TimeShiftBufferDepthInMs == 0 {
		return
	}
	q := d.qualities[r]
	depthIn180k := frame.DivUp(d.cfg.TimeShiftBufferDepthInMs, frame.ClockRate, 1000)
	var kept []pendingSegment
	var total int64
	for _, ps := range q.pendingSegments {
		total += ps.durationIn180k
		kept = append(kept, ps)
	}
	for total > depthIn180k && len(kept) > 1 {
		last := kept[len(kept)-1]
		kept = kept[:len(kept)-1]
		total -= last.durationIn180k
		q.deletedSegments++
		if !d.cfg.SegmentsNotOwned {
			_ = d.emitSegmentFrame(q, last.filename, nil, false, true)
		}
	}
	q.pendingSegments = kept
}

// onNewSegment closes out the current segment boundary: it posts each
// representation's finished segment, then (in live mode) regenerates and
// posts the manifest. postManifest is forced false by Flush/onEndOfStream so
// the final duplicate-segment re-emission never produces an extra manifest.
func (d *Dasher) onNewSegment(postManifest bool) {
	for r := range d.qualities {
		if err := d.postSegment(r); err != nil {
			d.host.Log(graph.LogError, "dasher: post segment failed", "representation", r, "error", err)
		}
	}
	if postManifest {
		d.postManifest(d.cfg.Live)
	}
}

// postManifest renders and posts the manifest artifact(s) for the current
// state: one MPD frame in DASH mode, a master playlist plus one media
// playlist per representation in HLS mode.
func (d *Dasher) postManifest(live bool) {
	switch d.cfg.Format {
	case FormatHLS:
		d.postPlaylists(live)
	default:
		doc := d.buildDocument(live)
		d.postManifestFrame(mpd.Serialize(doc), "manifest.mpd", "application/dash+xml")
	}
	d.manifestSequence++
}

func (d *Dasher) postManifestFrame(text []byte, filename, mimeType string) {
	out, err := d.manOut.AllocData(len(text))
	if err != nil {
		d.host.Log(graph.LogError, "dasher: manifest allocation failed", "error", err)
		return
	}
	copy(out.Data(), text)
	fm := &frame.FileMetadata{Filename: filename, MimeType: mimeType, Size: int64(len(text))}
	d.manOut.SetMetadata(&frame.Metadata{Kind: frame.StreamKindPlaylist, File: fm})
	if err := d.manOut.Post(out); err != nil {
		d.host.Log(graph.LogWarning, "dasher: manifest post failed", "filename", filename, "error", err)
	}
}

// postPlaylists renders the HLS variant of the manifest from the same
// per-representation bookkeeping the MPD path uses.
func (d *Dasher) postPlaylists(live bool) {
	var variants []hls.Variant
	for _, q := range d.qualities {
		if q.prefix == "" {
			continue
		}
		variants = append(variants, hls.Variant{
			PlaylistFilename: q.prefix + ".m3u8",
			BandwidthBps: q.avgBitrateBps,
			Codecs: q.codec,
			Width: q.width,
			Height: q.height,
		})
	}
	d.postManifestFrame(hls.BuildMasterPlaylist(variants), "master.m3u8", "application/vnd.apple.mpegurl")

	for _, q := range d.qualities {
		if q.prefix == "" {
			continue
		}
		segs := make([]hls.MediaSegment, 0, len(q.pendingSegments))
		for i := len(q.pendingSegments) - 1; i >= 0; i-- {
			ps := q.pendingSegments[i]
			segs = append(segs, hls.MediaSegment{
				Filename: ps.filename,
				DurationInMs: frame.DivUp(ps.durationIn180k, 1000, frame.ClockRate),
			})
		}
		text := hls.BuildMediaPlaylist(hls.MediaPlaylistOptions{
			Live: live,
			TargetDurationInMs: d.cfg.SegmentDurationInMs,
			MediaSequence: q.deletedSegments,
			InitName: getInitName(q.prefix),
			Segments: segs,
			IndependentSegments: true,
		})
		d.postManifestFrame(text, q.prefix+".m3u8", "application/vnd.apple.mpegurl")
	}
}

func kindString(kind frame.StreamKind) string {
	switch kind {
	case frame.StreamKindVideoPkt, frame.StreamKindVideoRaw:
		return "video"
	case frame.StreamKindAudioPkt, frame.StreamKindAudioRaw:
		return "audio"
	case frame.StreamKindSubtitle:
		return "subtitle"
	default:
		return "video"
	}
}

func (d *Dasher) srdValue(r int) string {
	if len(d.cfg.TileInfo) == 0 {
		return ""
	}
	ti := d.cfg.TileInfo[r]
	return fmt.Sprintf("%s,%d,%d,%d,%d,%d,%d", ti.SourceID, ti.X, ti.Y, ti.W, ti.H, ti.TotalW, ti.TotalH)
}

// buildDocument assembles the full MPD document tree from the segmenter's
// current per-representation state: one Period per multi-period window,
// AdaptationSets grouped by {stream kind, language, SRD tile tuple}, one
// Representation per input within its group.
func (d *Dasher) buildDocument(live bool) mpd.Document {
	mediaPresentationDurationMs := d.totalDurationInMs + d.cfg.SegmentDurationInMs
	doc := mpd.Document{
		Dynamic: live,
		ID: d.cfg.ID,
		AvailabilityStartTimeMs: d.cfg.SegmentDurationInMs + d.cfg.InitialOffsetInMs,
		PublishTimeMs: d.cfg.UTCClock.Now().UnixMilli(),
		MinBufferTimeMs: d.cfg.MinBufferTimeInMs,
		MinimumUpdatePeriodMs: d.cfg.MinUpdatePeriodInMs,
		MediaPresentationDurationMs: mediaPresentationDurationMs,
		TimeShiftBufferDepthMs: d.cfg.TimeShiftBufferDepthInMs,
		SessionStartTimeMs: d.startTimeInMs,
	}

	baseURLs := d.cfg.BaseURLPrefixes
	if len(baseURLs) == 0 {
		baseURLs = []string{""}
	}

	numPeriods := 1
	if d.cfg.MultiPeriodFoldersInMs > 0 {
		numPeriods = 1 + int(mediaPresentationDurationMs/d.cfg.MultiPeriodFoldersInMs)
	}

	for periodIdx := 1; periodIdx <= numPeriods; periodIdx++ {
		startMs := int64(periodIdx-1) * d.cfg.MultiPeriodFoldersInMs
		durMs := d.cfg.MultiPeriodFoldersInMs
		if periodIdx == numPeriods || d.cfg.MultiPeriodFoldersInMs == 0 {
			durMs = mediaPresentationDurationMs - startMs
		}
		if durMs == 0 {
			continue
		}
		period := mpd.Period{
			ID: fmt.Sprintf("%d", periodIdx),
			StartTimeMs: startMs,
			DurationMs: durMs,
			BaseURLs: baseURLs,
		}
		d.appendAdaptationSets(&period, periodIdx)
		doc.Periods = append(doc.Periods, period)
	}
	return doc
}

// adaptation sets group representations sharing stream kind, language, and
// SRD tile placement; tuple equality on all seven SRD values is the
// grouping rule.
type asKey struct {
	kind string
	lang string
	srd  string
}

func (d *Dasher) appendAdaptationSets(period *mpd.Period, periodIdx int) {
	folder := ""
	if d.cfg.MultiPeriodFoldersInMs > 0 {
		folder = formatDateFolder(period.StartTimeMs/1000) + "/"
	}

	sets := make(map[asKey]*mpd.AdaptationSet)
	var order []asKey
	for r, q := range d.qualities {
		if q.prefix == "" {
			continue
		}
		key := asKey{kind: kindString(q.kind), lang: q.lang, srd: d.srdValue(r)}
		as, ok := sets[key]
		if !ok {
			as = &mpd.AdaptationSet{
				Timescale: Timescale,
				Lang: q.lang,
				SupplementalProperty: key.srd,
				SegmentAlignment: true,
				BitstreamSwitching: true,
			}
			if d.cfg.useSegmentTimeline() {
				as.Entries = mpd.CoalesceTimeline(q.timelineSegments)
			} else {
				as.DurationInTimescale = frame.DivUp(d.cfg.SegmentDurationInMs, Timescale, 1000)
				as.StartNumber = (d.startTimeInMs + int64(periodIdx-1)*d.cfg.MultiPeriodFoldersInMs) / d.cfg.SegmentDurationInMs
			}
			sets[key] = as
			order = append(order, key)
		}

		tmpl := "$Number$"
		if d.cfg.useSegmentTimeline() {
			tmpl = "$Time$"
		}
		rep := mpd.Representation{
			ID: fmt.Sprintf("%d", r),
			Bandwidth: q.avgBitrateBps,
			MimeType: mimeTypeFor(q.kind),
			Codecs: q.codec,
			StartWithSAP: 1,
			Media: folder + q.prefix + "-" + tmpl + ".m4s",
			Initialization: folder + getInitName(q.prefix),
		}
		switch key.kind {
		case "video":
			rep.Width, rep.Height = q.width, q.height
			if !q.lastRAP {
				rep.StartWithSAP = 0
			}
		case "audio":
			rep.AudioSamplingRate = q.sampleRate
		}
		as.Representations = append(as.Representations, rep)
	}

	for _, key := range order {
		period.AdaptationSets = append(period.AdaptationSets, *sets[key])
	}
}

func mimeTypeFor(kind frame.StreamKind) string {
	switch kind {
	case frame.StreamKindVideoPkt, frame.StreamKindVideoRaw:
		return "video/mp4"
	case frame.StreamKindAudioPkt, frame.StreamKindAudioRaw:
		return "audio/mp4"
	case frame.StreamKindSubtitle:
		return "application/mp4"
	default:
		return "application/octet-stream"
	}
}

// Flush drains any remaining input progress and performs the
// duplicate-last-segment-on-EOS finalization: when not running a
// rolling timeshift window, it re-emits the final segment and, for VOD,
// rewrites the manifest once more as static. In live mode no additional
// manifest is emitted on flush.
func (d *Dasher) Flush() error {
	if d.flushed {
		return nil
	}
	d.flushed = true
	for d.schedule() {
	}
	if d.cfg.TimeShiftBufferDepthInMs > 0 {
		return nil
	}
	if d.totalDurationInMs <= 0 {
		return nil
	}
	d.totalDurationInMs -= d.cfg.SegmentDurationInMs
	d.onNewSegment(false)
	if !d.cfg.Live {
		d.postManifest(false)
	}
	return nil
}
