// Package dasher implements the adaptive-bitrate segmenter: it consumes one
// already-muxed segment stream per representation and emits Segment and
// Manifest artifacts describing a DASH (and, via the hls subpackage, HLS)
// presentation, per the segmenter state machine.
package dasher

import (
	"errors"

	"github.com/jmylchreest/streamforge/internal/clock"
	"github.com/jmylchreest/streamforge/internal/dasher/mpd"
	"github.com/jmylchreest/streamforge/internal/frame"
)

// Dash's internal timescale for SegmentTemplate/SegmentTimeline arithmetic,
// distinct from the graph's 180000Hz Common Clock Rate.
const Timescale = 1000

var (
	// ErrConflictingOptions is returned when a Config combination the
	// segmenter cannot honor simultaneously is supplied.
	ErrConflictingOptions = errors.New("dasher: conflicting configuration options")
	// ErrTileCountMismatch is returned when TileInfo is supplied but its
	// length doesn't match the number of representation inputs.
	ErrTileCountMismatch = errors.New("dasher: tile info count does not match input count")
	// ErrUnknownMetadata is returned when an input frame carries no File
	// segment descriptor, which the segmenter requires to operate.
	ErrUnknownMetadata = errors.New("dasher: input frame is missing file segment metadata")
)

// TileInfo describes one representation's placement within a Spatial
// Relationship Description (SRD) tiled video grid.
type TileInfo struct {
	SourceID           string
	X, Y, W, H         int
	TotalW, TotalH     int
}

// ManifestFormat selects which manifest text the segmenter renders at
// each boundary. The segment-boundary state machine is identical in both
// formats; only the rendered artifact differs.
type ManifestFormat int

const (
	// FormatDASH emits an MPD document on the manifest output.
	FormatDASH ManifestFormat = iota
	// FormatHLS emits an M3U8 master playlist plus one media playlist per
	// representation on the manifest output.
	FormatHLS
)

// Config holds the segmenter's tunables, mirroring the configuration table.
type Config struct {
	// Live, when true, keeps emitting a rolling Manifest after every
	// segment boundary; when false only the final manifest is emitted.
	Live bool

	// Format selects DASH (default) or HLS manifest rendering.
	Format ManifestFormat

	// ID is the MPD@id attribute; optional.
	ID string

	// SegmentDurationInMs is the nominal segment duration. Zero selects
	// SegmentTimeline mode (durations computed from real frame timing)
	// instead of SegmentTemplate mode (fixed nominal duration).
	SegmentDurationInMs int64

	// TimeShiftBufferDepthInMs, when non-zero, enables a rolling live
	// window: segments older than this are unlinked and their timeshift
	// accounting entries dropped. Mutually exclusive with
	// MultiPeriodFoldersInMs.
	TimeShiftBufferDepthInMs int64

	MinBufferTimeInMs  int64
	MinUpdatePeriodInMs int64

	// MultiPeriodFoldersInMs, when non-zero, starts a new MPD Period (and
	// a new segment-name subfolder) every time this many milliseconds of
	// presentation have elapsed. Mutually exclusive with
	// TimeShiftBufferDepthInMs.
	MultiPeriodFoldersInMs int64

	BaseURLPrefixes []string

	// PresignalNextSegment, when true, emits a zero-length Segment
	// artifact naming the *next* segment's filename as soon as the
	// current segment's init/first chunk is known, for low-latency
	// prefetch. Only valid in SegmentTemplate mode.
	PresignalNextSegment bool

	// SegmentsNotOwned, when true, skips unlinking timeshift-expired
	// segment files: some other component owns their lifecycle. Only
	// valid in SegmentTemplate mode.
	SegmentsNotOwned bool

	// ForceRealDurations accumulates each representation's actual
	// FileMetadata.DurationIn180k instead of the nominal segment
	// duration, so drifting encoders don't silently desync the MPD.
	ForceRealDurations bool

	InitialOffsetInMs int64

	TileInfo []TileInfo

	UTCClock clock.Clock
}

func (c Config) segDurationIn180k() int64 {
	return frame.DivUp(c.SegmentDurationInMs, frame.ClockRate, 1000)
}

func (c Config) useSegmentTimeline() bool {
	return c.SegmentDurationInMs == 0
}

func (c Config) validate(numInputs int) error {
	if c.useSegmentTimeline() && (c.PresignalNextSegment || c.SegmentsNotOwned) {
		return ErrConflictingOptions
	}
	if c.TimeShiftBufferDepthInMs > 0 && c.MultiPeriodFoldersInMs > 0 {
		return ErrConflictingOptions
	}
	if len(c.TileInfo) > 0 && len(c.TileInfo) != numInputs {
		return ErrTileCountMismatch
	}
	return nil
}

// pendingSegment is one timeshift-buffer accounting entry: a segment's
// filename and nominal duration, used to compute when it ages out.
type pendingSegment struct {
	filename        string
	durationIn180k  int64
}

// Quality tracks one representation's accumulated segmenting state.
type Quality struct {
	prefix           string
	curSegDurIn180k  int64
	lastData         *frame.Frame
	avgBitrateBps    int64
	numSegments      int64
	pendingSegments  []pendingSegment
	timelineSegments []mpd.TimelineEntry
	deletedSegments  int64
	initPosted       bool
	kind             frame.StreamKind
	width, height    int
	sampleRate       int
	codec            string
	lang             string
	lastRAP          bool
}

func (q *Quality) isComplete(segDurIn180k int64, useTimeline bool) bool {
	if q.lastData == nil {
		return false
	}
	fm := q.lastData.Metadata().File
	if fm == nil || !fm.EOS {
		return false
	}
	if useTimeline {
		return true
	}
	return q.curSegDurIn180k >= segDurIn180k
}
