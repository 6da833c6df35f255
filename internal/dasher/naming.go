package dasher

import (
	"fmt"
	"time"

	"github.com/jmylchreest/streamforge/internal/frame"
)

// getPrefix computes a representation's segment filename stem from its
// stream kind and geometry, matching the "v_<idx>_<w>x<h>", "a_<idx>",
// "s_<idx>" convention.
func getPrefix(kind frame.StreamKind, repIdx int, width, height, sampleRate int) string {
	switch kind {
	case frame.StreamKindVideoPkt, frame.StreamKindVideoRaw:
		return fmt.Sprintf("v_%d_%dx%d", repIdx, width, height)
	case frame.StreamKindAudioPkt, frame.StreamKindAudioRaw:
		return fmt.Sprintf("a_%d", repIdx)
	case frame.StreamKindSubtitle:
		return fmt.Sprintf("s_%d", repIdx)
	default:
		return fmt.Sprintf("r_%d", repIdx)
	}
}

func getInitName(prefix string) string {
	return prefix + "-init.mp4"
}

// getCurSegNum returns the 1-based segment sequence number for the period's
// current elapsed presentation time.
func getCurSegNum(startTimeInMs, totalDurationInMs, segDurationInMs int64) int64 {
	if segDurationInMs <= 0 {
		return 0
	}
	return (startTimeInMs+totalDurationInMs)/segDurationInMs + 1
}

// getSegmentName builds a segment's filename. In SegmentTemplate mode tag is
// the segment number; in SegmentTimeline mode tag is the segment's start
// time in Timescale units. periodFolder, when non-empty, is prepended as a
// subdirectory (multi-period mode).
func getSegmentName(prefix string, tag int64, periodFolder string) string {
	name := fmt.Sprintf("%s-%d.m4s", prefix, tag)
	if periodFolder == "" {
		return name
	}
	return periodFolder + "/" + name
}

// formatDateFolder renders a period's start as a date-named subfolder
// ("1970_01_01_00_00_03"). The timestamp is the period's media start time
// in epoch seconds, so folder names are deterministic for a presentation.
func formatDateFolder(epochSeconds int64) string {
	return time.Unix(epochSeconds, 0).UTC().Format("2006_01_02_15_04_05")
}

// periodFolderName returns the date-named subfolder for the period window
// containing mediaTimeMs, quantized to multiPeriodFoldersInMs so every
// segment of one period shares a folder; empty when multi-period mode is
// off.
func periodFolderName(mediaTimeMs, multiPeriodFoldersInMs int64) string {
	if multiPeriodFoldersInMs <= 0 {
		return ""
	}
	start := (mediaTimeMs / multiPeriodFoldersInMs) * multiPeriodFoldersInMs
	return formatDateFolder(start / 1000)
}
