// Package mpd renders a DASH Media Presentation Description XML document
// from a Document tree (Periods, AdaptationSets, Representations),
// building the text with strings.Builder rather than a generic XML
// marshaler, since the DASH schema's attribute ordering, run-length
// SegmentTimeline coalescing, and omit-if-zero rules don't map cleanly
// onto encoding/xml's struct tags.
package mpd

import (
	"fmt"
	"strings"
	"time"
)

// Profiles is the profile string advertised on every generated MPD.
const Profiles = "urn:mpeg:dash:profile:isoff-live:2011"

// TimelineEntry is one <S> element of a SegmentTimeline: a start time,
// duration, and repeat count, all in the AdaptationSet's timescale.
type TimelineEntry struct {
	StartTime   int64
	Duration    int64
	RepeatCount int64
}

// Representation describes one rendition of an AdaptationSet.
type Representation struct {
	ID                string
	Bandwidth         int64
	AudioSamplingRate int
	Width, Height     int
	MimeType          string
	Codecs            string
	// StartWithSAP is 1 when every media segment of this representation
	// starts at a stream access point, 0 when at least one video segment
	// did not start with a RAP.
	StartWithSAP int
	// Media and Initialization are the SegmentTemplate URL patterns
	// ($Number$ or $Time$ based), already prefixed with any period
	// subfolder.
	Media          string
	Initialization string
}

// AdaptationSet groups interchangeable Representations. Grouping (by
// stream kind, language, and SRD tile tuple) is the caller's concern;
// this type only renders what it is given.
type AdaptationSet struct {
	// DurationInTimescale is the nominal segment duration in Timescale
	// units; zero in SegmentTimeline mode.
	DurationInTimescale int64
	Timescale           int64
	Lang                string
	// SupplementalProperty, when non-empty, is the SRD value string
	// "sourceId,x,y,w,h,totalW,totalH" emitted under the
	// urn:mpeg:dash:srd:2014 scheme.
	SupplementalProperty string
	SegmentAlignment     bool
	BitstreamSwitching   bool
	StartNumber          int64
	// Entries is the SegmentTimeline; empty in SegmentTemplate mode.
	Entries         []TimelineEntry
	Representations []Representation
}

// Period is one time-bounded top-level window of the presentation.
type Period struct {
	ID             string
	StartTimeMs    int64
	DurationMs     int64
	BaseURLs       []string
	AdaptationSets []AdaptationSet
}

// Document is the root MPD description.
type Document struct {
	Dynamic bool
	ID      string
	// AvailabilityStartTimeMs and PublishTimeMs are wall-clock epoch
	// milliseconds; only emitted where the schema calls for them
	// (availabilityStartTime on dynamic documents only).
	AvailabilityStartTimeMs      int64
	PublishTimeMs                int64
	MinBufferTimeMs              int64
	MinimumUpdatePeriodMs        int64
	MediaPresentationDurationMs  int64
	TimeShiftBufferDepthMs       int64
	// SessionStartTimeMs feeds presentationTimeOffset for periods past
	// the first in static multi-period presentations.
	SessionStartTimeMs int64
	Periods            []Period
}

// FormatDate renders an epoch-seconds timestamp as the xs:dateTime form
// the MPD schema expects.
func FormatDate(epochSeconds int64) string {
	return time.Unix(epochSeconds, 0).UTC().Format("2006-01-02T15:04:05Z")
}

// FormatDuration renders a millisecond count as a compact xs:duration
// ("PT3S", "PT1M4.500S").
func FormatDuration(ms int64) string {
	if ms == 0 {
		return "PT0S"
	}
	msec := ms % 1000
	t := ms / 1000
	secs := t % 60
	t /= 60
	mins := t % 60
	hours := t / 60

	var sb strings.Builder
	sb.WriteString("PT")
	if hours > 0 {
		fmt.Fprintf(&sb, "%dH", hours)
	}
	if mins > 0 {
		fmt.Fprintf(&sb, "%dM", mins)
	}
	if msec > 0 {
		fmt.Fprintf(&sb, "%d.%03dS", secs, msec)
	} else {
		fmt.Fprintf(&sb, "%dS", secs)
	}
	return sb.String()
}

func formatBool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// Serialize renders the Document as a UTF-8 MPD XML byte slice.
func Serialize(doc Document) []byte {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")

	typ := "static"
	if doc.Dynamic {
		typ = "dynamic"
	}
	fmt.Fprintf(&sb, `<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="%s"`, typ)
	if doc.ID != "" {
		fmt.Fprintf(&sb, ` id="%s"`, doc.ID)
	}
	fmt.Fprintf(&sb, ` profiles="%s"`, Profiles)
	if doc.Dynamic {
		fmt.Fprintf(&sb, ` availabilityStartTime="%s"`, FormatDate(doc.AvailabilityStartTimeMs/1000))
	}
	fmt.Fprintf(&sb, ` publishTime="%s"`, FormatDate(doc.PublishTimeMs/1000))
	fmt.Fprintf(&sb, ` minBufferTime="%s"`, FormatDuration(doc.MinBufferTimeMs))
	if doc.Dynamic {
		fmt.Fprintf(&sb, ` minimumUpdatePeriod="%s"`, FormatDuration(doc.MinimumUpdatePeriodMs))
		if doc.TimeShiftBufferDepthMs > 0 {
			fmt.Fprintf(&sb, ` timeShiftBufferDepth="%s"`, FormatDuration(doc.TimeShiftBufferDepthMs))
		}
	} else {
		fmt.Fprintf(&sb, ` mediaPresentationDuration="%s"`, FormatDuration(doc.MediaPresentationDurationMs))
	}
	sb.WriteString(">\n")

	for _, period := range doc.Periods {
		writePeriod(&sb, doc, period)
	}

	sb.WriteString("</MPD>\n")
	return []byte(sb.String())
}

func writePeriod(sb *strings.Builder, doc Document, period Period) {
	fmt.Fprintf(sb, `  <Period id="%s" start="%s"`, period.ID, FormatDuration(period.StartTimeMs))
	if !doc.Dynamic && period.DurationMs > 0 {
		fmt.Fprintf(sb, ` duration="%s"`, FormatDuration(period.DurationMs))
	}
	sb.WriteString(">\n")

	for _, baseURL := range period.BaseURLs {
		if baseURL == "" {
			continue
		}
		fmt.Fprintf(sb, "    <BaseURL>%s</BaseURL>\n", baseURL)
	}

	for _, as := range period.AdaptationSets {
		writeAdaptationSet(sb, doc, period, as)
	}

	sb.WriteString("  </Period>\n")
}

func writeAdaptationSet(sb *strings.Builder, doc Document, period Period, as AdaptationSet) {
	fmt.Fprintf(sb, `    <AdaptationSet segmentAlignment="%s" bitstreamSwitching="%s"`,
		formatBool(as.SegmentAlignment), formatBool(as.BitstreamSwitching))
	if as.Lang != "" {
		fmt.Fprintf(sb, ` lang="%s"`, as.Lang)
	}
	sb.WriteString(">\n")

	if as.SupplementalProperty != "" {
		fmt.Fprintf(sb, `      <SupplementalProperty schemeIdUri="urn:mpeg:dash:srd:2014" value="%s"/>`+"\n",
			as.SupplementalProperty)
	}

	// Adaptation-set level template: timing shared by every representation.
	fmt.Fprintf(sb, `      <SegmentTemplate timescale="%d"`, as.Timescale)
	if as.DurationInTimescale > 0 {
		fmt.Fprintf(sb, ` duration="%d"`, as.DurationInTimescale)
	}
	fmt.Fprintf(sb, ` startNumber="%d"/>`+"\n", templateStartNumber(doc, as))

	for _, rep := range as.Representations {
		writeRepresentation(sb, doc, period, as, rep)
	}

	sb.WriteString("    </AdaptationSet>\n")
}

func templateStartNumber(doc Document, as AdaptationSet) int64 {
	if doc.Dynamic {
		return 0
	}
	return as.StartNumber
}

func writeRepresentation(sb *strings.Builder, doc Document, period Period, as AdaptationSet, rep Representation) {
	fmt.Fprintf(sb, `      <Representation id="%s" bandwidth="%d"`, rep.ID, rep.Bandwidth)
	if rep.AudioSamplingRate > 0 {
		fmt.Fprintf(sb, ` audioSamplingRate="%d"`, rep.AudioSamplingRate)
	}
	if rep.Width > 0 {
		fmt.Fprintf(sb, ` width="%d"`, rep.Width)
	}
	if rep.Height > 0 {
		fmt.Fprintf(sb, ` height="%d"`, rep.Height)
	}
	fmt.Fprintf(sb, ` mimeType="%s" codecs="%s" startWithSAP="%d">`+"\n",
		rep.MimeType, rep.Codecs, rep.StartWithSAP)

	fmt.Fprintf(sb, `        <SegmentTemplate media="%s" initialization="%s" startNumber="%d"`,
		rep.Media, rep.Initialization, templateStartNumber(doc, as))
	if !doc.Dynamic {
		pto := (doc.SessionStartTimeMs + period.StartTimeMs) * as.Timescale / 1000
		if pto > 0 {
			fmt.Fprintf(sb, ` presentationTimeOffset="%d"`, pto)
		}
	}

	if len(as.Entries) > 0 {
		sb.WriteString(">\n")
		sb.WriteString("          <SegmentTimeline>\n")
		for _, e := range as.Entries {
			sb.WriteString("            <S")
			if e.Duration > 0 {
				fmt.Fprintf(sb, ` d="%d"`, e.Duration)
			}
			if e.StartTime > 0 {
				fmt.Fprintf(sb, ` t="%d"`, e.StartTime)
			}
			if e.RepeatCount > 0 {
				fmt.Fprintf(sb, ` r="%d"`, e.RepeatCount)
			}
			sb.WriteString("/>\n")
		}
		sb.WriteString("          </SegmentTimeline>\n")
		sb.WriteString("        </SegmentTemplate>\n")
	} else {
		sb.WriteString("/>\n")
	}

	sb.WriteString("      </Representation>\n")
}

// CoalesceTimeline converts a flat (start, duration) segment list into
// run-length-coalesced timeline entries: consecutive same-duration
// segments collapse into one <S> with an incremented repeat count.
func CoalesceTimeline(segments []TimelineEntry) []TimelineEntry {
	var out []TimelineEntry
	for _, seg := range segments {
		if n := len(out); n > 0 && out[n-1].Duration == seg.Duration {
			out[n-1].RepeatCount++
			continue
		}
		out = append(out, TimelineEntry{StartTime: seg.StartTime, Duration: seg.Duration})
	}
	return out
}
