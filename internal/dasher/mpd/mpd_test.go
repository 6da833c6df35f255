package mpd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func videoSet(startNumber int64) AdaptationSet {
	return AdaptationSet{
		DurationInTimescale: 2000,
		Timescale:           1000,
		SegmentAlignment:    true,
		BitstreamSwitching:  true,
		StartNumber:         startNumber,
		Representations: []Representation{
			{
				ID: "0", Bandwidth: 2_000_000, Width: 1280, Height: 720,
				MimeType: "video/mp4", Codecs: "avc1.64001f", StartWithSAP: 1,
				Media: "v_0_1280x720-$Number$.m4s", Initialization: "v_0_1280x720-init.mp4",
			},
		},
	}
}

func TestSerialize_DynamicTemplate(t *testing.T) {
	out := Serialize(Document{
		Dynamic:                 true,
		AvailabilityStartTimeMs: 2000,
		PublishTimeMs:           1_600_000_000_000,
		MinBufferTimeMs:         4000,
		MinimumUpdatePeriodMs:   2000,
		Periods: []Period{
			{ID: "1", StartTimeMs: 0, AdaptationSets: []AdaptationSet{videoSet(4)}},
		},
	})
	s := string(out)
	assert.Contains(t, s, `type="dynamic"`)
	assert.Contains(t, s, `availabilityStartTime="1970-01-01T00:00:02Z"`)
	assert.Contains(t, s, `publishTime="2020-09-13T12:26:40Z"`)
	assert.Contains(t, s, `minimumUpdatePeriod="PT2S"`)
	assert.Contains(t, s, `segmentAlignment="true" bitstreamSwitching="true"`)
	assert.Contains(t, s, `$Number$.m4s`)
	// dynamic documents pin startNumber to 0 regardless of the set's value.
	assert.Contains(t, s, `startNumber="0"`)
	assert.NotContains(t, s, `mediaPresentationDuration`)
}

func TestSerialize_StaticMultiPeriod(t *testing.T) {
	out := Serialize(Document{
		Dynamic:                     false,
		PublishTimeMs:               0,
		MinBufferTimeMs:             3000,
		MediaPresentationDurationMs: 6000,
		Periods: []Period{
			{ID: "1", StartTimeMs: 0, DurationMs: 3000, AdaptationSets: []AdaptationSet{videoSet(0)}},
			{ID: "2", StartTimeMs: 3000, DurationMs: 3000, AdaptationSets: []AdaptationSet{videoSet(1)}},
		},
	})
	s := string(out)
	assert.Contains(t, s, `type="static"`)
	assert.Contains(t, s, `mediaPresentationDuration="PT6S"`)
	assert.Equal(t, 2, strings.Count(s, "<Period "))
	assert.Contains(t, s, `<Period id="1" start="PT0S" duration="PT3S">`)
	assert.Contains(t, s, `<Period id="2" start="PT3S" duration="PT3S">`)
	// second period's representation template carries the scaled offset.
	assert.Contains(t, s, `presentationTimeOffset="3000"`)
}

func TestSerialize_SRDAndLang(t *testing.T) {
	as := videoSet(0)
	as.Lang = "eng"
	as.SupplementalProperty = "0,0,0,640,360,1280,720"
	out := Serialize(Document{
		MinBufferTimeMs:             3000,
		MediaPresentationDurationMs: 4000,
		Periods:                     []Period{{ID: "1", AdaptationSets: []AdaptationSet{as}}},
	})
	s := string(out)
	assert.Contains(t, s, `lang="eng"`)
	assert.Contains(t, s, `<SupplementalProperty schemeIdUri="urn:mpeg:dash:srd:2014" value="0,0,0,640,360,1280,720"/>`)
}

func TestSerialize_SegmentTimeline(t *testing.T) {
	as := AdaptationSet{
		Timescale:          1000,
		SegmentAlignment:   true,
		BitstreamSwitching: true,
		Entries: CoalesceTimeline([]TimelineEntry{
			{StartTime: 0, Duration: 2000},
			{StartTime: 2000, Duration: 2000},
			{StartTime: 4000, Duration: 1500},
		}),
		Representations: []Representation{
			{
				ID: "0", Bandwidth: 128_000, AudioSamplingRate: 48000,
				MimeType: "audio/mp4", Codecs: "mp4a.40.2", StartWithSAP: 1,
				Media: "a_0-$Time$.m4s", Initialization: "a_0-init.mp4",
			},
		},
	}
	out := Serialize(Document{
		MinBufferTimeMs:             3000,
		MediaPresentationDurationMs: 5500,
		Periods:                     []Period{{ID: "1", AdaptationSets: []AdaptationSet{as}}},
	})
	s := string(out)
	assert.Contains(t, s, `$Time$.m4s`)
	assert.Contains(t, s, `<S d="2000" r="1"/>`)
	assert.Contains(t, s, `<S d="1500" t="4000"/>`)
}

func TestCoalesceTimeline(t *testing.T) {
	got := CoalesceTimeline([]TimelineEntry{
		{StartTime: 0, Duration: 100},
		{StartTime: 100, Duration: 100},
		{StartTime: 200, Duration: 100},
		{StartTime: 300, Duration: 50},
	})
	assert.Equal(t, []TimelineEntry{
		{StartTime: 0, Duration: 100, RepeatCount: 2},
		{StartTime: 300, Duration: 50},
	}, got)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "PT0S", FormatDuration(0))
	assert.Equal(t, "PT3S", FormatDuration(3000))
	assert.Equal(t, "PT1.500S", FormatDuration(1500))
	assert.Equal(t, "PT1M4.500S", FormatDuration(64500))
	assert.Equal(t, "PT2H5S", FormatDuration(2*3600*1000+5000))
}
