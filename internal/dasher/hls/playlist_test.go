package hls

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildMediaPlaylist_Live(t *testing.T) {
	out := BuildMediaPlaylist(MediaPlaylistOptions{
		Live:                true,
		TargetDurationInMs:  2000,
		MediaSequence:       3,
		InitName:            "v_0-init.mp4",
		IndependentSegments: true,
		Segments: []MediaSegment{
			{Filename: "v_0-4.m4s", DurationInMs: 2000},
			{Filename: "v_0-5.m4s", DurationInMs: 2000, Discontinuity: true},
		},
	})
	s := string(out)
	assert.True(t, strings.HasPrefix(s, "#EXTM3U\n"))
	assert.Contains(t, s, "#EXT-X-TARGETDURATION:2\n")
	assert.Contains(t, s, "#EXT-X-MEDIA-SEQUENCE:3\n")
	assert.Contains(t, s, `#EXT-X-MAP:URI="v_0-init.mp4"`)
	assert.Contains(t, s, "#EXT-X-DISCONTINUITY\n")
	assert.NotContains(t, s, "#EXT-X-ENDLIST")
}

func TestBuildMediaPlaylist_VOD(t *testing.T) {
	out := BuildMediaPlaylist(MediaPlaylistOptions{
		Live:               false,
		TargetDurationInMs: 4000,
		Segments:           []MediaSegment{{Filename: "a_0-1.m4s", DurationInMs: 4000}},
	})
	assert.Contains(t, string(out), "#EXT-X-ENDLIST\n")
}

func TestBuildMasterPlaylist(t *testing.T) {
	out := BuildMasterPlaylist([]Variant{
		{PlaylistFilename: "v0.m3u8", BandwidthBps: 2_000_000, Codecs: "avc1.64001f,mp4a.40.2", Width: 1280, Height: 720},
		{PlaylistFilename: "a0.m3u8", BandwidthBps: 128_000, Codecs: "mp4a.40.2"},
	})
	s := string(out)
	assert.Contains(t, s, "RESOLUTION=1280x720")
	assert.Contains(t, s, "v0.m3u8")
	assert.Contains(t, s, "a0.m3u8")
}
