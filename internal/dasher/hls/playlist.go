// Package hls renders HLS media and master playlists from the same
// per-representation segment bookkeeping the dasher package produces,
// building the text directly rather than through a generic templating
// engine.
package hls

import (
	"fmt"
	"strings"
)

// MediaSegment is one entry in a media playlist.
type MediaSegment struct {
	Filename       string
	DurationInMs   int64
	Discontinuity  bool
}

// MediaPlaylistOptions configures one representation's #EXT-X-STREAM media playlist.
type MediaPlaylistOptions struct {
	Live                     bool
	TargetDurationInMs       int64
	MediaSequence            int64
	InitName                 string
	Segments                 []MediaSegment
	IndependentSegments      bool
}

// BuildMediaPlaylist renders a representation's media playlist.
func BuildMediaPlaylist(o MediaPlaylistOptions) []byte {
	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:7\n")
	if o.IndependentSegments {
		sb.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")
	}
	sb.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", (o.TargetDurationInMs+999)/1000))
	sb.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", o.MediaSequence))
	if o.InitName != "" {
		sb.WriteString(fmt.Sprintf(`#EXT-X-MAP:URI="%s"`+"\n", o.InitName))
	}
	for _, seg := range o.Segments {
		if seg.Discontinuity {
			sb.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		sb.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", float64(seg.DurationInMs)/1000))
		sb.WriteString(seg.Filename + "\n")
	}
	if !o.Live {
		sb.WriteString("#EXT-X-ENDLIST\n")
	}
	return []byte(sb.String())
}

// Variant describes one representation's entry in a master playlist.
type Variant struct {
	PlaylistFilename string
	BandwidthBps     int64
	Codecs           string
	Width, Height    int
}

// BuildMasterPlaylist renders the top-level multivariant playlist.
func BuildMasterPlaylist(variants []Variant) []byte {
	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:7\n")
	for _, v := range variants {
		sb.WriteString(fmt.Sprintf(`#EXT-X-STREAM-INF:BANDWIDTH=%d,CODECS="%s"`, v.BandwidthBps, v.Codecs))
		if v.Width > 0 && v.Height > 0 {
			sb.WriteString(fmt.Sprintf(",RESOLUTION=%dx%d", v.Width, v.Height))
		}
		sb.WriteString("\n")
		sb.WriteString(v.PlaylistFilename + "\n")
	}
	return []byte(sb.String())
}
