package tsdemux

import "github.com/asticode/go-astits"

// mediaKind distinguishes the two elementary-stream Outputs a Filter routes
// to; PMT entries that describe neither are ignored.
type mediaKind int

const (
	mediaUnknown mediaKind = iota
	mediaVideo
	mediaAudio
)

// AC-3/E-AC-3 registration descriptor tags carried under the private
// stream_type 0x06, per the stream_type table.
const (
	descriptorTagAC3  = 0x6A
	descriptorTagEAC3 = 0x7A
)

// streamTypeCodec maps a PMT elementary stream's stream_type (and, for the
// private-data stream_type 0x06, its descriptor tags) to the media kind and
// wire codec name it carries. stream_type values are matched by literal hex
// value rather than through astits's own StreamType constants, since this
// table is the one authoritative source of the mapping.
func streamTypeCodec(streamType uint8, descriptors []*astits.Descriptor) (mediaKind, string) {
	switch streamType {
	case 0x01, 0x02:
		return mediaVideo, "mpeg2video"
	case 0x03:
		return mediaAudio, "mp1"
	case 0x04:
		return mediaAudio, "mp2"
	case 0x0F:
		return mediaAudio, "aac_adts"
	case 0x11:
		return mediaAudio, "aac_latm"
	case 0x1B:
		return mediaVideo, "h264_annexb"
	case 0x24:
		return mediaVideo, "hevc_annexb"
	case 0x81:
		return mediaAudio, "ac3"
	case 0x84:
		return mediaAudio, "eac3"
	case 0x06:
		for _, d := range descriptors {
			switch d.Tag {
			case descriptorTagAC3:
				return mediaAudio, "ac3"
			case descriptorTagEAC3:
				return mediaAudio, "eac3"
			}
		}
	}
	return mediaUnknown, ""
}
