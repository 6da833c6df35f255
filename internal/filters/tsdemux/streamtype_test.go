package tsdemux

import (
	"testing"

	"github.com/asticode/go-astits"
	"github.com/stretchr/testify/assert"
)

func TestStreamTypeCodec_H264OnArbitraryPID(t *testing.T) {
	// PAT+PMT naming stream_type 0x1B on PID 666 must resolve to h264_annexb,
	// regardless of which PID carries it.
	kind, name := streamTypeCodec(0x1B, nil)
	assert.Equal(t, mediaVideo, kind)
	assert.Equal(t, "h264_annexb", name)
}

func TestStreamTypeCodec_Table(t *testing.T) {
	cases := []struct {
		streamType uint8
		wantKind   mediaKind
		wantName   string
	}{
		{0x01, mediaVideo, "mpeg2video"},
		{0x02, mediaVideo, "mpeg2video"},
		{0x03, mediaAudio, "mp1"},
		{0x04, mediaAudio, "mp2"},
		{0x0F, mediaAudio, "aac_adts"},
		{0x11, mediaAudio, "aac_latm"},
		{0x1B, mediaVideo, "h264_annexb"},
		{0x24, mediaVideo, "hevc_annexb"},
		{0x81, mediaAudio, "ac3"},
		{0x84, mediaAudio, "eac3"},
	}
	for _, tc := range cases {
		kind, name := streamTypeCodec(tc.streamType, nil)
		assert.Equal(t, tc.wantKind, kind, "stream_type 0x%02X", tc.streamType)
		assert.Equal(t, tc.wantName, name, "stream_type 0x%02X", tc.streamType)
	}
}

func TestStreamTypeCodec_PrivateDataAC3Descriptor(t *testing.T) {
	kind, name := streamTypeCodec(0x06, []*astits.Descriptor{{Tag: descriptorTagAC3}})
	assert.Equal(t, mediaAudio, kind)
	assert.Equal(t, "ac3", name)
}

func TestStreamTypeCodec_PrivateDataEAC3Descriptor(t *testing.T) {
	kind, name := streamTypeCodec(0x06, []*astits.Descriptor{{Tag: descriptorTagEAC3}})
	assert.Equal(t, mediaAudio, kind)
	assert.Equal(t, "eac3", name)
}

func TestStreamTypeCodec_UnknownStreamType(t *testing.T) {
	kind, name := streamTypeCodec(0xFF, nil)
	assert.Equal(t, mediaUnknown, kind)
	assert.Equal(t, "", name)
}
