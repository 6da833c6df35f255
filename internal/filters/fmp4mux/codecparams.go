package fmp4mux

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/av1"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

// videoParams accumulates the codec parameter sets a video track needs
// before its fmp4.Init track can be built: SPS/PPS for H.264, VPS/SPS/PPS
// for H.265, the sequence header OBU for AV1. VP9 needs none.
type videoParams struct {
	h264SPS []byte
	h264PPS []byte

	h265VPS []byte
	h265SPS []byte
	h265PPS []byte

	av1SeqHeader []byte
}

func (v *videoParams) extract(codecName string, data []byte) {
	switch codecName {
	case "h264":
		for _, nalu := range dataToAccessUnit(data) {
			if len(nalu) == 0 {
				continue
			}
			switch h264.NALUType(nalu[0] & 0x1F) {
			case h264.NALUTypeSPS:
				v.h264SPS = append([]byte(nil), nalu...)
			case h264.NALUTypePPS:
				v.h264PPS = append([]byte(nil), nalu...)
			}
		}
	case "h265":
		for _, nalu := range dataToAccessUnit(data) {
			if len(nalu) == 0 {
				continue
			}
			switch h265.NALUType((nalu[0] >> 1) & 0x3F) {
			case h265.NALUType_VPS_NUT:
				v.h265VPS = append([]byte(nil), nalu...)
			case h265.NALUType_SPS_NUT:
				v.h265SPS = append([]byte(nil), nalu...)
			case h265.NALUType_PPS_NUT:
				v.h265PPS = append([]byte(nil), nalu...)
			}
		}
	case "av1":
		var bs av1.Bitstream
		if err := bs.Unmarshal(data); err != nil {
			return
		}
		for _, obu := range bs {
			if len(obu) == 0 {
				continue
			}
			if av1.OBUType((obu[0]>>3)&0x0F) == av1.OBUTypeSequenceHeader {
				v.av1SeqHeader = append([]byte(nil), obu...)
				return
			}
		}
	}
}

func (v *videoParams) ready(codecName string) bool {
	switch codecName {
	case "h264":
		return len(v.h264SPS) > 0 && len(v.h264PPS) > 0
	case "h265":
		return len(v.h265VPS) > 0 && len(v.h265SPS) > 0 && len(v.h265PPS) > 0
	case "av1":
		return len(v.av1SeqHeader) > 0
	case "vp9":
		return true
	default:
		return false
	}
}

// dataToAccessUnit splits Annex B (start-code prefixed) video data into NAL
// units, falling back to treating the whole payload as one NAL unit.
func dataToAccessUnit(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if len(data) >= 4 && data[0] == 0x00 && data[1] == 0x00 &&
		(data[2] == 0x01 || (data[2] == 0x00 && data[3] == 0x01)) {
		var au h264.AnnexB
		if err := au.Unmarshal(data); err != nil {
			return [][]byte{data}
		}
		return au
	}
	return [][]byte{data}
}

// dataToOBUs splits AV1 data into OBUs.
func dataToOBUs(data []byte) [][]byte {
	var bs av1.Bitstream
	if err := bs.Unmarshal(data); err != nil {
		return [][]byte{data}
	}
	return bs
}

// isVP9Keyframe reports whether a VP9 frame is a keyframe by inspecting the
// uncompressed frame header's frame marker and profile bits.
func isVP9Keyframe(data []byte) bool {
	if len(data) < 1 {
		return false
	}
	if (data[0]>>6)&0x03 != 0x02 {
		return false
	}
	if (data[0]>>4)&0x03 == 3 {
		return (data[0] & 0x08) == 0
	}
	return (data[0] & 0x04) == 0
}
