package tsmux

import "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

// H.264 NAL unit type values (nal_unit_type, ITU-T H.264 Table 7-1).
const (
	h264NALTypeSlice = 1
	h264NALTypeIDR   = 5
	h264NALTypeSEI   = 6
	h264NALTypeSPS   = 7
	h264NALTypePPS   = 8
	h264NALTypeAUD   = 9
)

// H.265 NAL unit type values (nal_unit_type, ITU-T H.265 Table 7-1).
const (
	h265NALTypeBLAWLP    = 16
	h265NALTypeBLAWRADL  = 17
	h265NALTypeBLANLP    = 18
	h265NALTypeIDRWRADL  = 19
	h265NALTypeIDRNLP    = 20
	h265NALTypeCRANUT    = 21
	h265NALTypeVPS       = 32
	h265NALTypeSPS       = 33
	h265NALTypePPS       = 34
	h265NALTypeAUD       = 35
	h265NALTypePrefixSEI = 39
	h265NALTypeSuffixSEI = 40
)

// dataToAccessUnit converts raw video data — Annex B (start-code prefixed)
// or a single bare NAL unit — into a slice of NAL units.
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

// reorderNALUnits reorders NAL units into decoder-expected order (AUD,
// parameter sets, SEI, slice data, everything else), fixing sources that
// emit SEI before SPS/PPS.
func reorderNALUnits(nalus [][]byte, isH265 bool) [][]byte {
	if len(nalus) <= 1 {
		return nalus
	}

	var paramSets, audNALs, seiNALs, sliceNALs, otherNALs [][]byte

	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if isH265 {
			naluType := (nalu[0] >> 1) & 0x3F
			switch naluType {
			case h265NALTypeVPS, h265NALTypeSPS, h265NALTypePPS:
				paramSets = append(paramSets, nalu)
			case h265NALTypeAUD:
				audNALs = append(audNALs, nalu)
			case h265NALTypePrefixSEI, h265NALTypeSuffixSEI:
				seiNALs = append(seiNALs, nalu)
			case h265NALTypeBLAWLP, h265NALTypeBLAWRADL, h265NALTypeBLANLP,
				h265NALTypeIDRWRADL, h265NALTypeIDRNLP, h265NALTypeCRANUT:
				sliceNALs = append(sliceNALs, nalu)
			default:
				if naluType <= 31 {
					sliceNALs = append(sliceNALs, nalu)
				} else {
					otherNALs = append(otherNALs, nalu)
				}
			}
		} else {
			naluType := nalu[0] & 0x1F
			switch naluType {
			case h264NALTypeSPS, h264NALTypePPS:
				paramSets = append(paramSets, nalu)
			case h264NALTypeAUD:
				audNALs = append(audNALs, nalu)
			case h264NALTypeSEI:
				seiNALs = append(seiNALs, nalu)
			case h264NALTypeIDR, h264NALTypeSlice:
				sliceNALs = append(sliceNALs, nalu)
			default:
				otherNALs = append(otherNALs, nalu)
			}
		}
	}

	result := make([][]byte, 0, len(nalus))
	result = append(result, audNALs...)
	result = append(result, paramSets...)
	result = append(result, seiNALs...)
	result = append(result, sliceNALs...)
	result = append(result, otherNALs...)
	return result
}

// extractAACFrames splits potentially ADTS-framed AAC data into raw
// access units; mediacommon's WriteMPEG4Audio expects raw AUs, not ADTS.
func extractAACFrames(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if len(data) >= 7 && data[0] == 0xFF && (data[1]&0xF0) == 0xF0 {
		return extractADTSFrames(data)
	}
	return [][]byte{data}
}

// extractADTSFrames strips ADTS headers from a concatenated run of ADTS
// frames, returning the raw AAC access units.
func extractADTSFrames(data []byte) [][]byte {
	var frames [][]byte
	offset := 0

	for offset+7 <= len(data) {
		if data[offset] != 0xFF || (data[offset+1]&0xF0) != 0xF0 {
			offset++
			continue
		}

		protectionAbsent := (data[offset+1] & 0x01) != 0
		headerSize := 7
		if !protectionAbsent {
			headerSize = 9
		}

		frameLen := int(data[offset+3]&0x03)<<11 |
			int(data[offset+4])<<3 |
			int(data[offset+5]>>5)

		if frameLen < headerSize || offset+frameLen > len(data) {
			break
		}

		rawFrame := data[offset+headerSize : offset+frameLen]
		if len(rawFrame) > 0 {
			frames = append(frames, rawFrame)
		}
		offset += frameLen
	}

	return frames
}
