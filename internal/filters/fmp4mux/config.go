// Package fmp4mux muxes a single elementary video or audio stream into
// fragmented MP4 (ISO-BMFF) init and media segments, the format the Dasher
// representation Inputs require: one init segment (zero duration) followed
// by a stream of media segments each carrying a populated FileMetadata.
package fmp4mux

import "github.com/jmylchreest/streamforge/internal/frame"

// Config configures an fmp4mux Filter. Exactly one of VideoCodec/AudioCodec
// applies, selected by Kind.
type Config struct {
	// Kind is StreamKindVideoRaw or StreamKindAudioRaw, naming which single
	// elementary stream this Filter muxes.
	Kind frame.StreamKind
	// Codec is the short codec name of the Input stream ("h264", "h265",
	// "av1", "vp9" for video; "aac", "opus", "ac3" for audio).
	Codec string
	// AudioInitData is the AudioSpecificConfig bytes for AAC audio.
	AudioInitData []byte
	// Width/Height/SampleRate are carried into every Segment Frame's
	// Metadata, matching what Dasher's naming/MPD code expects.
	Width      int
	Height     int
	SampleRate int
	Channels   int

	// SegmentDurationIn180k is the target accumulated sample duration (in
	// the runtime's 180kHz clock) before a fragment is flushed as a Segment
	// Frame.
	SegmentDurationIn180k int64

	InputCapacity       int
	OutputAllocCapacity int
	OutputSlotSize      int
}

func (c Config) withDefaults() Config {
	if c.SegmentDurationIn180k <= 0 {
		c.SegmentDurationIn180k = 4 * frame.ClockRate // 4s segments
	}
	if c.InputCapacity <= 0 {
		c.InputCapacity = 32
	}
	if c.OutputAllocCapacity <= 0 {
		c.OutputAllocCapacity = 16
	}
	if c.OutputSlotSize <= 0 {
		c.OutputSlotSize = 1 << 21
	}
	if c.Channels <= 0 {
		c.Channels = 2
	}
	return c
}
