// Package tsmux muxes elementary-stream video and audio Frames into an
// MPEG-TS byte stream through mediacommon's mpegts.Writer, the push-side
// counterpart of tsdemux.
package tsmux

// Config configures a tsmux Filter.
type Config struct {
	// VideoCodec is the short codec name of the incoming video Input
	// ("h264" or "h265"); it selects the mpegts.Codec the video track is
	// declared with.
	VideoCodec string
	// AudioCodec is the short codec name of the incoming audio Input
	// ("aac", "ac3", "eac3", "mp3", "opus"); empty disables the audio track.
	AudioCodec string
	// AudioInitData is the AudioSpecificConfig bytes for AAC audio, used to
	// set the correct sample rate/channel count instead of the 48kHz/stereo
	// default.
	AudioInitData []byte

	InputCapacity       int
	OutputAllocCapacity int
	OutputSlotSize      int
}

func (c Config) withDefaults() Config {
	if c.VideoCodec == "" {
		c.VideoCodec = "h264"
	}
	if c.InputCapacity <= 0 {
		c.InputCapacity = 32
	}
	if c.OutputAllocCapacity <= 0 {
		c.OutputAllocCapacity = 32
	}
	if c.OutputSlotSize <= 0 {
		c.OutputSlotSize = 1 << 20
	}
	return c
}
