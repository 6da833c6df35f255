// Package tsdemux demuxes an MPEG-TS elementary-stream bitstream into
// per-program-element Frames, grounding the stream_type-to-codec mapping and
// the TEI/continuity-counter drop rule directly in raw TS packet bytes and
// routing PAT/PMT/PES parsing through go-astits.
package tsdemux

// Config configures a tsdemux Filter.
type Config struct {
	// InputCapacity bounds the Input pin's queued-Frame FIFO.
	InputCapacity int
	// VideoAllocCapacity/VideoSlotSize size the video Output's pool Allocator.
	VideoAllocCapacity int
	VideoSlotSize      int
	// AudioAllocCapacity/AudioSlotSize size the audio Output's pool Allocator.
	AudioAllocCapacity int
	AudioSlotSize      int
}

func (c Config) withDefaults() Config {
	if c.InputCapacity <= 0 {
		c.InputCapacity = 32
	}
	if c.VideoAllocCapacity <= 0 {
		c.VideoAllocCapacity = 64
	}
	if c.VideoSlotSize <= 0 {
		c.VideoSlotSize = 1 << 20
	}
	if c.AudioAllocCapacity <= 0 {
		c.AudioAllocCapacity = 64
	}
	if c.AudioSlotSize <= 0 {
		c.AudioSlotSize = 1 << 16
	}
	return c
}
