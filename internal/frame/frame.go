// Package frame implements the runtime's reference-counted, metadata-tagged
// payload type and the closed set of timing/flag attributes carried on it.
package frame

import (
	"fmt"
	"sync/atomic"
)

// ClockRate is the internal timebase shared by every timestamp exchanged
// between filters: 180,000 Hz, abbreviated CR throughout the runtime.
const ClockRate int64 = 180_000

// AttrKind is the closed set of attribute kinds a Frame may carry.
type AttrKind int

const (
	// AttrPresentationTime is the frame's presentation time in CR units.
	AttrPresentationTime AttrKind = iota
	// AttrDecodingTime is the frame's decoding time in CR units.
	AttrDecodingTime
	// AttrCueFlags carries keyframe/discontinuity/end-of-slice booleans.
	AttrCueFlags
	// AttrEOS marks a frame as the terminal frame of its stream.
	AttrEOS
)

// CueFlags mirrors the keyframe/discontinuity/end-of-slice trio carried
// alongside each Frame.
type CueFlags struct {
	Keyframe bool
	Discontinuity bool
	EndOfSlice bool
}

// buffer is the shared, immutable backing store a Frame and its clones point at.
type buffer struct {
	data []byte
	refs atomic.Int64
	onFinal func()
}

func newBuffer(size int) *buffer {
	b := &buffer{data: make([]byte, size)}
	b.refs.Store(1)
	return b
}

func (b *buffer) retain() {
	b.refs.Add(1)
}

func (b *buffer) release() int64 {
	return b.refs.Add(-1)
}

// Frame is a reference-counted, metadata-tagged unit of payload exchanged
// between Output and Input pins. Frames are immutable once emitted; Clone
// produces a new Frame sharing the same backing buffer and Metadata but an
// independent attribute map, matching the "clonable by reference" rule.
type Frame struct {
	buf *buffer
	meta *Metadata
	attrs map[AttrKind]any
	released bool
}

// New allocates a Frame with a fresh, independently-owned backing buffer of
// the given size. Allocator is the only intended caller in normal operation;
// filters that need a scratch Frame outside an Output's pool may still call
// this directly (e.g. in tests).
func New(size int, meta *Metadata) *Frame {
	return &Frame{
		buf: newBuffer(size),
		meta: meta,
		attrs: make(map[AttrKind]any, 4),
	}
}

// Wrap builds a Frame around already-owned bytes without copying, for filters
// that produce data outside the pool allocator (e.g. a demuxer slicing a
// read buffer). The Frame takes ownership of data.
func Wrap(data []byte, meta *Metadata) *Frame {
	b := &buffer{data: data}
	b.refs.Store(1)
	return &Frame{buf: b, meta: meta, attrs: make(map[AttrKind]any, 4)}
}

// Clone returns a new Frame referencing the same backing buffer and Metadata,
// with an independent, empty attribute map (callers re-set what differs, e.g.
// a rewritten PresentationTime). This is the primitive the TimeRectifier uses
// to emit a selected buffered frame without copying its sample bytes.
func (f *Frame) Clone() *Frame {
	f.buf.retain()
	return &Frame{
		buf: f.buf,
		meta: f.meta,
		attrs: make(map[AttrKind]any, len(f.attrs)),
	}
}

// Data returns the backing byte span. The returned slice must not be
// retained past the Frame's lifetime without an explicit Clone/retain.
func (f *Frame) Data() []byte {
	return f.buf.data
}

// Metadata returns the Frame's immutable Metadata, or nil if none was set.
func (f *Frame) Metadata() *Metadata {
	return f.meta
}

// SetAttr sets a closed-set attribute on the Frame's independent attribute map.
func (f *Frame) SetAttr(kind AttrKind, value any) {
	f.attrs[kind] = value
}

// Attr returns a raw attribute value and whether it was set.
func (f *Frame) Attr(kind AttrKind) (any, bool) {
	v, ok := f.attrs[kind]
	return v, ok
}

// PresentationTime returns the CR-unit presentation time, or (0, false) if unset.
func (f *Frame) PresentationTime() (int64, bool) {
	v, ok := f.attrs[AttrPresentationTime]
	if !ok {
		return 0, false
	}
	return v.(int64), true
}

// SetPresentationTime sets the CR-unit presentation time attribute.
func (f *Frame) SetPresentationTime(t int64) {
	f.attrs[AttrPresentationTime] = t
}

// DecodingTime returns the CR-unit decoding time, or (0, false) if unset.
func (f *Frame) DecodingTime() (int64, bool) {
	v, ok := f.attrs[AttrDecodingTime]
	if !ok {
		return 0, false
	}
	return v.(int64), true
}

// SetDecodingTime sets the CR-unit decoding time attribute.
func (f *Frame) SetDecodingTime(t int64) {
	f.attrs[AttrDecodingTime] = t
}

// Cue returns the CueFlags attribute, defaulting to the zero value if unset.
func (f *Frame) Cue() CueFlags {
	v, ok := f.attrs[AttrCueFlags]
	if !ok {
		return CueFlags{}
	}
	return v.(CueFlags)
}

// SetCue sets the CueFlags attribute.
func (f *Frame) SetCue(c CueFlags) {
	f.attrs[AttrCueFlags] = c
}

// IsEOS reports whether the Frame is marked as the terminal frame of its stream.
func (f *Frame) IsEOS() bool {
	v, ok := f.attrs[AttrEOS]
	return ok && v.(bool)
}

// SetEOS marks or unmarks the Frame as the terminal frame of its stream.
func (f *Frame) SetEOS(eos bool) {
	f.attrs[AttrEOS] = eos
}

// OnFinalRelease registers fn to run once the backing buffer's last
// reference drops. The Allocator registers its slot-return here so pool
// occupancy tracks live Frames (and their clones) exactly.
func (f *Frame) OnFinalRelease(fn func()) {
	f.buf.onFinal = fn
}

// Release decrements the backing buffer's reference count, running any
// registered final-release hook when the last reference drops. Callers
// (the Allocator, or a filter done with a Clone) must call Release exactly
// once per Frame/Clone obtained. Double-release is a programmer error and
// panics, matching the "issued-count >= freed-count, equal at teardown"
// invariant.
func (f *Frame) Release() {
	if f.released {
		panic("frame: double release")
	}
	f.released = true
	if f.buf.release() == 0 && f.buf.onFinal != nil {
		f.buf.onFinal()
	}
}

// DivUp converts a time value from srcScale to dstScale, rounding up:
// divUp(time*dstScale, srcScale).
func DivUp(t, dstScale, srcScale int64) int64 {
	if srcScale == 0 {
		panic(fmt.Sprintf("frame: DivUp with zero srcScale (t=%d dstScale=%d)", t, dstScale))
	}
	num := t * dstScale
	if num >= 0 {
		return (num + srcScale - 1) / srcScale
	}
	return -((-num) / srcScale)
}
