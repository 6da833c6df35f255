package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_CloneSharesBuffer(t *testing.T) {
	meta := &Metadata{Kind: StreamKindVideoRaw, Codec: "h264_annexb"}
	f := New(16, meta)
	copy(f.Data(), []byte("hello world12345"))

	clone := f.Clone()
	assert.Equal(t, f.Data(), clone.Data())
	assert.Same(t, meta, clone.Metadata())

	clone.SetPresentationTime(42)
	_, ok := f.PresentationTime()
	assert.False(t, ok, "clone's attribute map must be independent")

	f.Release()
	clone.Release()
}

func TestFrame_DoubleReleasePanics(t *testing.T) {
	f := New(4, nil)
	f.Release()
	assert.Panics(t, func() { f.Release() })
}

func TestFrame_AttrRoundTrip(t *testing.T) {
	f := New(0, nil)
	defer f.Release()

	f.SetPresentationTime(180_000)
	pt, ok := f.PresentationTime()
	require.True(t, ok)
	assert.Equal(t, int64(180_000), pt)

	f.SetCue(CueFlags{Keyframe: true})
	assert.True(t, f.Cue().Keyframe)

	assert.False(t, f.IsEOS())
	f.SetEOS(true)
	assert.True(t, f.IsEOS())
}

func TestDivUp(t *testing.T) {
	cases := []struct {
		name                   string
		t, dstScale, srcScale  int64
		want                   int64
	}{
		{"90kHz to CR exact", 9000, 180000, 90000, 18000},
		{"rounds up", 1, 3, 2, 2},
		{"zero", 0, 180000, 90000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DivUp(tc.t, tc.dstScale, tc.srcScale))
		})
	}
}

func TestMetadata_Equal(t *testing.T) {
	a := &Metadata{Kind: StreamKindAudioPkt, Codec: "aac_adts", SampleRate: 48000}
	b := &Metadata{Kind: StreamKindAudioPkt, Codec: "aac_adts", SampleRate: 48000}
	c := &Metadata{Kind: StreamKindAudioPkt, Codec: "mp2", SampleRate: 48000}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))

	var nilMeta *Metadata
	assert.True(t, nilMeta.Equal(nil))
}

func TestFileMetadata_IsDelete(t *testing.T) {
	fm := &FileMetadata{Size: DeleteSize}
	assert.True(t, fm.IsDelete())

	fm2 := &FileMetadata{Size: 1024}
	assert.False(t, fm2.IsDelete())
}

func TestCompatible_PinIngestionRules(t *testing.T) {
	video := &Metadata{Kind: StreamKindVideoPkt, Codec: "h264_annexb"}
	audio := &Metadata{Kind: StreamKindAudioPkt, Codec: "aac_adts"}

	assert.True(t, Compatible(nil, video), "rule 1: no metadata adopts first seen")
	assert.True(t, Compatible(video, video), "rule 2: identical metadata is a no-op")
	assert.False(t, Compatible(video, audio), "rule 4: incompatible stream-kind change is an error")
}
