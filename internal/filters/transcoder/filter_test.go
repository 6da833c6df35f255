package transcoder

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/jmylchreest/streamforge/internal/frame"
	"github.com/jmylchreest/streamforge/internal/graph"
	"github.com/jmylchreest/streamforge/pkg/ffmpegd/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type fakeHost struct{}

func (fakeHost) Log(level graph.LogLevel, msg string, args ...any) {}
func (fakeHost) Activate(active bool)                              {}

// fakeStream stands in for a real gRPC bidi stream: Send captures what the
// Filter sent, and Recv replays pre-seeded responses.
type fakeStream struct {
	grpc.ClientStream
	sent []*wrapperspb.BytesValue
	recvQueue []*wrapperspb.BytesValue
	closeSendCalled bool
}

func (s *fakeStream) Send(m *wrapperspb.BytesValue) error {
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeStream) Recv() (*wrapperspb.BytesValue, error) {
	if len(s.recvQueue) == 0 {
		return nil, io.EOF
	}
	m := s.recvQueue[0]
	s.recvQueue = s.recvQueue[1:]
	return m, nil
}

func (s *fakeStream) CloseSend() error {
	s.closeSendCalled = true
	return nil
}

func TestFilter_SendMarshalsSourceFrame(t *testing.T) {
	stream := &fakeStream{}
	executor := graph.NewExecutor(graph.Mono, 0)
	videoOut := graph.NewOutput(graph.NewAllocator(4, 4096), executor)
	audioOut := graph.NewOutput(graph.NewAllocator(4, 4096), executor)
	f := &Filter{host: fakeHost{}, in: graph.NewInput(8), videoOut: videoOut, audioOut: audioOut, stream: stream, cancel: func() {}}
	f.recvWG.Add(1)
	go f.recvLoop()

	meta := &frame.Metadata{Kind: frame.StreamKindVideoPkt, Codec: "h264"}
	fr := frame.Wrap([]byte{1, 2, 3, 4}, meta)
	fr.SetPresentationTime(180_000)
	fr.SetCue(frame.CueFlags{Keyframe: true})

	require.NoError(t, f.send(fr))
	require.Len(t, stream.sent, 1)

	var batch types.ESSampleBatch
	require.NoError(t, json.Unmarshal(stream.sent[0].GetValue(), &batch))
	require.Len(t, batch.VideoSamples, 1)
	assert.True(t, batch.VideoSamples[0].IsKeyframe)
	assert.Equal(t, int64(90_000), batch.VideoSamples[0].PTS)
	assert.True(t, batch.IsSource)

	require.NoError(t, f.Flush())
}

func TestFilter_RecvLoopRoutesSamplesByKind(t *testing.T) {
	videoBatch := types.ESSampleBatch{VideoSamples: []types.ESSample{{Data: []byte{9, 9}, PTS: 90_000}}}
	audioBatch := types.ESSampleBatch{AudioSamples: []types.ESSample{{Data: []byte{1}, PTS: 45_000}}}
	vPayload, err := json.Marshal(videoBatch)
	require.NoError(t, err)
	aPayload, err := json.Marshal(audioBatch)
	require.NoError(t, err)

	stream := &fakeStream{recvQueue: []*wrapperspb.BytesValue{
		wrapperspb.Bytes(vPayload),
		wrapperspb.Bytes(aPayload),
	}}

	executor := graph.NewExecutor(graph.Mono, 0)
	videoOut := graph.NewOutput(graph.NewAllocator(4, 4096), executor)
	audioOut := graph.NewOutput(graph.NewAllocator(4, 4096), executor)
	videoOut.SetMetadata(&frame.Metadata{Kind: frame.StreamKindVideoPkt})
	audioOut.SetMetadata(&frame.Metadata{Kind: frame.StreamKindAudioPkt})

	videoSink := graph.NewInput(8)
	require.NoError(t, videoOut.Connect(videoSink, false))
	audioSink := graph.NewInput(8)
	require.NoError(t, audioOut.Connect(audioSink, false))

	f := &Filter{host: fakeHost{}, in: graph.NewInput(8), videoOut: videoOut, audioOut: audioOut, stream: stream, cancel: func() {}}
	f.recvWG.Add(1)
	f.recvLoop()

	vf := videoSink.TryPop()
	require.NotNil(t, vf)
	assert.Equal(t, frame.StreamKindVideoPkt, vf.Metadata().Kind)
	vf.Release()

	af := audioSink.TryPop()
	require.NotNil(t, af)
	assert.Equal(t, frame.StreamKindAudioPkt, af.Metadata().Kind)
	af.Release()

	require.NoError(t, f.Flush())
}

func TestFilter_ProcessReportsEOSOnDrainedDisconnectedInput(t *testing.T) {
	stream := &fakeStream{}
	f := &Filter{
		host: fakeHost{},
		in: graph.NewInput(4),
		videoOut: graph.NewOutput(graph.NewAllocator(2, 256), graph.NewExecutor(graph.Mono, 0)),
		audioOut: graph.NewOutput(graph.NewAllocator(2, 256), graph.NewExecutor(graph.Mono, 0)),
		stream: stream,
		cancel: func() {},
	}
	f.recvWG.Add(1)
	go f.recvLoop()

	err := f.Process()
	assert.ErrorIs(t, err, graph.ErrEOS)
	require.NoError(t, f.Flush())
}
