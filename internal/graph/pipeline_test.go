package graph

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmylchreest/streamforge/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource emits n frames then returns ErrEOS.
type countingSource struct {
	host      Host
	out       *Output
	n         int
	allocator *Allocator
	emitted   int
}

func newCountingSource(host Host, n int, allocator *Allocator, executor Executor) *countingSource {
	return &countingSource{host: host, n: n, allocator: allocator, out: NewOutput(allocator, executor)}
}

func (s *countingSource) NumInputs() int    { return 0 }
func (s *countingSource) Input(i int) *Input { return nil }
func (s *countingSource) NumOutputs() int   { return 1 }
func (s *countingSource) Output(i int) *Output { return s.out }

func (s *countingSource) Process() error {
	if s.emitted >= s.n {
		return ErrEOS
	}
	f, err := s.out.AllocData(4)
	if err != nil {
		return err
	}
	f.SetPresentationTime(int64(s.emitted) * frame.ClockRate)
	if s.emitted == s.n-1 {
		f.SetEOS(true)
	}
	s.emitted++
	if err := s.out.Post(f); err != nil {
		return err
	}
	return nil
}

func (s *countingSource) Flush() error { return nil }

// countingSink pops frames from its single input until it sees an EOS frame
// or its upstream disconnects with an empty queue.
type countingSink struct {
	in       *Input
	count    atomic.Int64
	flushed  atomic.Int32
}

func newCountingSink(capacity int) *countingSink {
	return &countingSink{in: NewInput(capacity)}
}

func (s *countingSink) NumInputs() int     { return 1 }
func (s *countingSink) Input(i int) *Input { return s.in }
func (s *countingSink) NumOutputs() int    { return 0 }
func (s *countingSink) Output(i int) *Output { return nil }

func (s *countingSink) Process() error {
	f := s.in.TryPop()
	if f == nil {
		if s.in.ConnectionCount() == 0 {
			return ErrEOS
		}
		return nil
	}
	eos := f.IsEOS()
	s.count.Add(1)
	f.Release()
	if eos {
		return ErrEOS
	}
	return nil
}

func (s *countingSink) Flush() error {
	s.flushed.Add(1)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPipeline_SourceToSinkOnePerModule(t *testing.T) {
	p := NewPipeline(OnePerModule, 0, testLogger())

	allocator := NewAllocator(4, 4)
	var src *countingSource
	_, err := p.Add("source", func(host Host) (Filter, error) {
		src = newCountingSource(host, 10, allocator, p.Executor())
		return src, nil
	})
	require.NoError(t, err)

	sink := newCountingSink(4)
	_, err = p.Add("sink", func(host Host) (Filter, error) {
		return sink, nil
	})
	require.NoError(t, err)

	require.NoError(t, src.out.Connect(sink.in, false))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Start(ctx))

	err = p.WaitForEndOfStream()
	require.NoError(t, err)

	assert.Equal(t, int64(10), sink.count.Load())
	assert.Equal(t, int32(1), sink.flushed.Load())

	stats := allocator.Stats()
	assert.Equal(t, stats.Issued, stats.Freed, "issued must equal freed at teardown")
}

func TestPipeline_Mono(t *testing.T) {
	p := NewPipeline(Mono, 0, testLogger())

	allocator := NewAllocator(4, 4)
	var src *countingSource
	_, err := p.Add("source", func(host Host) (Filter, error) {
		src = newCountingSource(host, 5, allocator, p.Executor())
		return src, nil
	})
	require.NoError(t, err)

	sink := newCountingSink(8)
	_, err = p.Add("sink", func(host Host) (Filter, error) {
		return sink, nil
	})
	require.NoError(t, err)

	require.NoError(t, src.out.Connect(sink.in, false))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.WaitForEndOfStream())

	assert.Equal(t, int64(5), sink.count.Load())
}

func TestPipeline_SecondStartErrors(t *testing.T) {
	p := NewPipeline(OnePerModule, 0, testLogger())
	allocator := NewAllocator(2, 4)
	_, err := p.Add("source", func(host Host) (Filter, error) {
		return newCountingSource(host, 1, allocator, p.Executor()), nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	err = p.Start(ctx)
	assert.ErrorIs(t, err, ErrPipelineAlreadyRunning)
}

func TestAllocator_BlocksThenUnblocksOnFree(t *testing.T) {
	a := NewAllocator(1, 16)
	f1, err := a.Alloc(16, nil)
	require.NoError(t, err)

	_, err = a.TryAlloc(16, nil)
	assert.ErrorIs(t, err, ErrPoolExhausted)

	done := make(chan struct{})
	go func() {
		f2, err := a.Alloc(16, nil)
		require.NoError(t, err)
		f2.Release()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	// the final Release returns the slot to the pool.
	f1.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked allocation never woke up after Free")
	}
}

func TestAllocator_UnblockReleasesWaiters(t *testing.T) {
	a := NewAllocator(1, 16)
	_, err := a.Alloc(16, nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := a.Alloc(16, nil)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	a.Unblock()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrAllocatorClosed)
	case <-time.After(time.Second):
		t.Fatal("Unblock did not release waiting allocator")
	}
}

func TestInput_MetadataIngestionRules(t *testing.T) {
	in := NewInput(4)
	video := &frame.Metadata{Kind: frame.StreamKindVideoPkt, Codec: "h264_annexb"}
	audio := &frame.Metadata{Kind: frame.StreamKindAudioPkt, Codec: "aac_adts"}

	f1 := frame.New(4, video)
	require.NoError(t, in.Push(f1))
	assert.Same(t, video, in.Metadata())

	f2 := frame.New(4, audio)
	err := in.Push(f2)
	assert.ErrorIs(t, err, ErrIncompatibleMetadata)
}

func TestFactory_UnknownKind(t *testing.T) {
	f := NewFactory()
	_, err := f.New("does-not-exist", &hostImpl{}, nil)
	assert.ErrorIs(t, err, ErrFilterNotFound)
}
