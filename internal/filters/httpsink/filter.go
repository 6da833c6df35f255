// Package httpsink implements the HTTP push sink: a graph.Filter with no
// outputs that uploads segment and manifest Frames to an HTTP origin (and
// optionally mirrors them to a local sandboxed directory), per the
// producer/consumer-queue-plus-dedicated-transfer-thread design.
package httpsink

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/jmylchreest/streamforge/internal/frame"
	"github.com/jmylchreest/streamforge/internal/graph"
)

type item struct {
	filename string
	data []byte
	mimeType string
	isDelete bool
}

// Filter uploads every segment/manifest Frame it receives to an HTTP
// origin. It never blocks the graph thread on network I/O: Process only
// enqueues, and a single dedicated goroutine drains the queue.
type Filter struct {
	host graph.Host
	cfg Config
	in *graph.Input
	client *http.Client

	mu sync.Mutex
	cond *sync.Cond
	queue []*item
	closed bool
	transferDone chan struct{}
}

// New validates cfg and starts the dedicated transfer goroutine.
func New(host graph.Host, cfg Config) (*Filter, error) {
	if cfg.BaseURL == "" && cfg.Mirror == nil {
		return nil, fmt.Errorf("httpsink: config must set BaseURL, Mirror, or both")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPut
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	f := &Filter{
		host: host,
		cfg: cfg,
		in: graph.NewInput(32),
		client: client,
		transferDone: make(chan struct{}),
	}
	f.cond = sync.NewCond(&f.mu)
	go f.transferLoop()
	return f, nil
}

func (f *Filter) NumInputs() int { return 1 }
func (f *Filter) Input(i int) *graph.Input { return f.in }
func (f *Filter) NumOutputs() int { return 0 }
func (f *Filter) Output(i int) *graph.Output { return nil }

// Process drains every currently-queued Frame into the upload queue and
// reports ErrEOS once the input has drained and disconnected.
func (f *Filter) Process() error {
	for {
		fr := f.in.TryPop()
		if fr == nil {
			break
		}
		f.enqueue(fr)
		fr.Release()
	}
	if f.in.ConnectionCount() == 0 && f.in.Empty() {
		return graph.ErrEOS
	}
	return nil
}

func (f *Filter) enqueue(fr *frame.Frame) {
	meta := fr.Metadata()
	if meta == nil || meta.File == nil {
		f.host.Log(graph.LogWarning, "httpsink: dropping frame with no file metadata")
		return
	}
	it := &item{
		filename: meta.File.Filename,
		mimeType: meta.File.MimeType,
		isDelete: meta.File.IsDelete(),
	}
	if !it.isDelete {
		it.data = append([]byte(nil), fr.Data()...)
	}

	f.mu.Lock()
	for len(f.queue) >= f.cfg.QueueCapacity && !f.closed {
		f.cond.Wait()
	}
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.queue = append(f.queue, it)
	f.cond.Signal()
	f.mu.Unlock()
}

// transferLoop is the dedicated transfer thread: it blocks on the
// condition variable while the queue is empty, and exits once Flush has
// signaled closed and the queue has drained to empty.
func (f *Filter) transferLoop() {
	for {
		f.mu.Lock()
		for len(f.queue) == 0 && !f.closed {
			f.cond.Wait()
		}
		if len(f.queue) == 0 && f.closed {
			f.mu.Unlock()
			close(f.transferDone)
			return
		}
		it := f.queue[0]
		f.queue = f.queue[1:]
		f.cond.Signal()
		f.mu.Unlock()

		f.deliver(it)
	}
}

func (f *Filter) deliver(it *item) {
	if f.cfg.Mirror != nil {
		if err := f.mirror(it); err != nil {
			f.host.Log(graph.LogWarning, "httpsink: local mirror write failed", "filename", it.filename, "error", err)
		}
	}
	if f.cfg.BaseURL == "" {
		return
	}

	// Transient I/O is retried once within the plugin; persistent failure
	// surfaces via log only, never as a pipeline exception.
	err := f.upload(it)
	if err != nil {
		err = f.upload(it)
	}
	if err != nil {
		f.host.Log(graph.LogWarning, "httpsink: persistent upload failure", "filename", it.filename, "error", err)
	}
}

func (f *Filter) mirror(it *item) error {
	if it.isDelete {
		return f.cfg.Mirror.Remove(it.filename)
	}
	return f.cfg.Mirror.AtomicWrite(it.filename, it.data)
}

func (f *Filter) upload(it *item) error {
	url := f.cfg.BaseURL + "/" + it.filename
	if it.isDelete {
		req, err := http.NewRequest(http.MethodDelete, url, nil)
		if err != nil {
			return fmt.Errorf("httpsink: building delete request: %w", err)
		}
		return f.do(req)
	}

	var body bytes.Buffer
	body.Write(f.cfg.SessionPrefix)
	cw, err := newCompressor(&body, f.cfg.Encoding)
	if err != nil {
		return err
	}
	if _, err := cw.Write(it.data); err != nil {
		return fmt.Errorf("httpsink: compressing body: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("httpsink: closing compressor: %w", err)
	}

	req, err := http.NewRequest(f.cfg.Method, url, &body)
	if err != nil {
		return fmt.Errorf("httpsink: building request: %w", err)
	}
	if it.mimeType != "" {
		req.Header.Set("Content-Type", it.mimeType)
	}
	if f.cfg.Encoding != EncodingNone {
		req.Header.Set("Content-Encoding", string(f.cfg.Encoding))
	}
	return f.do(req)
}

func (f *Filter) do(req *http.Request) error {
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpsink: request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("httpsink: unexpected status %d for %s", resp.StatusCode, req.URL)
	}
	return nil
}

// Flush signals the transfer thread to drain the queue to empty and
// blocks until it has done so, matching "flush is a drain-to-empty plus a
// completion signal".
func (f *Filter) Flush() error {
	f.mu.Lock()
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()
	<-f.transferDone
	return nil
}
