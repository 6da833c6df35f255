package httpsink

import (
	"net/http"
	"time"

	"github.com/jmylchreest/streamforge/internal/storage"
)

// Config configures an HTTP push sink.
type Config struct {
	// BaseURL is the origin the sink PUTs segment/manifest artifacts to;
	// each Frame's FileMetadata.Filename is resolved relative to it.
	BaseURL string

	// Method is the HTTP method used for uploads (default PUT).
	Method string

	// Mirror, if non-nil, also persists every artifact locally through a
	// sandboxed directory before (or instead of, on a BaseURL-less config)
	// the network upload.
	Mirror *storage.Sandbox

	// QueueCapacity bounds the producer/consumer upload queue; Process
	// blocks (via the condition variable, not the allocator) once it is
	// full, matching the back-pressure described for this plugin.
	QueueCapacity int

	// Encoding selects the Content-Encoding negotiated for each upload body.
	Encoding Encoding

	// SessionPrefix is the literal prelude injected at the start of the
	// body on every new connection (including reconnects), per
	// plugin-config-defined "end-of-session suffix" semantics.
	SessionPrefix []byte

	// Client is the underlying HTTP client; a zero value uses
	// http.DefaultClient with Timeout applied.
	Client *http.Client

	// Timeout bounds each individual upload attempt, applied to Client if
	// Client is nil.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults: no compression, a 64-item queue,
// and a 30s per-request timeout.
func DefaultConfig() Config {
	return Config{
		Method:        http.MethodPut,
		QueueCapacity: 64,
		Encoding:      EncodingNone,
		Timeout:       30 * time.Second,
	}
}
