// Package hlssource pulls an upstream HLS presentation through gohlslib's
// Client and re-emits its elementary streams as Frames: Annex-B video
// access units on Output 0 and audio access units on Output 1, with
// presentation/decoding times rescaled from the 90kHz HLS clock to the
// runtime's 180kHz clock.
package hlssource

import "net/http"

// Config configures an hlssource Filter.
type Config struct {
	// URL is the upstream multivariant or media playlist URL.
	URL string

	// HTTPClient overrides the client used for playlist and segment
	// fetches; nil selects http.DefaultClient.
	HTTPClient *http.Client

	// QueueCapacity bounds the internal callback-to-Process handoff queue.
	QueueCapacity int
}

func (c Config) withDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 128
	}
	return c
}
