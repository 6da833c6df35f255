package transcoder

import (
	"time"

	"github.com/jmylchreest/streamforge/pkg/ffmpegd/types"
)

// Config configures a Filter's connection to a remote streamforge-ffmpegd daemon.
type Config struct {
	// Address is the daemon's dial target, e.g. "127.0.0.1:9090" or
	// "unix:///tmp/streamforge/ffmpegd.sock".
	Address string

	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration

	// Insecure disables transport security, matching a trusted-network
	// subprocess/sidecar deployment (mirrors the daemon's internal Unix
	// socket path, which needs no TLS).
	Insecure bool

	// Job describes the requested transcode: source/target codecs and
	// encoding parameters, sent once when the stream is opened.
	Job *types.TranscodeConfig
}
