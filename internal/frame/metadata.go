package frame

// StreamKind is the closed set of stream kinds a Metadata may describe.
type StreamKind int

const (
	StreamKindUnknown StreamKind = iota
	StreamKindAudioPkt
	StreamKindVideoPkt
	StreamKindAudioRaw
	StreamKindVideoRaw
	StreamKindSubtitle
	StreamKindPlaylist
	StreamKindSegment
)

func (k StreamKind) String() string {
	switch k {
	case StreamKindAudioPkt:
		return "audio-pkt"
	case StreamKindVideoPkt:
		return "video-pkt"
	case StreamKindAudioRaw:
		return "audio-raw"
	case StreamKindVideoRaw:
		return "video-raw"
	case StreamKindSubtitle:
		return "subtitle"
	case StreamKindPlaylist:
		return "playlist"
	case StreamKindSegment:
		return "segment"
	default:
		return "unknown"
	}
}

// Metadata is the immutable descriptor attached to a pin and/or a Frame.
// Two Metadata values are compared by structural equality (Equal) for pin
// compatibility, never by pointer identity: a semantically equal update
// replaces the pin's adopted metadata without being treated as a conflict.
type Metadata struct {
	Kind StreamKind
	Codec string
	Width int
	Height int
	SampleRate int
	Channels int
	InitBytes []byte
	Language string

	// File is non-nil when Kind == StreamKindSegment or StreamKindPlaylist;
	// it carries the segment-descriptor fields.
	File *FileMetadata
}

// FileMetadata is the Segment descriptor variant of Metadata.
type FileMetadata struct {
	Filename string
	MimeType string
	Codecs string // RFC6381 codec string
	Language string
	DurationIn180k int64
	Size int64 // INT64_MAX means a DELETE request.
	LatencyIn180k int64
	StartsWithRAP bool
	EOS bool
	Width int // geometry: resolution
	Height int
	SampleRate int // or sample rate
}

// DeleteSize is the sentinel Size value meaning "delete the named file".
const DeleteSize = int64(1<<63 - 1)

// IsDelete reports whether this FileMetadata is a DELETE artifact.
func (fm *FileMetadata) IsDelete() bool {
	return fm != nil && fm.Size == DeleteSize
}

// Equal reports structural equality between two Metadata pointers, treating
// nil as a distinct "no metadata yet" state (never equal to a non-nil value).
func (m *Metadata) Equal(other *Metadata) bool {
	if m == other {
		return true
	}
	if m == nil || other == nil {
		return false
	}
	if m.Kind != other.Kind || m.Codec != other.Codec ||
		m.Width != other.Width || m.Height != other.Height ||
		m.SampleRate != other.SampleRate || m.Channels != other.Channels ||
		m.Language != other.Language {
		return false
	}
	if len(m.InitBytes) != len(other.InitBytes) {
		return false
	}
	for i := range m.InitBytes {
		if m.InitBytes[i] != other.InitBytes[i] {
			return false
		}
	}
	return fileMetadataEqual(m.File, other.File)
}

func fileMetadataEqual(a, b *FileMetadata) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// Compatible reports whether a pin currently holding `current` metadata may
// ingest a Frame carrying `incoming` metadata, per the pin-ingestion
// rules: (1) no metadata yet always adopts, (2)/(3) equal or semantically
// compatible updates the pin, (4) a stream-kind change is incompatible.
func Compatible(current, incoming *Metadata) bool {
	if current == nil {
		return true
	}
	if incoming == nil {
		return true
	}
	return current.Kind == incoming.Kind
}
