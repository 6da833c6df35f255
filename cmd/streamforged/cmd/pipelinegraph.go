package cmd

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/streamforge/internal/clock"
	"github.com/jmylchreest/streamforge/internal/config"
	"github.com/jmylchreest/streamforge/internal/dasher"
	"github.com/jmylchreest/streamforge/internal/filters/fmp4mux"
	"github.com/jmylchreest/streamforge/internal/filters/hlssource"
	"github.com/jmylchreest/streamforge/internal/filters/httpsink"
	"github.com/jmylchreest/streamforge/internal/filters/transcoder"
	"github.com/jmylchreest/streamforge/internal/filters/tsdemux"
	"github.com/jmylchreest/streamforge/internal/filters/tsmux"
	"github.com/jmylchreest/streamforge/internal/frame"
	"github.com/jmylchreest/streamforge/internal/pipelineconfig"
	"github.com/jmylchreest/streamforge/internal/storage"
	"github.com/jmylchreest/streamforge/internal/timerectifier"
	"github.com/jmylchreest/streamforge/pkg/ffmpegd/types"
)

// tileInfoParam is the YAML shape of a Dasher SRD tile descriptor; it
// mirrors dasher.TileInfo field-for-field since the domain type itself
// carries no yaml tags.
type tileInfoParam struct {
	SourceID string `yaml:"source_id"`
	X        int    `yaml:"x"`
	Y        int    `yaml:"y"`
	W        int    `yaml:"w"`
	H        int    `yaml:"h"`
	TotalW   int    `yaml:"total_w"`
	TotalH   int    `yaml:"total_h"`
}

// dasherParams is the YAML config shape for a "MPEG_DASH" module, the
// declarative analogue of dasherFactoryConfig.
type dasherParams struct {
	NumInputs                int             `yaml:"num_inputs"`
	Live                     bool            `yaml:"live"`
	Format                   string          `yaml:"format"`
	ID                       string          `yaml:"id"`
	SegmentDurationInMs      int64           `yaml:"segment_duration_ms"`
	TimeShiftBufferDepthInMs int64           `yaml:"timeshift_buffer_depth_ms"`
	MinBufferTimeInMs        int64           `yaml:"min_buffer_time_ms"`
	MinUpdatePeriodInMs      int64           `yaml:"min_update_period_ms"`
	MultiPeriodFoldersInMs   int64           `yaml:"multi_period_folders_ms"`
	BaseURLPrefixes          []string        `yaml:"base_url_prefixes"`
	InitialOffsetInMs        int64           `yaml:"initial_offset_ms"`
	SegmentsNotOwned         bool            `yaml:"segments_not_owned"`
	PresignalNextSegment     bool            `yaml:"presignal_next_segment"`
	ForceRealDurations       bool            `yaml:"force_real_durations"`
	TileInfo                 []tileInfoParam `yaml:"tile_info"`
}

func (p dasherParams) toFactoryConfig() dasherFactoryConfig {
	tiles := make([]dasher.TileInfo, len(p.TileInfo))
	for i, t := range p.TileInfo {
		tiles[i] = dasher.TileInfo{
			SourceID: t.SourceID, X: t.X, Y: t.Y, W: t.W, H: t.H,
			TotalW: t.TotalW, TotalH: t.TotalH,
		}
	}
	format := dasher.FormatDASH
	if p.Format == "hls" {
		format = dasher.FormatHLS
	}
	return dasherFactoryConfig{
		NumInputs: p.NumInputs,
		Config: dasher.Config{
			Live:                     p.Live,
			Format:                   format,
			ID:                       p.ID,
			SegmentDurationInMs:      p.SegmentDurationInMs,
			TimeShiftBufferDepthInMs: p.TimeShiftBufferDepthInMs,
			MinBufferTimeInMs:        p.MinBufferTimeInMs,
			MinUpdatePeriodInMs:      p.MinUpdatePeriodInMs,
			MultiPeriodFoldersInMs:   p.MultiPeriodFoldersInMs,
			BaseURLPrefixes:          p.BaseURLPrefixes,
			InitialOffsetInMs:        p.InitialOffsetInMs,
			SegmentsNotOwned:         p.SegmentsNotOwned,
			PresignalNextSegment:     p.PresignalNextSegment,
			ForceRealDurations:       p.ForceRealDurations,
			TileInfo:                 tiles,
			UTCClock:                 clock.System{},
		},
	}
}

// rectifierParams is the YAML config shape for a "TimeRectifier" module.
type rectifierParams struct {
	NumInputs           int   `yaml:"num_inputs"`
	FrameRateNum        int   `yaml:"frame_rate_num"`
	FrameRateDen        int   `yaml:"frame_rate_den"`
	AnalyzeWindowIn180k int64 `yaml:"analyze_window_180k"`
	InputCapacity       int   `yaml:"input_capacity"`
	OutputAllocCapacity int   `yaml:"output_alloc_capacity"`
	OutputSlotSize      int   `yaml:"output_slot_size"`
}

// transcoderParams is the YAML config shape for a "Transcoder" module.
type transcoderParams struct {
	Address       string `yaml:"address"`
	DialTimeoutMs int64  `yaml:"dial_timeout_ms"`
	Insecure      bool   `yaml:"insecure"`
}

// httpSinkParams is the YAML config shape for an "HTTP" sink module.
type httpSinkParams struct {
	BaseURL       string `yaml:"base_url"`
	Method        string `yaml:"method"`
	MirrorDir     string `yaml:"mirror_dir"`
	QueueCapacity int    `yaml:"queue_capacity"`
	Encoding      string `yaml:"encoding"`
	TimeoutMs     int64  `yaml:"timeout_ms"`
}

// hlsSourceParams is the YAML config shape for an "HLSSource" module.
type hlsSourceParams struct {
	URL           string `yaml:"url"`
	QueueCapacity int    `yaml:"queue_capacity"`
}

func (p hlsSourceParams) toFactoryConfig() hlssource.Config {
	return hlssource.Config{
		URL:           p.URL,
		QueueCapacity: p.QueueCapacity,
	}
}

// tsDemuxParams is the YAML config shape for a "TSDemux" module.
type tsDemuxParams struct {
	InputCapacity      int `yaml:"input_capacity"`
	VideoAllocCapacity int `yaml:"video_alloc_capacity"`
	VideoSlotSize      int `yaml:"video_slot_size"`
	AudioAllocCapacity int `yaml:"audio_alloc_capacity"`
	AudioSlotSize      int `yaml:"audio_slot_size"`
}

func (p tsDemuxParams) toFactoryConfig() tsdemux.Config {
	return tsdemux.Config{
		InputCapacity:      p.InputCapacity,
		VideoAllocCapacity: p.VideoAllocCapacity,
		VideoSlotSize:      p.VideoSlotSize,
		AudioAllocCapacity: p.AudioAllocCapacity,
		AudioSlotSize:      p.AudioSlotSize,
	}
}

// tsMuxParams is the YAML config shape for a "TSMux" module.
type tsMuxParams struct {
	VideoCodec          string `yaml:"video_codec"`
	AudioCodec          string `yaml:"audio_codec"`
	InputCapacity       int    `yaml:"input_capacity"`
	OutputAllocCapacity int    `yaml:"output_alloc_capacity"`
	OutputSlotSize      int    `yaml:"output_slot_size"`
}

func (p tsMuxParams) toFactoryConfig() tsmux.Config {
	return tsmux.Config{
		VideoCodec:          p.VideoCodec,
		AudioCodec:          p.AudioCodec,
		InputCapacity:       p.InputCapacity,
		OutputAllocCapacity: p.OutputAllocCapacity,
		OutputSlotSize:      p.OutputSlotSize,
	}
}

// fmp4MuxParams is the YAML config shape for an "FMP4Mux" module. Kind
// selects which single elementary stream ("video" or "audio") this module
// instance muxes, mirroring the one-representation-per-Dasher-Input
// topology every FMP4Mux instance feeds.
type fmp4MuxParams struct {
	Kind                  string `yaml:"kind"`
	Codec                 string `yaml:"codec"`
	Width                 int    `yaml:"width"`
	Height                int    `yaml:"height"`
	SampleRate            int    `yaml:"sample_rate"`
	Channels              int    `yaml:"channels"`
	SegmentDurationIn180k int64  `yaml:"segment_duration_180k"`
	InputCapacity         int    `yaml:"input_capacity"`
	OutputAllocCapacity   int    `yaml:"output_alloc_capacity"`
	OutputSlotSize        int    `yaml:"output_slot_size"`
}

func (p fmp4MuxParams) toFactoryConfig() fmp4mux.Config {
	kind := frame.StreamKindVideoRaw
	if p.Kind == "audio" {
		kind = frame.StreamKindAudioRaw
	}
	return fmp4mux.Config{
		Kind:                  kind,
		Codec:                 p.Codec,
		Width:                 p.Width,
		Height:                p.Height,
		SampleRate:            p.SampleRate,
		Channels:              p.Channels,
		SegmentDurationIn180k: p.SegmentDurationIn180k,
		InputCapacity:         p.InputCapacity,
		OutputAllocCapacity:   p.OutputAllocCapacity,
		OutputSlotSize:        p.OutputSlotSize,
	}
}

func decodeYAML[T any](node *yaml.Node) (T, error) {
	var v T
	if node != nil && node.Kind != 0 {
		if err := node.Decode(&v); err != nil {
			return v, fmt.Errorf("decoding module config: %w", err)
		}
	}
	return v, nil
}

// buildParamDecoders returns the pipelineconfig.Registry wiring every
// registered factory kind's YAML shape to its typed config value, so a
// declarative pipeline-config.yaml can describe a full topology without
// cmd/streamforged needing a bespoke loader per kind.
func buildParamDecoders(cfg *config.Config) pipelineconfig.Registry {
	return pipelineconfig.Registry{
		"MPEG_DASH": func(node *yaml.Node) (any, error) {
			p, err := decodeYAML[dasherParams](node)
			if err != nil {
				return nil, err
			}
			return p.toFactoryConfig(), nil
		},
		"TimeRectifier": func(node *yaml.Node) (any, error) {
			p, err := decodeYAML[rectifierParams](node)
			if err != nil {
				return nil, err
			}
			return rectifierFactoryConfig{
				NumInputs: p.NumInputs,
				Config: timerectifier.Config{
					FrameRateNum:        orDefault(p.FrameRateNum, cfg.Rectifier.FPSNum),
					FrameRateDen:        orDefault(p.FrameRateDen, cfg.Rectifier.FPSDen),
					AnalyzeWindowIn180k: p.AnalyzeWindowIn180k,
					Clock:               clock.System{},
					InputCapacity:       p.InputCapacity,
					OutputAllocCapacity: p.OutputAllocCapacity,
					OutputSlotSize:      p.OutputSlotSize,
				},
			}, nil
		},
		"Transcoder": func(node *yaml.Node) (any, error) {
			p, err := decodeYAML[transcoderParams](node)
			if err != nil {
				return nil, err
			}
			address := p.Address
			if address == "" {
				address = cfg.Transcoder.Address
			}
			dialTimeout := cfg.Transcoder.DialTimeout.Duration()
			if p.DialTimeoutMs > 0 {
				dialTimeout = time.Duration(p.DialTimeoutMs) * time.Millisecond
			}
			return transcoder.Config{
				Address:     address,
				DialTimeout: dialTimeout,
				Insecure:    p.Insecure || cfg.Transcoder.Insecure,
				Job:         &types.TranscodeConfig{},
			}, nil
		},
		"HTTP": func(node *yaml.Node) (any, error) {
			p, err := decodeYAML[httpSinkParams](node)
			if err != nil {
				return nil, err
			}
			sinkCfg := httpsink.DefaultConfig()
			sinkCfg.BaseURL = p.BaseURL
			if p.Method != "" {
				sinkCfg.Method = p.Method
			}
			if p.QueueCapacity > 0 {
				sinkCfg.QueueCapacity = p.QueueCapacity
			}
			if p.Encoding != "" {
				sinkCfg.Encoding = httpsink.Encoding(p.Encoding)
			}
			if p.TimeoutMs > 0 {
				sinkCfg.Timeout = time.Duration(p.TimeoutMs) * time.Millisecond
			}
			if p.MirrorDir != "" {
				sandbox, err := storage.NewSandbox(p.MirrorDir)
				if err != nil {
					return nil, fmt.Errorf("HTTP module: mirror_dir: %w", err)
				}
				sinkCfg.Mirror = sandbox
			}
			return sinkCfg, nil
		},
		"HLSSource": func(node *yaml.Node) (any, error) {
			p, err := decodeYAML[hlsSourceParams](node)
			if err != nil {
				return nil, err
			}
			return p.toFactoryConfig(), nil
		},
		"TSDemux": func(node *yaml.Node) (any, error) {
			p, err := decodeYAML[tsDemuxParams](node)
			if err != nil {
				return nil, err
			}
			return p.toFactoryConfig(), nil
		},
		"TSMux": func(node *yaml.Node) (any, error) {
			p, err := decodeYAML[tsMuxParams](node)
			if err != nil {
				return nil, err
			}
			return p.toFactoryConfig(), nil
		},
		"FMP4Mux": func(node *yaml.Node) (any, error) {
			p, err := decodeYAML[fmp4MuxParams](node)
			if err != nil {
				return nil, err
			}
			return p.toFactoryConfig(), nil
		},
	}
}

func orDefault(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
