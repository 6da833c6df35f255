package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmylchreest/streamforge/internal/config"
	"github.com/jmylchreest/streamforge/internal/dasher"
	"github.com/jmylchreest/streamforge/internal/filters/fmp4mux"
	"github.com/jmylchreest/streamforge/internal/filters/hlssource"
	"github.com/jmylchreest/streamforge/internal/filters/httpsink"
	"github.com/jmylchreest/streamforge/internal/filters/transcoder"
	"github.com/jmylchreest/streamforge/internal/filters/tsdemux"
	"github.com/jmylchreest/streamforge/internal/filters/tsmux"
	"github.com/jmylchreest/streamforge/internal/graph"
	internalhttp "github.com/jmylchreest/streamforge/internal/http"
	"github.com/jmylchreest/streamforge/internal/http/handlers"
	"github.com/jmylchreest/streamforge/internal/httpapi"
	"github.com/jmylchreest/streamforge/internal/observability"
	"github.com/jmylchreest/streamforge/internal/pipelineconfig"
	"github.com/jmylchreest/streamforge/internal/scheduler"
	"github.com/jmylchreest/streamforge/internal/storage"
	"github.com/jmylchreest/streamforge/internal/timerectifier"
	"github.com/jmylchreest/streamforge/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streamforge pipeline daemon",
	Long: `Start the dataflow graph runtime and its introspection HTTP API.

The daemon hosts a Pipeline with a filter registry pre-populated with the
Dasher ("MPEG_DASH"), TimeRectifier ("TimeRectifier"), gRPC transcoder
client ("Transcoder"), HTTP push sink ("HTTP"), HLS pull source
("HLSSource"), MPEG-TS demuxer ("TSDemux"), MPEG-TS muxer ("TSMux"), and
fragmented-MP4 muxer ("FMP4Mux") kinds. Passing --pipeline-config loads a declarative graph
description (modules plus their connections) and starts it; otherwise
the daemon serves only the introspection API over an empty pipeline.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("data-dir", "./data", "Base directory for segment/manifest output")
	serveCmd.Flags().String("pipeline-config", "", "Path to a declarative pipeline graph YAML file (filters + connections); if unset the pipeline starts empty")

	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	sandbox, err := storage.NewSandbox(cfg.Storage.OutputPath())
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	logger.Info("storage sandbox ready", slog.String("base_dir", sandbox.BaseDir()))

	pipeline, factory, err := newPipeline(cfg, logger)
	if err != nil {
		return fmt.Errorf("constructing pipeline: %w", err)
	}

	hasTopology := false
	pipelineConfigPath, _ := cmd.Flags().GetString("pipeline-config")
	if pipelineConfigPath != "" {
		data, err := os.ReadFile(pipelineConfigPath)
		if err != nil {
			return fmt.Errorf("reading pipeline config %q: %w", pipelineConfigPath, err)
		}
		spec, err := pipelineconfig.Parse(data)
		if err != nil {
			return fmt.Errorf("parsing pipeline config: %w", err)
		}
		if err := spec.Build(pipeline, factory, buildParamDecoders(cfg)); err != nil {
			return fmt.Errorf("building pipeline topology: %w", err)
		}
		hasTopology = true
		logger.Info("pipeline topology loaded",
			slog.String("path", pipelineConfigPath),
			slog.Int("modules", len(spec.Modules)),
			slog.Int("connections", len(spec.Connections)))
	}

	var sweeper *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sweeper = scheduler.New(sandbox, logger)
		sweepCfg := scheduler.Config{
			CronExpr:     cfg.Scheduler.CronExpr,
			RetentionAge: cfg.Dasher.TimeShiftBufferDepth.Duration() + cfg.Dasher.SegmentDuration.Duration(),
			Extensions:   []string{".m4s"},
		}
		if err := sweeper.AddSweep("timeshift-gc", sweepCfg); err != nil {
			return fmt.Errorf("registering timeshift sweep: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop(context.Background())
	}

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version)
	healthHandler.Register(server.API())

	docsHandler := handlers.NewDocsHandler("streamforge API", "/openapi.yaml", handlers.WithSystemTheme())
	server.Router().Get("/docs", docsHandler.ServeHTTP)

	pipelineHandler := httpapi.NewPipelineHandler(pipeline)
	pipelineHandler.Register(server.API())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if hasTopology {
		if err := pipeline.Start(ctx); err != nil {
			return fmt.Errorf("starting pipeline: %w", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		if hasTopology {
			pipeline.ExitSync()
		}
		cancel()
	}()

	logger.Info("starting streamforge daemon",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
		slog.String("executor", cfg.Graph.Executor),
	)

	return server.ListenAndServe(ctx)
}

// newPipeline constructs an empty Pipeline under the configured executor
// policy with a Factory pre-registered with every built-in filter kind,
// ready for a declarative pipeline-config.yaml (see pipelinegraph.go) or
// direct AddFromFactory calls to attach a topology.
func newPipeline(cfg *config.Config, logger *slog.Logger) (*graph.Pipeline, *graph.Factory, error) {
	policy, err := executorPolicy(cfg.Graph.Executor)
	if err != nil {
		return nil, nil, err
	}

	pipeline := graph.NewPipeline(policy, cfg.Graph.SharedPoolSize, logger)
	factory := graph.NewFactory()

	factory.Register("MPEG_DASH", func(host graph.Host, rawConfig any) (graph.Filter, error) {
		dcfg, ok := rawConfig.(dasherFactoryConfig)
		if !ok {
			return nil, fmt.Errorf("MPEG_DASH: expected dasherFactoryConfig, got %T", rawConfig)
		}
		segAlloc := graph.NewAllocator(cfg.Graph.AllocatorSlots, int(cfg.Graph.AllocatorSlotSize))
		manAlloc := graph.NewAllocator(cfg.Graph.AllocatorSlots, int(cfg.Graph.AllocatorSlotSize))
		return dasher.NewDasher(host, dcfg.Config, dcfg.NumInputs, segAlloc, manAlloc, pipeline.Executor())
	})

	factory.Register("TimeRectifier", func(host graph.Host, rawConfig any) (graph.Filter, error) {
		rcfg, ok := rawConfig.(rectifierFactoryConfig)
		if !ok {
			return nil, fmt.Errorf("TimeRectifier: expected rectifierFactoryConfig, got %T", rawConfig)
		}
		return timerectifier.New(host, rcfg.Config, rcfg.NumInputs, pipeline.Executor())
	})

	factory.Register("Transcoder", func(host graph.Host, rawConfig any) (graph.Filter, error) {
		tcfg, ok := rawConfig.(transcoder.Config)
		if !ok {
			return nil, fmt.Errorf("Transcoder: expected transcoder.Config, got %T", rawConfig)
		}
		videoAlloc := graph.NewAllocator(cfg.Graph.AllocatorSlots, int(cfg.Graph.AllocatorSlotSize))
		audioAlloc := graph.NewAllocator(cfg.Graph.AllocatorSlots, int(cfg.Graph.AllocatorSlotSize))
		return transcoder.New(host, tcfg, videoAlloc, audioAlloc, pipeline.Executor())
	})

	factory.Register("HTTP", func(host graph.Host, rawConfig any) (graph.Filter, error) {
		hcfg, ok := rawConfig.(httpsink.Config)
		if !ok {
			return nil, fmt.Errorf("HTTP: expected httpsink.Config, got %T", rawConfig)
		}
		return httpsink.New(host, hcfg)
	})

	factory.Register("HLSSource", func(host graph.Host, rawConfig any) (graph.Filter, error) {
		hcfg, ok := rawConfig.(hlssource.Config)
		if !ok {
			return nil, fmt.Errorf("HLSSource: expected hlssource.Config, got %T", rawConfig)
		}
		videoAlloc := graph.NewAllocator(cfg.Graph.AllocatorSlots, int(cfg.Graph.AllocatorSlotSize))
		audioAlloc := graph.NewAllocator(cfg.Graph.AllocatorSlots, int(cfg.Graph.AllocatorSlotSize))
		return hlssource.New(host, hcfg, videoAlloc, audioAlloc, pipeline.Executor())
	})

	factory.Register("TSDemux", func(host graph.Host, rawConfig any) (graph.Filter, error) {
		tcfg, ok := rawConfig.(tsdemux.Config)
		if !ok {
			return nil, fmt.Errorf("TSDemux: expected tsdemux.Config, got %T", rawConfig)
		}
		videoAlloc := graph.NewAllocator(cfg.Graph.AllocatorSlots, int(cfg.Graph.AllocatorSlotSize))
		audioAlloc := graph.NewAllocator(cfg.Graph.AllocatorSlots, int(cfg.Graph.AllocatorSlotSize))
		return tsdemux.New(host, tcfg, videoAlloc, audioAlloc, pipeline.Executor()), nil
	})

	factory.Register("TSMux", func(host graph.Host, rawConfig any) (graph.Filter, error) {
		tcfg, ok := rawConfig.(tsmux.Config)
		if !ok {
			return nil, fmt.Errorf("TSMux: expected tsmux.Config, got %T", rawConfig)
		}
		alloc := graph.NewAllocator(cfg.Graph.AllocatorSlots, int(cfg.Graph.AllocatorSlotSize))
		return tsmux.New(host, tcfg, alloc, pipeline.Executor()), nil
	})

	factory.Register("FMP4Mux", func(host graph.Host, rawConfig any) (graph.Filter, error) {
		fcfg, ok := rawConfig.(fmp4mux.Config)
		if !ok {
			return nil, fmt.Errorf("FMP4Mux: expected fmp4mux.Config, got %T", rawConfig)
		}
		alloc := graph.NewAllocator(cfg.Graph.AllocatorSlots, int(cfg.Graph.AllocatorSlotSize))
		return fmp4mux.New(host, fcfg, alloc, pipeline.Executor()), nil
	})

	return pipeline, factory, nil
}

// dasherFactoryConfig adapts the Factory's untyped config slot to the
// Dasher's two-part construction signature (representation count plus
// segmenter tunables).
type dasherFactoryConfig struct {
	NumInputs int
	Config    dasher.Config
}

// rectifierFactoryConfig adapts the Factory's untyped config slot to the
// TimeRectifier's two-part construction signature (input pin count plus
// scheduler tunables), mirroring dasherFactoryConfig.
type rectifierFactoryConfig struct {
	NumInputs int
	Config    timerectifier.Config
}

func executorPolicy(name string) (graph.ExecutorPolicy, error) {
	switch name {
	case "mono":
		return graph.Mono, nil
	case "one_per_module":
		return graph.OnePerModule, nil
	case "shared_pool":
		return graph.SharedPool, nil
	default:
		return 0, fmt.Errorf("unknown executor policy %q", name)
	}
}
