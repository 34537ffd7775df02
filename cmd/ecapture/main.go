// ecapture captures plaintext passing through OpenSSL and NSPR calls of
// already-running processes, via uprobes, without touching the target
// binary or its keys.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zxd1994/ecapture/internal/bpfloader"
	"github.com/zxd1994/ecapture/internal/config"
	"github.com/zxd1994/ecapture/internal/eventstream"
	"github.com/zxd1994/ecapture/internal/filter"
	"github.com/zxd1994/ecapture/internal/memread"
	"github.com/zxd1994/ecapture/internal/openssl"
	"github.com/zxd1994/ecapture/internal/otel"
	"github.com/zxd1994/ecapture/internal/output"
	"github.com/zxd1994/ecapture/internal/probe"
	"github.com/zxd1994/ecapture/internal/procname"
	"github.com/zxd1994/ecapture/internal/sink"
	"github.com/zxd1994/ecapture/internal/timesync"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg, err := config.Parse()

	cmd := &cobra.Command{
		Use:     "ecapture",
		Short:   "Capture TLS plaintext from running processes via uprobes",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Args:    cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if err != nil {
				return err
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	if err != nil {
		// Flags still need a struct to bind to; PreRunE reports the error.
		cfg = &config.Config{}
	}

	fl := cmd.Flags()
	fl.Uint32Var(&cfg.TargetPID, "pid", cfg.TargetPID, "capture only this process id (0 = all)")
	fl.StringVar(&cfg.LibSSL, "libssl", cfg.LibSSL, "path to libssl to instrument (empty = skip OpenSSL probes)")
	fl.StringVar(&cfg.LibNSPR, "libnspr", cfg.LibNSPR, "path to libnspr4 to instrument (empty = skip NSPR probes)")
	fl.StringVar(&cfg.LibC, "libc", cfg.LibC, "path to libc for the connect() probe (empty = skip)")
	fl.StringVar(&cfg.OpenSSLVersion, "openssl-version", cfg.OpenSSLVersion,
		fmt.Sprintf("OpenSSL release line for struct offsets %v", openssl.Versions()))
	fl.StringVar(&cfg.Filter, "filter", cfg.Filter, `event predicate, e.g. 'comm == "curl" && direction == "write"'`)
	fl.BoolVar(&cfg.HexDump, "hex", cfg.HexDump, "hex dump captured payloads")
	fl.BoolVar(&cfg.OTELEnabled, "otel", cfg.OTELEnabled, "export connection events as OpenTelemetry spans")
	fl.IntVar(&cfg.DataChannelSize, "data-events", cfg.DataChannelSize, "data event channel capacity")
	fl.IntVar(&cfg.ConnChannelSize, "conn-events", cfg.ConnChannelSize, "connection event channel capacity")
	fl.IntVar(&cfg.RegistryCapacity, "pending-calls", cfg.RegistryCapacity, "pending-call store capacity per direction")

	return cmd
}

// setupOTEL initializes the OTEL provider and returns a tracer and cleanup function.
func setupOTEL(log *zap.Logger) (trace.Tracer, func(), error) {
	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, nil, err
	}

	tp, err := otel.InitProvider(otelCfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OTEL provider: %w", err)
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(tp, shutdownCtx); err != nil {
			log.Warn("error shutting down OTEL provider", zap.Error(err))
		}
	}

	return tp.Tracer("ecapture"), cleanup, nil
}

// setupBPF loads the BPF objects and plants the configured uprobes.
// Returns the loader and a cleanup function that detaches everything.
func setupBPF(cfg *config.Config, log *zap.Logger) (*bpfloader.Loader, func(), error) {
	loader, err := bpfloader.New()
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := loader.Close(); err != nil {
			log.Warn("error closing loader", zap.Error(err))
		}
	}

	if cfg.LibSSL != "" {
		if err := loader.AttachOpenSSL(cfg.LibSSL); err != nil {
			cleanup()
			return nil, nil, err
		}
		log.Info("attached OpenSSL probes", zap.String("library", cfg.LibSSL))
	}
	if cfg.LibNSPR != "" {
		if err := loader.AttachNSPR(cfg.LibNSPR); err != nil {
			cleanup()
			return nil, nil, err
		}
		log.Info("attached NSPR probes", zap.String("library", cfg.LibNSPR))
	}
	if cfg.LibC != "" {
		if err := loader.AttachConnect(cfg.LibC); err != nil {
			cleanup()
			return nil, nil, err
		}
		log.Info("attached connect probe", zap.String("library", cfg.LibC))
	}

	return loader, cleanup, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck // stderr sync failure is unactionable

	log.Info("starting ecapture", zap.String("version", version), zap.String("commit", commit))

	offsets, err := openssl.OffsetsFor(cfg.OpenSSLVersion)
	if err != nil {
		return err
	}

	var flt *filter.Filter
	if cfg.Filter != "" {
		flt, err = filter.Compile(cfg.Filter, log)
		if err != nil {
			return err
		}
	}

	comms, err := procname.NewResolver(cfg.CommCacheSize)
	if err != nil {
		return err
	}

	converter, err := timesync.NewConverter()
	if err != nil {
		return fmt.Errorf("failed to create time converter: %w", err)
	}

	var spans *output.SpanEmitter
	if cfg.OTELEnabled {
		tracer, cleanupOTEL, err := setupOTEL(log)
		if err != nil {
			return err
		}
		defer cleanupOTEL()
		spans = output.NewSpanEmitter(tracer, converter)
	}

	events := sink.New(cfg.DataChannelSize, cfg.ConnChannelSize)
	engine, err := probe.NewEngine(probe.Params{
		TargetPID:        cfg.TargetPID,
		RegistryCapacity: cfg.RegistryCapacity,
		Offsets:          offsets,
		Mem:              memread.ProcessVM{},
		Comms:            comms,
		Filter:           flt,
		Sink:             events,
		Logger:           log,
	})
	if err != nil {
		return err
	}

	loader, cleanupBPF, err := setupBPF(cfg, log)
	if err != nil {
		return err
	}
	defer cleanupBPF()

	rd, err := loader.OpenRingBuffer()
	if err != nil {
		return err
	}
	rdClosed := false
	closeRingBuffer := func() {
		if rdClosed {
			return
		}
		rdClosed = true
		if err := rd.Close(); err != nil {
			log.Warn("error closing ring buffer", zap.Error(err))
		}
	}
	defer closeRingBuffer()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := eventstream.New(rd, engine, log)
	if err := stream.Start(ctx); err != nil {
		return err
	}

	console := output.NewConsole(log, converter, cfg.HexDump, engine.Release, spans)
	consoleDone := make(chan struct{})
	go func() {
		console.Run(ctx, events)
		close(consoleDone)
	}()

	log.Info("capturing", zap.Uint32("pid", cfg.TargetPID))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("received signal, shutting down")
	case <-ctx.Done():
	}

	// Let in-flight firings drain before tearing the pipeline down.
	time.Sleep(500 * time.Millisecond)

	if err := stream.Stop(); err != nil {
		log.Warn("error stopping stream", zap.Error(err))
	}
	// Closing the ring buffer unblocks the stream's pending Read; wait for
	// the dispatch loop to exit before closing the event channels it
	// publishes to.
	closeRingBuffer()
	<-stream.Done()
	events.Close()
	<-consoleDone

	dataDrops, connDrops := events.Drops()
	reads, writes := engine.PendingCalls()
	log.Info("capture finished",
		zap.Uint64("dropped_data_events", dataDrops),
		zap.Uint64("dropped_connection_events", connDrops),
		zap.Int("orphaned_reads", reads),
		zap.Int("orphaned_writes", writes),
	)

	return nil
}
