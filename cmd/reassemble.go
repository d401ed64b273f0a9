package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/pktstack/internal/config"
	"firestige.xyz/pktstack/internal/decoder"
	"firestige.xyz/pktstack/internal/metrics"
	"firestige.xyz/pktstack/internal/pipeline"
	"firestige.xyz/pktstack/internal/reassembly"
	"firestige.xyz/pktstack/internal/sink"
	"firestige.xyz/pktstack/internal/source"
)

var reassembleCmd = &cobra.Command{
	Use:   "reassemble <capture>...",
	Short: "Reassemble TCP streams from capture files",
	Long: `Read pcap or pcapng captures, reassemble IPv4 fragments and TCP streams,
and hand every stream to the sink. Each file is processed by its own pipeline,
all files concurrently.

Without an output directory, a one-line summary per stream is printed.

Examples:
  pktstack reassemble trace.pcap
  pktstack reassemble -o streams/ --compression zstd a.pcapng b.pcap
  pktstack -c pktstack.yml reassemble --metrics trace.pcap`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if outDir != "" {
			cfg.Sink.Dir = outDir
		}
		if compression != "" {
			cfg.Sink.Compression = compression
		}
		if withMetrics {
			cfg.Metrics.Enabled = true
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runReassemble(ctx, cfg, args, cmd.OutOrStdout())
	},
}

var (
	outDir      string
	compression string
	withMetrics bool
)

func init() {
	reassembleCmd.Flags().StringVarP(&outDir, "out", "o", "",
		"directory for stream files (overrides sink.dir)")
	reassembleCmd.Flags().StringVar(&compression, "compression", "",
		"stream file compression: none, zstd, s2 or lz4 (overrides sink.compression)")
	reassembleCmd.Flags().BoolVar(&withMetrics, "metrics", false,
		"serve Prometheus metrics while running (overrides metrics.enabled)")
}

// runReassemble processes every capture in its own pipeline.
func runReassemble(ctx context.Context, c *config.Config, paths []string, out io.Writer) error {
	snk, err := newSink(c.Sink, out)
	if err != nil {
		return err
	}
	defer snk.Close()

	if c.Metrics.Enabled {
		srv := metrics.NewServer(c.Metrics.Listen, c.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop(context.Background())
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, path := range paths {
		path := path
		filter, err := source.NewFilter(c.Source.FilterConfig())
		if err != nil {
			return err
		}
		src, err := source.NewFileSource(path, filter)
		if err != nil {
			return err
		}
		dec := decoder.NewStandardDecoder(decoder.Config{Fragment: c.Reassembly.IP.FragmentConfig()})
		p := pipeline.New(pipeline.Config{
			Name:    filepath.Base(path),
			Source:  src,
			Decoder: dec,
			Expirer: dec.Fragments(),
			Streams: reassembly.NewStreamTracker(c.Reassembly.Stream.StreamConfig()),
			Sinks:   []sink.Sink{snk},
		})
		g.Go(func() error {
			if err := p.Run(gctx); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			stats := p.Stats()
			slog.Info("capture processed",
				"file", path,
				"packets", stats.Received,
				"decode_errors", stats.DecodeErrors,
				"streams", stats.Streams,
				"sink_errors", stats.SinkErrors)
			return nil
		})
	}
	return g.Wait()
}

// newSink picks the file sink when a directory is configured, the console
// otherwise.
func newSink(c config.SinkConfig, out io.Writer) (sink.Sink, error) {
	if c.Dir == "" {
		return sink.NewConsoleSink(out), nil
	}
	return sink.NewFileSink(c.FileConfig())
}
