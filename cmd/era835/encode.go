package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-era/internal/era"
	"github.com/drfirst/go-era/internal/observability/metrics"
	"github.com/drfirst/go-era/internal/x12/era835"
	"github.com/drfirst/go-era/pkg/workerpool"
)

const stdinSource = "-"

type encodeOptions struct {
	inputs      []string
	outputDir   string
	stdout      bool
	extension   string
	metricsFile string
}

func newEncodeCmd(g *globalOptions) *cobra.Command {
	opts := &encodeOptions{}

	cmd := &cobra.Command{
		Use:   "encode [file...]",
		Short: "Encode remittance JSON documents as 835 files",
		Long: `Reads one or more remittance JSON documents and writes each as an 835 file
named ERA835_<paymentDate>_<checkNumber>.<ext> in the output directory.
Use "-" (the default) to read a single document from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.inputs = append(opts.inputs, args...)
			return runEncode(cmd, g, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.inputs, "input", "i", nil, `input JSON file, "-" for stdin (repeatable)`)
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", "", "output directory (default from config)")
	cmd.Flags().BoolVar(&opts.stdout, "stdout", false, "write the 835 to stdout instead of a file")
	cmd.Flags().StringVar(&opts.extension, "ext", "", "output file extension (default from config)")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus text metrics to this file")

	return cmd
}

func runEncode(cmd *cobra.Command, g *globalOptions, opts *encodeOptions) error {
	cfg, logger, err := g.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	sources := opts.inputs
	if len(sources) == 0 {
		sources = []string{stdinSource}
	}
	if err := checkSources(sources); err != nil {
		return err
	}

	ext := opts.extension
	if ext == "" {
		ext = cfg.Encoder.Extension
	}
	outputDir := opts.outputDir
	if outputDir == "" {
		outputDir = cfg.Encoder.OutputDir
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	encoder := era835.NewEncoder(era835.WithExtension(ext))
	defaults := cfg.Encoder.Interchange()
	stdin := cmd.InOrStdin()

	encodeOne := func(source string) (*era835.Result, error) {
		doc, err := readDocument(source, stdin)
		if err != nil {
			m.RemittancesFailed.WithLabelValues("decode").Inc()
			return nil, err
		}
		start := time.Now()
		res := encoder.Build(doc.WithInterchangeDefaults(defaults))
		m.ObserveEncode(metrics.SourceCLI, res, time.Since(start))
		return res, nil
	}

	results, encodeErr := encodeAll(sources, cfg.Worker.Workers, encodeOne, logger)

	out := cmd.OutOrStdout()
	printed := 0
	for i, res := range results {
		if res == nil {
			continue
		}
		if opts.stdout {
			// interchanges are newline separated; the last one is written as encoded
			if printed > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprint(out, res.Text)
			printed++
			continue
		}
		path, err := writeResult(outputDir, res)
		if err != nil {
			return err
		}
		logger.Info("encoded remittance",
			zap.String("source", sources[i]),
			zap.String("path", path),
			zap.String("interchange_control_number", res.InterchangeControlNumber),
			zap.Int("segment_count", res.SegmentCount))
		fmt.Fprintln(out, path)
	}

	if opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsFile, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return encodeErr
}

// checkSources rejects reading stdin more than once
func checkSources(sources []string) error {
	n := 0
	for _, s := range sources {
		if s == stdinSource {
			n++
		}
	}
	if n > 1 {
		return errors.New(`stdin ("-") may be given only once`)
	}
	return nil
}

// encodeAll encodes sources on a worker pool. Results keep the input order; failed inputs
// leave a nil slot and their errors are joined.
func encodeAll(sources []string, workers int, fn func(string) (*era835.Result, error), logger *zap.Logger) ([]*era835.Result, error) {
	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = min(max(workers, 1), len(sources))
	poolCfg.QueueSize = len(sources)
	poolCfg.MaxRetries = 0

	pool, err := workerpool.New(poolCfg, func(_ context.Context, task *workerpool.Task) *workerpool.Result {
		res, err := fn(task.Payload.(string))
		if err != nil {
			return &workerpool.Result{Error: err}
		}
		return &workerpool.Result{Success: true, Data: res}
	}, logger)
	if err != nil {
		return nil, err
	}
	pool.Start()

	for i, src := range sources {
		if err := pool.Submit(&workerpool.Task{ID: strconv.Itoa(i), Payload: src}); err != nil {
			pool.Stop()
			return nil, err
		}
	}

	results := make([]*era835.Result, len(sources))
	var errs []error
	for range sources {
		r := <-pool.Results()
		if !r.Success {
			errs = append(errs, r.Error)
			continue
		}
		i, _ := strconv.Atoi(r.TaskID)
		results[i] = r.Data.(*era835.Result)
	}

	if err := pool.Stop(); err != nil {
		logger.Warn("worker pool stop", zap.Error(err))
	}
	return results, errors.Join(errs...)
}

func readDocument(source string, stdin io.Reader) (*era.Document, error) {
	if source == stdinSource {
		return era.Decode(stdin, "stdin")
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return era.Decode(f, source)
}

func writeResult(dir string, res *era835.Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(dir, res.Filename)
	if err := os.WriteFile(path, []byte(res.Text), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
