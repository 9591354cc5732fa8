package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"sextant/internal/engine"
	"sextant/internal/search"
	"sextant/pkg/config"
	"sextant/pkg/logging"
	"sextant/pkg/models"
)

const exportBatchSize = 5000

type exportOptions struct {
	org        string
	stream     string
	streamType string
	startTime  int64
	endTime    int64
	dir        string
	fileType   string
}

func newExportCmd() *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stream data to local JSON files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.org, "org", "default", "organization id")
	cmd.Flags().StringVar(&opts.stream, "stream", "", "stream name to export")
	cmd.Flags().StringVar(&opts.streamType, "stream-type", "logs", "stream type (logs, metrics, traces)")
	cmd.Flags().Int64Var(&opts.startTime, "start", 0, "range start (microseconds since epoch)")
	cmd.Flags().Int64Var(&opts.endTime, "end", 0, "range end (microseconds since epoch)")
	cmd.Flags().StringVar(&opts.dir, "dir", ".", "output directory")
	cmd.Flags().StringVar(&opts.fileType, "file-type", "json", "output file type (only json is supported)")
	_ = cmd.MarkFlagRequired("stream")

	return cmd
}

func runExport(ctx context.Context, opts *exportOptions) error {
	if opts.fileType != "json" {
		return fmt.Errorf("unsupported file type %q: only json is supported", opts.fileType)
	}
	if opts.endTime == 0 {
		opts.endTime = time.Now().UnixMicro()
	}
	if opts.startTime >= opts.endTime {
		return fmt.Errorf("range start must be before range end")
	}
	if err := os.MkdirAll(opts.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	logger := logging.NewLoggerWithService("sextantctl")
	client := engine.NewClient(engine.Config{
		BaseURL:      config.RequireEnv("QUERIER_URL"),
		ServiceToken: config.GetEnv("SERVICE_TOKEN", ""),
		Logger:       logger,
	})

	sql, err := search.EnsureOrderByTimestamp(search.DefaultSQL(opts.stream), false)
	if err != nil {
		return err
	}

	exported := 0
	for from := int64(0); ; from += exportBatchSize {
		query := &models.SearchQuery{
			SQL:       sql,
			From:      from,
			Size:      exportBatchSize,
			StartTime: opts.startTime,
			EndTime:   opts.endTime,
		}
		resp, err := client.Search(ctx, "", opts.org, models.ParseStreamType(opts.streamType), "", query)
		if err != nil {
			return fmt.Errorf("export query failed: %w", err)
		}
		if len(resp.Hits) == 0 {
			break
		}

		if err := writeBatch(opts.dir, resp.Hits); err != nil {
			return err
		}
		exported += len(resp.Hits)
		logger.WithFields(logging.Fields{
			"stream":   opts.stream,
			"exported": exported,
		}).Info("Exported batch")

		if int64(len(resp.Hits)) < exportBatchSize {
			break
		}
	}

	logger.WithField("total", exported).Info("Export finished")
	return nil
}

// writeBatch writes one hit batch as pretty JSON named by the current
// time in microseconds.
func writeBatch(dir string, hits []json.RawMessage) error {
	data, err := json.MarshalIndent(hits, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.json", time.Now().UnixMicro()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
