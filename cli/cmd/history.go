package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskstream/archive"
	"github.com/pithecene-io/taskstream/cli/config"
)

// HistoryCommand returns the history command.
// It lists archived stream outcomes. Read-only.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List archived stream outcomes",
		Flags: append([]cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "project",
				Usage: "Only list streams of this project",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of streams to list (0 for all)",
				Value: 20,
			},
			&cli.StringFlag{
				Name:  "archive-backend",
				Usage: "Archive backend: fs or s3",
				Value: "fs",
			},
			&cli.StringFlag{
				Name:  "archive-path",
				Usage: "Archive location (fs: directory, s3: bucket/prefix)",
			},
			&cli.StringFlag{
				Name:  "archive-dataset",
				Usage: "Archive dataset ID",
				Value: archive.DefaultDataset,
			},
			&cli.StringFlag{
				Name:  "archive-region",
				Usage: "AWS region for the s3 backend",
			},
			&cli.StringFlag{
				Name:  "archive-endpoint",
				Usage: "Custom S3 endpoint (MinIO, R2)",
			},
			&cli.BoolFlag{
				Name:  "archive-s3-path-style",
				Usage: "Use path-style S3 addressing",
			},
		}, OutputFlags()...),
		Action: historyAction,
	}
}

// HistoryEntry is one row of history output.
type HistoryEntry struct {
	StreamID      string    `json:"stream_id"`
	ProjectID     string    `json:"project_id"`
	Status        string    `json:"status"`
	StatusCode    int       `json:"status_code,omitempty"`
	ProgressCount int64     `json:"progress_count"`
	DurationMs    int64     `json:"duration_ms"`
	StartedAt     time.Time `json:"started_at"`
	Message       string    `json:"message,omitempty"`
}

func historyAction(c *cli.Context) error {
	cfg, err := config.LoadOptional(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	a := archiveChoice{
		backend:   resolveString(c, "archive-backend", configVal(cfg, func(c *config.Config) string { return c.Archive.Backend })),
		path:      resolveString(c, "archive-path", configVal(cfg, func(c *config.Config) string { return c.Archive.Path })),
		dataset:   resolveString(c, "archive-dataset", configVal(cfg, func(c *config.Config) string { return c.Archive.Dataset })),
		region:    resolveString(c, "archive-region", configVal(cfg, func(c *config.Config) string { return c.Archive.Region })),
		endpoint:  resolveString(c, "archive-endpoint", configVal(cfg, func(c *config.Config) string { return c.Archive.Endpoint })),
		pathStyle: resolveBool(c, "archive-s3-path-style", configVal(cfg, func(c *config.Config) bool { return c.Archive.S3PathStyle })),
	}
	if !a.enabled() {
		return cli.Exit("--archive-path is required (flag or archive.path in config)", exitInvalidInput)
	}
	if err := validateArchiveChoice(a); err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	if c.Int("limit") < 0 {
		return cli.Exit("--limit must be >= 0", exitInvalidInput)
	}

	r, err := newRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	factory, err := archiveFactory(c, a)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	ds, err := archive.NewReadDataset(archive.Config{Dataset: a.dataset}, factory)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	outcomes, err := archive.QueryOutcomes(c.Context, ds, c.String("project"), c.Int("limit"))
	if err != nil {
		return fmt.Errorf("query archive: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(outcomes))
	for _, out := range outcomes {
		entries = append(entries, HistoryEntry{
			StreamID:      out.StreamID,
			ProjectID:     out.ProjectID,
			Status:        string(out.Status),
			StatusCode:    out.StatusCode,
			ProgressCount: out.ProgressCount,
			DurationMs:    out.DurationMs,
			StartedAt:     out.StartedAt,
			Message:       out.Message,
		})
	}
	return r.Render(entries)
}

func archiveFactory(c *cli.Context, a archiveChoice) (lode.StoreFactory, error) {
	switch a.backend {
	case "fs", "":
		return lode.NewFSFactory(a.path), nil
	case "s3":
		bucket, prefix := archive.ParseS3Path(a.path)
		return archive.NewS3Factory(c.Context, archive.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       a.region,
			Endpoint:     a.endpoint,
			UsePathStyle: a.pathStyle,
		})
	default:
		return nil, errors.New("unknown archive backend: " + a.backend)
	}
}
