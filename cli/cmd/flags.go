// Package cmd provides the commands of the llmer binary.
package cmd

import (
	"context"
	"fmt"

	lodelibrary "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/llmer/cli/config"
	"github.com/justapithecus/llmer/lode"
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for select read-only commands (inspect, stats).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect, stats only)",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// StorageReadFlags returns the flags locating a recorded dataset.
func StorageReadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to llmer.yaml (storage settings are read from it)"},
		&cli.StringFlag{Name: "storage", Usage: "Storage backend: fs or s3"},
		&cli.StringFlag{Name: "storage-path", Usage: "Storage path (fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "dataset", Usage: "Lode dataset ID (default: \"llmer\")"},
		&cli.StringFlag{Name: "storage-region", Usage: "AWS region for the s3 backend"},
		&cli.StringFlag{Name: "storage-endpoint", Usage: "Custom endpoint for S3-compatible providers"},
		&cli.BoolFlag{Name: "s3-path-style", Usage: "Force path-style S3 addressing"},
	}
}

// readStorageConfig merges the optional config file with storage flags.
func readStorageConfig(c *cli.Context) (config.StorageConfig, error) {
	var sc config.StorageConfig
	if path := c.String("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return sc, err
		}
		sc = cfg.Storage
	}

	if c.IsSet("storage") {
		sc.Backend = c.String("storage")
	}
	if c.IsSet("storage-path") {
		sc.Path = c.String("storage-path")
	}
	if c.IsSet("dataset") {
		sc.Dataset = c.String("dataset")
	}
	if c.IsSet("storage-region") {
		sc.Region = c.String("storage-region")
	}
	if c.IsSet("storage-endpoint") {
		sc.Endpoint = c.String("storage-endpoint")
	}
	if c.IsSet("s3-path-style") {
		sc.S3PathStyle = c.Bool("s3-path-style")
	}
	if sc.Dataset == "" {
		sc.Dataset = lode.DefaultDataset
	}
	return sc, nil
}

// openReadDataset opens the Lode dataset a serve process recorded into.
func openReadDataset(ctx context.Context, sc config.StorageConfig) (lodelibrary.Dataset, error) {
	if sc.Path == "" {
		return nil, fmt.Errorf("--storage-path is required")
	}
	switch sc.Backend {
	case "fs":
		return lode.NewReadDatasetFS(sc.Dataset, sc.Path)
	case "s3":
		factory, err := lode.NewS3StoreFactory(ctx, s3ConfigFor(sc))
		if err != nil {
			return nil, err
		}
		return lode.NewReadDataset(sc.Dataset, factory)
	case "file":
		return nil, fmt.Errorf("the file backend writes per-session CSV files; read them directly or record with fs or s3")
	default:
		return nil, fmt.Errorf("unsupported storage backend: %q (must be fs or s3)", sc.Backend)
	}
}

func s3ConfigFor(sc config.StorageConfig) lode.S3Config {
	bucket, prefix := lode.ParseS3Path(sc.Path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       sc.Region,
		Endpoint:     sc.Endpoint,
		UsePathStyle: sc.S3PathStyle,
	}
}
