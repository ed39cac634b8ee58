package process

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"fontdl/download"
	"fontdl/state"
)

// Run is the action of fetch command.
func Run(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("fetch")

	if cmd.IsSet("concurrency") {
		n := cmd.Int("concurrency")
		if n < 1 {
			return fmt.Errorf("concurrency must be positive, got %d", n)
		}
		env.Cfg.Concurrency = int(n)
	}
	if cmd.IsSet("out") {
		dir, err := filepath.Abs(cmd.String("out"))
		if err != nil {
			return fmt.Errorf("unable to resolve output directory: %w", err)
		}
		env.Cfg.OutDir = dir
	}
	if cmd.Args().Len() > 0 {
		log.Warn("Malformed command line, unexpected arguments", zap.Strings("ignoring", cmd.Args().Slice()))
	}
	if len(env.Cfg.Sources) == 0 {
		log.Warn("No sources configured, output directory will be empty")
	}

	fetcher := download.NewHTTPFetcher(download.Options{
		Timeout:      env.Cfg.Download.Timeout,
		MaxBodyBytes: env.Cfg.Download.MaxBodyBytes,
	})

	log.Info("Processing starting",
		zap.Int("sources", len(env.Cfg.Sources)),
		zap.String("destination", env.Cfg.ResolvePath(env.Cfg.OutDir)),
		zap.Int("concurrency", env.Cfg.Concurrency))
	defer func(start time.Time) {
		log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	return Process(ctx, env.Cfg, fetcher, env.Rpt, log)
}
