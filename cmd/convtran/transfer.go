package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/convtran/internal/logger"
	"github.com/samcharles93/convtran/internal/model"
	"github.com/samcharles93/convtran/internal/modelutil"
)

func transferCmd() *cli.Command {
	var (
		sourcePath  string
		targetPath  string
		configFile  string
		outPath     string
		excludeHead bool
		arch        architectureFlags
	)

	return &cli.Command{
		Name:  "transfer",
		Usage: "Copy matching weights from a checkpoint into a new model",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "source",
				Aliases:     []string{"s"},
				Usage:       "checkpoint to copy weights from",
				Destination: &sourcePath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "target",
				Usage:       "checkpoint defining the target model (otherwise built from --config and flags)",
				Destination: &targetPath,
			},
			&cli.StringFlag{
				Name:        "config",
				Usage:       "yaml model config for the target",
				Destination: &configFile,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output .safetensors path",
				Destination: &outPath,
				Required:    true,
			},
			&cli.BoolFlag{
				Name:        "exclude-head",
				Usage:       "leave head weights at their initial values",
				Value:       true,
				Destination: &excludeHead,
			},
		}, arch.flags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			var (
				target *model.Model
				err    error
			)
			if targetPath != "" {
				target, err = modelutil.LoadModel(targetPath)
			} else {
				var cfg model.Config
				cfg, err = resolveModelConfig(cmd, configFile, &arch)
				if err == nil {
					target, err = model.New(cfg)
				}
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: target: %v", err), 1)
			}

			src, err := modelutil.LoadCheckpoint(sourcePath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load %s: %v", sourcePath, err), 1)
			}
			report, err := modelutil.TransferWeights(ctx, target, src, excludeHead)
			if errors.Is(err, modelutil.ErrNoSharedWeights) {
				return cli.Exit(fmt.Sprintf("error: %s and the target model share no weights", sourcePath), 1)
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			for _, name := range report.Unmatched {
				log.Debug("not transferred", "name", name)
			}

			if err := modelutil.SaveModel(outPath, target); err != nil {
				return cli.Exit(fmt.Sprintf("error: save %s: %v", outPath, err), 1)
			}
			log.Info("transfer saved", "path", outPath, "report", report.String())
			return nil
		},
	}
}
