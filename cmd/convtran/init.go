package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/convtran/internal/logger"
	"github.com/samcharles93/convtran/internal/model"
	"github.com/samcharles93/convtran/internal/modelutil"
)

func initCmd() *cli.Command {
	var (
		configFile string
		outPath    string
		arch       architectureFlags
	)

	return &cli.Command{
		Name:  "init",
		Usage: "Build a freshly initialised model and save it as a checkpoint",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "yaml model config",
				Destination: &configFile,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output .safetensors path",
				Destination: &outPath,
				Required:    true,
			},
		}, arch.flags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			cfg, err := resolveModelConfig(cmd, configFile, &arch)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			m, err := model.New(cfg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := modelutil.SaveModel(outPath, m); err != nil {
				return cli.Exit(fmt.Sprintf("error: save %s: %v", outPath, err), 1)
			}
			log.Info("model initialised",
				"path", outPath,
				"params", modelutil.CountParameters(m, false),
				"abs_pos", m.Config.AbsPosEncode,
				"rel_pos", m.Config.RelPosEncode,
				"seed", m.Config.Seed,
			)
			return nil
		},
	}
}

// resolveModelConfig reads an optional yaml config and applies flag
// overrides on top of it.
func resolveModelConfig(cmd *cli.Command, path string, arch *architectureFlags) (model.Config, error) {
	var cfg model.Config
	if path != "" {
		var err error
		cfg, err = model.LoadConfig(path)
		if err != nil {
			return model.Config{}, err
		}
	}
	arch.apply(cmd, &cfg, LoadConfig())
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}
