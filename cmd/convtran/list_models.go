package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/convtran/internal/logger"
	"github.com/samcharles93/convtran/internal/modelutil"
)

func listModelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "list-models",
		Aliases: []string{"ls", "models"},
		Usage:   "List checkpoints in a models directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "directory of .safetensors checkpoints",
				Destination: &modelsPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelsConfig(cmd, LoadConfig())

			dir := resolveModelsDir(modelsPath)
			if dir == "" {
				return cli.Exit(fmt.Sprintf("error: --models-path is required unless %s is set", envModelsDir), 1)
			}
			models, err := discoverCheckpoints(dir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(models) == 0 {
				log.Info("no models found", "path", dir)
				return nil
			}
			writeModelList(os.Stdout, dir, models)
			return nil
		},
	}
}

func writeModelList(w io.Writer, dir string, models []string) {
	var data [][]string
	for _, m := range models {
		name := modelDisplayName(dir, m)
		size := "?"
		if info, err := os.Stat(m); err == nil {
			size = formatModelSize(info.Size())
		}
		// Checkpoints written by other tools have no config; list them anyway.
		cfg, err := modelutil.ReadConfig(m)
		if err != nil {
			data = append(data, []string{name, size, "", "", "", ""})
			continue
		}
		data = append(data, []string{
			name,
			size,
			fmt.Sprintf("%dx%d", cfg.CIn, cfg.SeqLen),
			strconv.Itoa(cfg.COut),
			string(cfg.AbsPosEncode),
			string(cfg.RelPosEncode),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAME", "SIZE", "INPUT", "OUTPUT", "ABS POS", "REL POS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	_, _ = fmt.Fprintf(w, "\n%d model(s) found in %s\n", len(models), filepath.Clean(dir))
}

func formatModelSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
