package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/convtran/internal/model"
	"github.com/samcharles93/convtran/internal/modelutil"
	"github.com/samcharles93/convtran/internal/nn"
)

func summaryCmd() *cli.Command {
	var showStats bool

	return &cli.Command{
		Name:  "summary",
		Usage: "Print the layers, parameter counts and output size of a checkpoint",
		Flags: append(modelFlags(),
			&cli.BoolFlag{
				Name:        "stats",
				Usage:       "also print per-layer weight and bias statistics",
				Destination: &showStats,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, m, err := loadSelectedModel(cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return writeSummary(os.Stdout, m, showStats)
		},
	}
}

func writeSummary(w io.Writer, m *model.Model, showStats bool) error {
	cfg := m.Config
	tableRender := func(header string, headerRow []string, rows [][]string) {
		fmt.Fprintln(w, " ", header)
		table := tablewriter.NewWriter(w)
		if headerRow != nil {
			table.SetHeader(headerRow)
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
		}
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		table.AppendBulk(rows)
		table.Render()
		fmt.Fprintln(w)
	}

	featC, featL, err := modelutil.OutputSize(m.Backbone(), cfg.CIn, cfg.SeqLen)
	if err != nil {
		return err
	}
	tableRender("Model", nil, [][]string{
		{"", "input", fmt.Sprintf("(batch, %d, %d)", cfg.CIn, cfg.SeqLen)},
		{"", "features", fmt.Sprintf("(batch, %d, %d)", featC, featL)},
		{"", "output", "(batch, " + joinInts(cfg.OutputShape()) + ")"},
		{"", "abs position", string(cfg.AbsPosEncode)},
		{"", "rel position", string(cfg.RelPosEncode)},
		{"", "heads", strconv.Itoa(cfg.NumHeads)},
		{"", "parameters", strconv.Itoa(modelutil.CountParameters(m, false))},
		{"", "trainable", strconv.Itoa(modelutil.CountParameters(m, true))},
	})

	var rows [][]string
	for _, l := range modelutil.Layers(m, modelutil.IsAffine) {
		rows = append(rows, []string{
			l.Path,
			nn.TypeName(l.Module),
			shapeOf(l.Module, "weight"),
			strconv.Itoa(modelutil.CountParameters(l.Module, false)),
		})
	}
	tableRender("Layers", []string{"NAME", "TYPE", "WEIGHT", "PARAMS"}, rows)

	if showStats {
		var rows [][]string
		for _, s := range modelutil.WeightStats(m) {
			rows = append(rows, []string{s.Path, "weight", fmt.Sprintf("%.4g", s.Mean), fmt.Sprintf("%.4g", s.Std)})
		}
		for _, s := range modelutil.BiasStats(m) {
			rows = append(rows, []string{s.Path, "bias", fmt.Sprintf("%.4g", s.Mean), fmt.Sprintf("%.4g", s.Std)})
		}
		tableRender("Statistics", []string{"NAME", "TENSOR", "MEAN", "STD"}, rows)
	}
	return nil
}

func shapeOf(m nn.Module, name string) string {
	s, ok := m.(nn.Stateful)
	if !ok {
		return ""
	}
	for _, e := range s.State() {
		if e.Name == name {
			return "[" + joinInts(e.Tensor.Shape()) + "]"
		}
	}
	return ""
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ", ")
}
