package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/convtran/internal/model"
	"github.com/samcharles93/convtran/internal/modelutil"
	"github.com/samcharles93/convtran/internal/tensor"
)

type diffStats struct {
	MaxAbs      float64
	MeanAbs     float64
	RMSE        float64
	Cosine      float64
	Top1A       int
	Top1B       int
	Top1Match   bool
	TopKOverlap int
	Length      int
}

func compareCmd() *cli.Command {
	var (
		pathA     string
		pathB     string
		inputPath string
		batch     int64
		seed      int64
		topK      int64
		features  bool
		quiet     bool
	)

	return &cli.Command{
		Name:  "compare",
		Usage: "Compare the outputs of two checkpoints on the same batch",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "a", Usage: "first checkpoint", Destination: &pathA, Required: true},
			&cli.StringFlag{Name: "b", Usage: "second checkpoint", Destination: &pathB, Required: true},
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "JSON batch as accepted by predict (default: random batch)",
				Destination: &inputPath,
			},
			&cli.Int64Flag{Name: "batch", Usage: "random batch size", Value: 8, Destination: &batch},
			&cli.Int64Flag{Name: "seed", Usage: "random batch seed", Value: 1, Destination: &seed},
			&cli.Int64Flag{Name: "topk", Usage: "top-k overlap to report", Value: 3, Destination: &topK},
			&cli.BoolFlag{Name: "features", Usage: "compare backbone features", Destination: &features},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "print only the summary", Destination: &quiet},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := modelutil.LoadModel(pathA)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load %s: %v", pathA, err), 1)
			}
			b, err := modelutil.LoadModel(pathB)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load %s: %v", pathB, err), 1)
			}
			if a.Config.CIn != b.Config.CIn || a.Config.SeqLen != b.Config.SeqLen {
				return cli.Exit(fmt.Sprintf("error: input shapes differ: (%d, %d) vs (%d, %d)",
					a.Config.CIn, a.Config.SeqLen, b.Config.CIn, b.Config.SeqLen), 1)
			}

			var x *tensor.Tensor
			if inputPath != "" {
				req, err := readPredictRequest(inputPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: read input: %v", err), 1)
				}
				if x, err = packInputs(req.Inputs); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			} else {
				if batch <= 0 {
					return cli.Exit("error: --batch must be > 0", 2)
				}
				x = tensor.Rand(seed, int(batch), a.Config.CIn, a.Config.SeqLen)
			}

			ya, yb, err := runPair(a, b, x, features)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if !slices.Equal(ya.Shape(), yb.Shape()) {
				return cli.Exit(fmt.Sprintf("error: output shapes differ: %v vs %v", ya.Shape(), yb.Shape()), 1)
			}

			fmt.Printf("A=%s\n", pathA)
			fmt.Printf("B=%s\n", pathB)
			writeComparison(os.Stdout, ya, yb, int(topK), quiet)
			return nil
		},
	}
}

func runPair(a, b *model.Model, x *tensor.Tensor, features bool) (*tensor.Tensor, *tensor.Tensor, error) {
	run := (*model.Model).Predict
	if features {
		run = (*model.Model).Features
	}
	ya, err := run(a, x)
	if err != nil {
		return nil, nil, err
	}
	yb, err := run(b, x)
	if err != nil {
		return nil, nil, err
	}
	return ya, yb, nil
}

// writeComparison diffs a and b one sample at a time.
func writeComparison(w io.Writer, a, b *tensor.Tensor, topK int, quiet bool) diffAccumulator {
	n := a.Dim(0)
	row := a.Len() / n
	acc := diffAccumulator{}
	for i := range n {
		stats := diffOutputs(a.Data()[i*row:(i+1)*row], b.Data()[i*row:(i+1)*row], topK)
		acc.add(stats)
		if !quiet {
			_, _ = fmt.Fprintf(w,
				"sample[%d] top1_a=%d top1_b=%d match=%v top%d=%d max_abs=%.6g mean_abs=%.6g rmse=%.6g cos=%.6g\n",
				i, stats.Top1A, stats.Top1B, stats.Top1Match, topK, stats.TopKOverlap,
				stats.MaxAbs, stats.MeanAbs, stats.RMSE, stats.Cosine,
			)
		}
	}
	if acc.count > 0 {
		_, _ = fmt.Fprintf(w, "Summary samples=%d max_abs=%.6g mean_abs=%.6g rmse=%.6g cos=%.6g top1_match=%.2f%% top%d_overlap=%.2f\n",
			acc.count,
			acc.maxAbs,
			acc.meanAbs/float64(acc.count),
			acc.rmse/float64(acc.count),
			acc.cos/float64(acc.count),
			100.0*float64(acc.top1Match)/float64(acc.count),
			topK,
			float64(acc.topKOverlap)/float64(acc.count),
		)
	}
	return acc
}

type diffAccumulator struct {
	count       int
	maxAbs      float64
	meanAbs     float64
	rmse        float64
	cos         float64
	top1Match   int
	topKOverlap int
}

func (a *diffAccumulator) add(s diffStats) {
	a.count++
	if s.MaxAbs > a.maxAbs {
		a.maxAbs = s.MaxAbs
	}
	a.meanAbs += s.MeanAbs
	a.rmse += s.RMSE
	a.cos += s.Cosine
	if s.Top1Match {
		a.top1Match++
	}
	a.topKOverlap += s.TopKOverlap
}

func diffOutputs(a, b []float32, topK int) diffStats {
	n := min(len(a), len(b))
	if n == 0 {
		return diffStats{}
	}
	var (
		sumAbs float64
		sumSq  float64
		dot    float64
		normA  float64
		normB  float64
		maxAbs float64
	)
	top1A, top1B := 0, 0
	for i := range n {
		da := float64(a[i])
		db := float64(b[i])
		diff := math.Abs(da - db)
		sumAbs += diff
		sumSq += diff * diff
		maxAbs = max(maxAbs, diff)
		dot += da * db
		normA += da * da
		normB += db * db
		if a[i] > a[top1A] {
			top1A = i
		}
		if b[i] > b[top1B] {
			top1B = i
		}
	}
	cos := 0.0
	if normA > 0 && normB > 0 {
		cos = dot / (math.Sqrt(normA) * math.Sqrt(normB))
	}

	overlap := 0
	if topK > 1 {
		seen := make(map[int]struct{}, topK)
		for _, idx := range topKIndices(a[:n], topK) {
			seen[idx] = struct{}{}
		}
		for _, idx := range topKIndices(b[:n], topK) {
			if _, ok := seen[idx]; ok {
				overlap++
			}
		}
	}

	return diffStats{
		MaxAbs:      maxAbs,
		MeanAbs:     sumAbs / float64(n),
		RMSE:        math.Sqrt(sumSq / float64(n)),
		Cosine:      cos,
		Top1A:       top1A,
		Top1B:       top1B,
		Top1Match:   top1A == top1B,
		TopKOverlap: overlap,
		Length:      n,
	}
}

// topKIndices returns the indices of the k largest values, largest first.
func topKIndices(vals []float32, k int) []int {
	if k <= 0 {
		return nil
	}
	k = min(k, len(vals))
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(x, y int) int {
		switch {
		case vals[x] > vals[y]:
			return -1
		case vals[x] < vals[y]:
			return 1
		}
		return 0
	})
	return idx[:k]
}
