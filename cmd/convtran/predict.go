package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/convtran/internal/api"
	"github.com/samcharles93/convtran/internal/logger"
	"github.com/samcharles93/convtran/internal/tensor"
)

type predictOutput struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

func predictCmd() *cli.Command {
	var (
		inputPath string
		outPath   string
		features  bool
	)

	return &cli.Command{
		Name:  "predict",
		Usage: "Run a checkpoint on a JSON batch of series",
		Flags: append(modelFlags(),
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       `JSON file {"inputs": [[[...]]]} indexed [sample][channel][time], or - for stdin`,
				Value:       "-",
				Destination: &inputPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "write the result here instead of stdout",
				Destination: &outPath,
			},
			&cli.BoolFlag{
				Name:        "features",
				Usage:       "return backbone features instead of head output",
				Destination: &features,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			path, m, err := loadSelectedModel(cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			req, err := readPredictRequest(inputPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read input: %v", err), 1)
			}
			x, err := packInputs(req.Inputs)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			var y *tensor.Tensor
			if features {
				y, err = m.Features(x)
			} else {
				y, err = m.Predict(x)
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Debug("prediction complete", "model", path, "input", x.Shape(), "output", y.Shape())

			if err := writePrediction(outPath, predictOutput{Shape: y.Shape(), Data: y.Data()}); err != nil {
				return cli.Exit(fmt.Sprintf("error: write output: %v", err), 1)
			}
			return nil
		},
	}
}

func readPredictRequest(path string) (api.PredictRequest, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return api.PredictRequest{}, err
		}
		defer f.Close()
		r = f
	}
	var req api.PredictRequest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return api.PredictRequest{}, err
	}
	return req, nil
}

// writePrediction encodes out to path, or to stdout when path is empty.
func writePrediction(path string, out predictOutput) error {
	if path == "" {
		return json.NewEncoder(os.Stdout).Encode(out)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(out); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// packInputs flattens a [sample][channel][time] batch, rejecting ragged input.
// Agreement with the model shape is checked by Predict.
func packInputs(inputs [][][]float32) (*tensor.Tensor, error) {
	if len(inputs) == 0 || len(inputs[0]) == 0 {
		return nil, fmt.Errorf("inputs is empty")
	}
	b, c, l := len(inputs), len(inputs[0]), len(inputs[0][0])
	data := make([]float32, 0, b*c*l)
	for i, sample := range inputs {
		if len(sample) != c {
			return nil, fmt.Errorf("inputs[%d] has %d channels, inputs[0] has %d", i, len(sample), c)
		}
		for ch, series := range sample {
			if len(series) != l {
				return nil, fmt.Errorf("inputs[%d][%d] has %d steps, inputs[0][0] has %d", i, ch, len(series), l)
			}
			data = append(data, series...)
		}
	}
	return tensor.FromData(data, b, c, l), nil
}
