package main

import "github.com/urfave/cli/v3"

var (
	modelPath  string
	modelsPath string
	logLevel   string
	logFormat  string
	debug      bool
)

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to .safetensors checkpoint",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory of .safetensors checkpoints to choose from",
			Destination: &modelsPath,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// architectureFlags override fields of a yaml model config.
type architectureFlags struct {
	cIn, cOut, seqLen int64
	embSize, heads    int64
	dimFF             int64
	absPos, relPos    string
	seed              int64
}

func (a *architectureFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{Name: "c-in", Usage: "input channels", Destination: &a.cIn},
		&cli.Int64Flag{Name: "c-out", Usage: "output width", Destination: &a.cOut},
		&cli.Int64Flag{Name: "seq-len", Usage: "series length", Destination: &a.seqLen},
		&cli.Int64Flag{Name: "emb-size", Usage: "embedding width (default 16)", Destination: &a.embSize},
		&cli.Int64Flag{Name: "num-heads", Usage: "attention heads (default 8)", Destination: &a.heads},
		&cli.Int64Flag{Name: "dim-ff", Usage: "feed-forward width (default 256)", Destination: &a.dimFF},
		&cli.StringFlag{Name: "abs-pos", Usage: "absolute encoding (tAPE, sin, learned, none)", Destination: &a.absPos},
		&cli.StringFlag{Name: "rel-pos", Usage: "relative encoding (eRPE, vector, none)", Destination: &a.relPos},
		&cli.Int64Flag{Name: "seed", Usage: "weight initialisation seed", Destination: &a.seed},
	}
}
