package modelutil

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/convtran/internal/logger"
	"github.com/samcharles93/convtran/internal/nn"
)

// ErrNoSharedWeights is returned when a transfer matches no parameter.
var ErrNoSharedWeights = errors.New("no shared weight names were found between the models")

// TransferReport lists what a transfer did with each target tensor.
type TransferReport struct {
	Matched   []string // copied
	Unmatched []string // absent from the source or shaped differently
	Skipped   []string // excluded head entries
}

// TransferWeights copies every tensor of m whose name is present in src
// with the same shape. With excludeHead set, names containing "head" are
// left untouched. Unmatched names are reported, not fatal; a transfer that
// matches nothing returns ErrNoSharedWeights and leaves m unchanged. A name
// present in src with a different shape counts as unmatched, so a source
// sharing every name but no shape also returns ErrNoSharedWeights.
func TransferWeights(ctx context.Context, m nn.Module, src *Checkpoint, excludeHead bool) (TransferReport, error) {
	log := logger.FromContext(ctx)

	var report TransferReport
	for _, e := range nn.StateDict(m) {
		if excludeHead && strings.Contains(e.Name, "head") {
			report.Skipped = append(report.Skipped, e.Name)
			continue
		}
		in, ok := src.Tensors[e.Name]
		if !ok {
			report.Unmatched = append(report.Unmatched, e.Name)
			continue
		}
		if !in.SameShape(e.Tensor) {
			log.Debug("shape differs", "name", e.Name, "source", in.Shape(), "target", e.Tensor.Shape())
			report.Unmatched = append(report.Unmatched, e.Name)
			continue
		}
		e.Tensor.CopyFrom(in)
		report.Matched = append(report.Matched, e.Name)
	}

	if len(report.Matched) == 0 {
		return report, ErrNoSharedWeights
	}
	if len(report.Unmatched) > 0 {
		log.Warn("weights transferred with unmatched layers",
			"matched", len(report.Matched),
			"unmatched", len(report.Unmatched),
			"skipped", len(report.Skipped),
			"first_unmatched", report.Unmatched[0],
		)
	} else {
		log.Info("weights successfully transferred",
			"matched", len(report.Matched),
			"skipped", len(report.Skipped),
		)
	}
	return report, nil
}

// String summarises the report in one line.
func (r TransferReport) String() string {
	return fmt.Sprintf("matched=%d unmatched=%d skipped=%d", len(r.Matched), len(r.Unmatched), len(r.Skipped))
}
